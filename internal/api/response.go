package api

import (
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// IndexSummary is one entry of the index listing.
type IndexSummary struct {
	Code   string            `json:"code"`
	Kind   model.ItemKind    `json:"kind"`
	Size   int               `json:"size"` // 0 = all eligible
	Latest *model.IndexValue `json:"latest,omitempty"`
}

// RebalanceDryRunResponse is the would-be constituent set of a period.
type RebalanceDryRunResponse struct {
	RunID        string               `json:"run_id"`
	AsOf         string               `json:"as_of"`
	Constituents model.ConstituentSet `json:"constituents"`
	Added        []string             `json:"added"`
	Removed      []string             `json:"removed"`
	Candidates   int                  `json:"candidates"`
	Rejected     []model.Decision     `json:"rejected"`
}

// DailyDryRunResponse is the would-be value (or skip) of a date.
type DailyDryRunResponse struct {
	RunID    string            `json:"run_id"`
	Status   model.RunStatus   `json:"status"`
	Value    *model.IndexValue `json:"value,omitempty"`
	Skip     *model.Skip       `json:"skip,omitempty"`
	Excluded []model.Decision  `json:"excluded,omitempty"`
}

func toRebalanceResponse(rep *orchestrator.RebalanceReport) RebalanceDryRunResponse {
	return RebalanceDryRunResponse{
		RunID:        rep.Run.ID.String(),
		AsOf:         rep.AsOf.Format(model.DayLayout),
		Constituents: rep.Set,
		Added:        rep.Added,
		Removed:      rep.Removed,
		Candidates:   len(rep.Candidates),
		Rejected:     rep.Rejected,
	}
}

func toDailyResponse(rep *orchestrator.DailyReport) DailyDryRunResponse {
	return DailyDryRunResponse{
		RunID:    rep.Run.ID.String(),
		Status:   rep.Run.Status,
		Value:    rep.Value,
		Skip:     rep.Skip,
		Excluded: rep.Excluded,
	}
}
