package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// Dry-run kinds.
const (
	DryRunRebalance = "rebalance"
	DryRunDaily     = "daily"
)

// DryRunRequest asks for a computation that is reported but never published.
type DryRunRequest struct {
	Type   string `json:"type"`   // "rebalance" | "daily"
	Period string `json:"period"` // YYYY-MM, rebalance only
	Date   string `json:"date"`   // YYYY-MM-DD; rebalance as-of override or daily value date
}

// Parsed holds the validated fields.
type Parsed struct {
	Type   string
	Period model.Period
	Date   time.Time
}

// Validate checks the request and parses its dates.
func (r DryRunRequest) Validate() (Parsed, error) {
	var p Parsed
	p.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if p.Type == "" {
		p.Type = DryRunRebalance
	}

	if r.Date != "" {
		d, err := model.ParseDay(r.Date)
		if err != nil {
			return p, err
		}
		p.Date = d
	}

	switch p.Type {
	case DryRunRebalance:
		if r.Period == "" {
			return p, errors.New("period is required for a rebalance dry run")
		}
		period, err := model.ParsePeriod(r.Period)
		if err != nil {
			return p, err
		}
		p.Period = period
	case DryRunDaily:
		if p.Date.IsZero() {
			return p, errors.New("date is required for a daily dry run")
		}
	default:
		return p, fmt.Errorf("unknown dry run type %q", r.Type)
	}
	return p, nil
}
