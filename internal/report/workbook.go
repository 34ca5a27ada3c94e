// Package report exports what a run computed to an Excel workbook for review before
// a rebalance is committed.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/pkg/model"
)

const (
	SheetConstituents = "Constituents"
	SheetCandidates   = "Candidates"
	SheetRejections   = "Rejections"
	SheetValues       = "Values"
)

var headers = map[string][]interface{}{
	SheetConstituents: {"Index", "Period", "Effective From", "Rank", "Item", "Weight", "Ranking Score", "Price", "Liquidity", "New"},
	SheetCandidates:   {"Index", "As Of", "Item", "Tier", "Price", "Provenance", "Price Note", "Liquidity", "Method", "Volume Days", "Avg Volume 30d", "Trading Days 30d"},
	SheetRejections:   {"Index", "Stage", "Date", "Item", "Rule", "Detail"},
	SheetValues:       {"Index", "Date", "Status", "Value", "Ratio", "Coverage", "Method", "Constituents", "Market Cap", "1D %", "1W %", "1M %", "Skip Reason"},
}

var sheetOrder = []string{SheetConstituents, SheetCandidates, SheetRejections, SheetValues}

// Build lays out the reports in a new workbook. The caller closes it.
func Build(rebalances []*orchestrator.RebalanceReport, daily []*orchestrator.DailyReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheetOrder[0]); err != nil {
		_ = f.Close()
		return nil, err
	}
	for _, name := range sheetOrder[1:] {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	w := &writer{f: f, next: make(map[string]int)}
	for _, name := range sheetOrder {
		w.row(name, headers[name]...)
	}

	for _, rep := range rebalances {
		if rep == nil {
			continue
		}
		w.rebalance(rep)
	}
	for _, rep := range daily {
		if rep == nil {
			continue
		}
		w.daily(rep)
	}

	if w.err != nil {
		_ = f.Close()
		return nil, w.err
	}
	return f, nil
}

// WriteFile builds the workbook and saves it to path.
func WriteFile(path string, rebalances []*orchestrator.RebalanceReport, daily []*orchestrator.DailyReport) error {
	f, err := Build(rebalances, daily)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report %s: %w", path, err)
	}
	return nil
}

// writer appends rows per sheet and keeps the first error.
type writer struct {
	f    *excelize.File
	next map[string]int
	err  error
}

func (w *writer) row(sheet string, values ...interface{}) {
	if w.err != nil {
		return
	}
	w.next[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, w.next[sheet])
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &values)
}

func (w *writer) rebalance(rep *orchestrator.RebalanceReport) {
	set := rep.Set
	for _, c := range set.Constituents {
		w.row(SheetConstituents, set.IndexCode, set.Period.String(), set.EffectiveFrom.Format(model.DayLayout),
			c.Rank, c.ItemID, c.Weight, c.RankingScore, c.Price, c.LiquidityScore, c.IsNew)
	}
	asOf := rep.AsOf.Format(model.DayLayout)
	for _, c := range rep.Candidates {
		w.row(SheetCandidates, set.IndexCode, asOf, c.Item.ID, c.Item.Tier,
			model.Round(c.Price.Price, model.PricePlaces), string(c.Price.Provenance), c.Price.Reason,
			model.Round(c.Liquidity.Score, model.ScorePlaces), string(c.Liquidity.Method), c.Liquidity.VolumeDays,
			c.Activity.AvgVolume, c.Activity.TradingDays)
	}
	for _, d := range rep.Rejected {
		w.row(SheetRejections, set.IndexCode, "eligibility", d.Date.Format(model.DayLayout), d.ItemID, d.Rule, d.Detail)
	}
}

func (w *writer) daily(rep *orchestrator.DailyReport) {
	code := rep.Run.IndexCode
	for _, d := range rep.Excluded {
		w.row(SheetRejections, code, "chain", d.Date.Format(model.DayLayout), d.ItemID, d.Rule, d.Detail)
	}

	switch {
	case rep.Value != nil:
		v := rep.Value
		w.row(SheetValues, code, v.Date.Format(model.DayLayout), string(rep.Run.Status), v.Value, v.Ratio, v.Coverage,
			v.Method, v.NConstituents, v.TotalMarketCap, pct(v.Changes.Day), pct(v.Changes.Week), pct(v.Changes.Month), "")
	case rep.Skip != nil:
		s := rep.Skip
		w.row(SheetValues, code, s.Date.Format(model.DayLayout), string(rep.Run.Status), "", "", s.Coverage,
			"", len(rep.Set.Constituents), "", "", "", "", s.Reason)
	}
}

// pct renders an absent change as an empty cell.
func pct(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
