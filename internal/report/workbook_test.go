package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Checker-Finance/market-index/internal/eligibility"
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/pkg/model"
)

var asOf = time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

func rebalanceReport() *orchestrator.RebalanceReport {
	period := model.PeriodOf(asOf.AddDate(0, 0, 1))
	return &orchestrator.RebalanceReport{
		DryRun: true,
		AsOf:   asOf,
		Set: model.ConstituentSet{
			IndexCode:     "RARE_100",
			Period:        period,
			EffectiveFrom: period.Start,
			Constituents: []model.Constituent{
				{ItemID: "A", Rank: 1, Weight: 0.6, RankingScore: 90, Price: 100, LiquidityScore: 0.9, IsNew: true},
				{ItemID: "B", Rank: 2, Weight: 0.4, RankingScore: 60, Price: 75, LiquidityScore: 0.8},
			},
		},
		Candidates: []eligibility.Candidate{
			{
				Item:      model.Item{ID: "A", Tier: "Rare"},
				Price:     model.ResolvedPrice{Price: 100, Provenance: model.ProvenanceFresh},
				Liquidity: model.LiquidityRecord{Score: 0.9, Method: model.MethodVolumeDecay, VolumeDays: 7},
			},
		},
		Rejected: []model.Decision{{ItemID: "C", Rule: eligibility.RuleMaturity, Date: asOf, Detail: "age 12d below 60d"}},
	}
}

func dailyReports() []*orchestrator.DailyReport {
	day := 1.25
	return []*orchestrator.DailyReport{
		{
			Run: model.RunLog{IndexCode: "RARE_100", Status: model.RunDryRun},
			Value: &model.IndexValue{
				IndexCode: "RARE_100", Date: asOf, Value: 101.25, Ratio: 1.0125, Coverage: 1,
				Method: "laspeyres", NConstituents: 2, TotalMarketCap: 175,
				Changes: model.Changes{Day: &day},
			},
		},
		{
			Run:      model.RunLog{IndexCode: "RARE_500", Status: model.RunSkipped},
			Set:      model.ConstituentSet{Constituents: make([]model.Constituent, 3)},
			Skip:     &model.Skip{IndexCode: "RARE_500", Date: asOf, Coverage: 0.5, Reason: "coverage 0.5000 below 0.7000"},
			Excluded: []model.Decision{{ItemID: "X", Rule: "price_today", Date: asOf, Detail: "missing"}},
		},
		nil,
	}
}

func TestBuild_Sheets(t *testing.T) {
	f, err := Build([]*orchestrator.RebalanceReport{rebalanceReport()}, dailyReports())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetConstituents, SheetCandidates, SheetRejections, SheetValues}, f.GetSheetList())

	rows, err := f.GetRows(SheetConstituents)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Index", rows[0][0])
	assert.Equal(t, []string{"RARE_100", "2025-04", "2025-04-01", "1", "A", "0.6", "90", "100", "0.9"}, rows[1][:9])

	rows, err = f.GetRows(SheetRejections)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "eligibility", rows[1][1])
	assert.Equal(t, "maturity", rows[1][4])
	assert.Equal(t, "chain", rows[2][1])

	rows, err = f.GetRows(SheetValues)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "101.25", rows[1][3])
	assert.Equal(t, "1.25", rows[1][9])
	assert.Equal(t, "skipped", rows[2][2])
	assert.Equal(t, "3", rows[2][7])
	assert.Equal(t, "coverage 0.5000 below 0.7000", rows[2][12])
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry-run.xlsx")
	require.NoError(t, WriteFile(path, []*orchestrator.RebalanceReport{rebalanceReport()}, nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetCandidates)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "volume-decay", rows[1][8])
}
