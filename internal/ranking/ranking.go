// Package ranking selects and weights the constituents of an index period.
package ranking

import (
	"sort"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Input is one eligible candidate with its canonical price and liquidity score.
type Input struct {
	ItemID    string
	Price     float64
	Liquidity float64
}

// Engine ranks candidates by price × liquidity and assigns weights.
type Engine struct {
	scheme methodology.Weighting
	floor  float64
}

// NewEngine builds an engine from the methodology.
func NewEngine(m methodology.Methodology) *Engine {
	return &Engine{scheme: m.Weighting, floor: m.LiquidityFloor}
}

// Score is the ranking score of one candidate. A zero liquidity score is replaced by the floor.
func (e *Engine) Score(in Input) float64 {
	liq := in.Liquidity
	if liq <= 0 {
		liq = e.floor
	}
	return in.Price * liq
}

// Rank orders inputs by ranking score (ties broken by item id), keeps the top size
// (all when size <= 0) and assigns weights summing to 1. previous holds last period's
// members and drives the IsNew flag.
func (e *Engine) Rank(indexCode string, period model.Period, inputs []Input, size int, previous map[string]bool) []model.Constituent {
	if len(inputs) == 0 {
		return nil
	}

	type scored struct {
		Input
		score float64
	}
	rows := make([]scored, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, scored{Input: in, score: e.Score(in)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].ItemID < rows[j].ItemID
	})
	if size > 0 && len(rows) > size {
		rows = rows[:size]
	}

	basis := func(r scored) float64 { return r.score }
	if e.scheme == methodology.WeightPrice {
		basis = func(r scored) float64 { return r.Price }
	}

	var total float64
	for _, r := range rows {
		total += basis(r)
	}

	out := make([]model.Constituent, len(rows))
	for i, r := range rows {
		w := 1 / float64(len(rows))
		if total > 0 {
			w = basis(r) / total
		}
		out[i] = model.Constituent{
			IndexCode:      indexCode,
			Period:         period,
			ItemID:         r.ItemID,
			Rank:           i + 1,
			Weight:         w,
			RankingScore:   r.score,
			Price:          r.Price,
			LiquidityScore: r.Liquidity,
			IsNew:          !previous[r.ItemID],
		}
	}
	return out
}

// Diff returns the ids added to and removed from previous by next, both sorted.
func Diff(previous map[string]bool, next []model.Constituent) (added, removed []string) {
	in := make(map[string]bool, len(next))
	for _, c := range next {
		in[c.ItemID] = true
		if !previous[c.ItemID] {
			added = append(added, c.ItemID)
		}
	}
	for id := range previous {
		if !in[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
