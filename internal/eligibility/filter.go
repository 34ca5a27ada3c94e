// Package eligibility decides which items may enter or stay in an index.
package eligibility

import (
	"fmt"
	"sort"
	"time"

	"github.com/Checker-Finance/market-index/internal/liquidity"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Rule names, in evaluation order.
const (
	RuleInactive    = "inactive"
	RuleKind        = "kind"
	RuleTier        = "tier"
	RulePriceBounds = "price_bounds"
	RuleMaturity    = "maturity"
	RuleAvgVolume   = "avg_volume_30d"
	RuleTradingDays = "trading_days_30d"
	RuleOutlier     = "outlier"
)

// Candidate carries everything the filter and the ranking engine need about one item.
type Candidate struct {
	Item      model.Item
	Price     model.ResolvedPrice
	Liquidity model.LiquidityRecord
	Activity  liquidity.Activity
	Outliers  []time.Time // days in the volume window whose price was rejected as an outlier
}

// Result is the outcome of evaluating one candidate against one index.
type Result struct {
	Eligible  bool
	Rule      string // first disqualifying rule, empty when eligible
	Detail    string
	Incumbent bool
}

// Filter applies the universe rules of the methodology.
type Filter struct {
	m methodology.Methodology
}

// NewFilter builds a filter.
func NewFilter(m methodology.Methodology) *Filter {
	return &Filter{m: m}
}

// Evaluate applies every rule to c for index idx as of asOf.
// isMember selects the maintenance thresholds instead of the entry thresholds.
func (f *Filter) Evaluate(c Candidate, idx methodology.IndexDefinition, asOf time.Time, isMember bool) Result {
	res := Result{Incumbent: isMember}
	reject := func(rule, format string, args ...any) Result {
		res.Rule = rule
		res.Detail = fmt.Sprintf(format, args...)
		return res
	}

	if !c.Item.Eligible {
		return reject(RuleInactive, "item deactivated")
	}
	if c.Item.Kind != idx.Kind {
		return reject(RuleKind, "kind %s, index takes %s", c.Item.Kind, idx.Kind)
	}
	if idx.MinTier != "" {
		minRank, _ := f.m.TierRank(idx.MinTier)
		rank, known := f.m.TierRank(c.Item.Tier)
		if !known {
			return reject(RuleTier, "unranked tier %q", c.Item.Tier)
		}
		if rank < minRank {
			return reject(RuleTier, "tier %q below %q", c.Item.Tier, idx.MinTier)
		}
	}

	price := c.Price.Price
	switch {
	case c.Price.Provenance == model.ProvenanceMissing || price <= 0:
		return reject(RulePriceBounds, "no valid price")
	case price < f.m.Pricing.MinPrice || price > f.m.Pricing.MaxPrice:
		return reject(RulePriceBounds, "price %.2f outside [%.2f, %.2f]", price, f.m.Pricing.MinPrice, f.m.Pricing.MaxPrice)
	}

	if age := c.Item.AgeDays(asOf); age < idx.MaturityDays {
		return reject(RuleMaturity, "age %dd below %dd", age, idx.MaturityDays)
	}

	th := idx.ThresholdsFor(isMember)
	if c.Activity.AvgVolume < th.MinAvgVolume {
		return reject(RuleAvgVolume, "avg volume %.3f below %.3f", c.Activity.AvgVolume, th.MinAvgVolume)
	}
	if c.Activity.TradingDays < th.MinTradingDays {
		return reject(RuleTradingDays, "%d trading days below %d", c.Activity.TradingDays, th.MinTradingDays)
	}

	if c.Price.Provenance == model.ProvenanceOutlier {
		return reject(RuleOutlier, "rejected-outlier: %s", c.Price.Reason)
	}
	if n := len(c.Outliers); n > 0 {
		return reject(RuleOutlier, "%d rejected-outlier days in window, last %s",
			n, c.Outliers[n-1].Format(model.DayLayout))
	}

	res.Eligible = true
	return res
}

// Apply evaluates every candidate and returns the eligible ones (sorted by item id) plus one
// decision per rejection.
func (f *Filter) Apply(cands []Candidate, idx methodology.IndexDefinition, asOf time.Time, members map[string]bool) ([]Candidate, []model.Decision) {
	var eligible []Candidate
	var rejected []model.Decision

	for _, c := range cands {
		res := f.Evaluate(c, idx, asOf, members[c.Item.ID])
		if res.Eligible {
			eligible = append(eligible, c)
			continue
		}
		rejected = append(rejected, model.Decision{
			ItemID: c.Item.ID,
			Rule:   res.Rule,
			Date:   model.Day(asOf),
			Detail: res.Detail,
		})
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Item.ID < eligible[j].Item.ID })
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].ItemID < rejected[j].ItemID })
	return eligible, rejected
}
