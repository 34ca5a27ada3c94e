// Package methodology holds the startup constants of the index methodology:
// index definitions, eligibility thresholds, the liquidity decay schedule,
// condition-grade weights, price rules and the coverage gate.
package methodology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// Weighting selects how constituent weights are derived from the ranking inputs.
type Weighting string

const (
	// WeightLiquidityAdjusted weights by price × liquidity.
	WeightLiquidityAdjusted Weighting = "liquidity_adjusted"
	// WeightPrice weights by price alone. Selection still uses price × liquidity.
	WeightPrice Weighting = "price"
)

// Thresholds are the sustained-trading requirements over the volume window.
type Thresholds struct {
	MinAvgVolume   float64 `yaml:"min_avg_volume" json:"min_avg_volume"`
	MinTradingDays int     `yaml:"min_trading_days" json:"min_trading_days"`
}

// IndexDefinition describes one index of the family.
type IndexDefinition struct {
	Code         string         `yaml:"code" json:"code"`
	Kind         model.ItemKind `yaml:"kind" json:"kind"`
	Size         int            `yaml:"size" json:"size"` // 0 means every eligible item
	MinTier      string         `yaml:"min_tier" json:"min_tier,omitempty"`
	MaturityDays int            `yaml:"maturity_days" json:"maturity_days"`
	Entry        Thresholds     `yaml:"entry" json:"entry"`
	Maintenance  Thresholds     `yaml:"maintenance" json:"maintenance"`
}

// AllEligible reports whether the index takes the full eligible set.
func (d IndexDefinition) AllEligible() bool { return d.Size <= 0 }

// ThresholdsFor picks the maintenance table for incumbents and the entry table otherwise.
func (d IndexDefinition) ThresholdsFor(isMember bool) Thresholds {
	if isMember {
		return d.Maintenance
	}
	return d.Entry
}

// Liquidity configures the liquidity scorer.
type Liquidity struct {
	DecayWeights       []float64 `yaml:"decay_weights"`
	MinVolumeDays      int       `yaml:"min_volume_days"`
	VolumeCalibration  float64   `yaml:"volume_calibration"`  // max expected daily volume
	ListingCalibration float64   `yaml:"listing_calibration"` // max expected weighted listings
}

// MarketWeights combine US and EU prices after FX conversion.
type MarketWeights struct {
	US float64 `yaml:"us"`
	EU float64 `yaml:"eu"`
}

// Pricing configures the composite price resolver.
type Pricing struct {
	MinPrice            float64                          `yaml:"min_price"`
	MaxPrice            float64                          `yaml:"max_price"`
	MaxDailyJump        float64                          `yaml:"max_daily_jump"` // 0.80 = ±80%
	ForwardFillDays     int                              `yaml:"forward_fill_days"`
	MaxMarketDivergence float64                          `yaml:"max_market_divergence"`
	MarketWeights       map[model.ItemKind]MarketWeights `yaml:"market_weights"`
	GradePriority       []model.Grade                    `yaml:"grade_priority"`
}

// WeightsFor returns the market weights for an item kind, defaulting to US only.
func (p Pricing) WeightsFor(kind model.ItemKind) MarketWeights {
	if w, ok := p.MarketWeights[kind]; ok {
		return w
	}
	return MarketWeights{US: 1}
}

// Rebalance configures period boundaries.
type Rebalance struct {
	OffsetDays int `yaml:"offset_days"` // 0 applies new weights on the 1st, 2 on the 3rd
}

// Methodology is the full set of startup constants.
type Methodology struct {
	Tiers              map[string]int          `yaml:"tiers"`
	Aliases            map[string]string       `yaml:"tier_aliases"`
	GradeWeights       map[model.Grade]float64 `yaml:"grade_weights"`
	UnknownGradeWeight float64                 `yaml:"unknown_grade_weight"`
	Liquidity          Liquidity               `yaml:"liquidity"`
	Pricing            Pricing                 `yaml:"pricing"`
	Weighting          Weighting               `yaml:"weighting"`
	LiquidityFloor     float64                 `yaml:"liquidity_floor"`
	CoverageGate       float64                 `yaml:"coverage_gate"`
	VolumeWindowDays   int                     `yaml:"volume_window_days"`
	Rebalance          Rebalance               `yaml:"rebalance"`
	Indexes            []IndexDefinition       `yaml:"indexes"`
}

// TierRank returns the ordinal of a tier. Unknown tiers report false.
func (m Methodology) TierRank(tier string) (int, bool) {
	key := strings.TrimSpace(tier)
	if alias, ok := m.Aliases[key]; ok {
		key = alias
	}
	r, ok := m.Tiers[key]
	return r, ok
}

// GradeWeight returns the configured weight of a condition grade.
func (m Methodology) GradeWeight(g model.Grade) float64 {
	if w, ok := m.GradeWeights[g]; ok {
		return w
	}
	return m.UnknownGradeWeight
}

// Index looks up an index definition by code.
func (m Methodology) Index(code string) (IndexDefinition, bool) {
	for _, d := range m.Indexes {
		if strings.EqualFold(d.Code, code) {
			return d, true
		}
	}
	return IndexDefinition{}, false
}

// Select returns the definitions for codes, or all of them when codes is empty.
func (m Methodology) Select(codes []string) ([]IndexDefinition, error) {
	if len(codes) == 0 {
		out := make([]IndexDefinition, len(m.Indexes))
		copy(out, m.Indexes)
		return out, nil
	}
	out := make([]IndexDefinition, 0, len(codes))
	for _, c := range codes {
		d, ok := m.Index(c)
		if !ok {
			return nil, fmt.Errorf("unknown index %q", c)
		}
		out = append(out, d)
	}
	return out, nil
}

// Codes lists configured index codes in sorted order.
func (m Methodology) Codes() []string {
	codes := make([]string, 0, len(m.Indexes))
	for _, d := range m.Indexes {
		codes = append(codes, d.Code)
	}
	sort.Strings(codes)
	return codes
}
