package model

import "time"

// Constituent is an item selected into an index for a period.
type Constituent struct {
	IndexCode      string  `json:"index_code"`
	Period         Period  `json:"period"`
	ItemID         string  `json:"item_id"`
	Rank           int     `json:"rank"`
	Weight         float64 `json:"weight"`
	RankingScore   float64 `json:"ranking_score"`
	Price          float64 `json:"price"`
	LiquidityScore float64 `json:"liquidity_score"`
	IsNew          bool    `json:"is_new"`
}

// ConstituentSet is the frozen composition of an index for one period.
type ConstituentSet struct {
	IndexCode     string        `json:"index_code"`
	Period        Period        `json:"period"`
	EffectiveFrom time.Time     `json:"effective_from"`
	Constituents  []Constituent `json:"constituents"`
}

// TotalWeight sums the weights of the set.
func (s ConstituentSet) TotalWeight() float64 {
	var w float64
	for _, c := range s.Constituents {
		w += c.Weight
	}
	return w
}

// ItemIDs returns the member ids in rank order.
func (s ConstituentSet) ItemIDs() []string {
	ids := make([]string, 0, len(s.Constituents))
	for _, c := range s.Constituents {
		ids = append(ids, c.ItemID)
	}
	return ids
}

// Members returns the set of member ids.
func (s ConstituentSet) Members() map[string]bool {
	m := make(map[string]bool, len(s.Constituents))
	for _, c := range s.Constituents {
		m[c.ItemID] = true
	}
	return m
}

// Changes holds percentage changes over the standard windows; nil when no reference value exists.
type Changes struct {
	Day   *float64 `json:"change_1d"`
	Week  *float64 `json:"change_1w"`
	Month *float64 `json:"change_1m"`
}

// IndexValue is one row of the append-only published series.
type IndexValue struct {
	IndexCode      string    `json:"index_code"`
	Date           time.Time `json:"date"`
	Value          float64   `json:"value"`
	Changes        Changes   `json:"changes"`
	NConstituents  int       `json:"n_constituents"`
	TotalMarketCap float64   `json:"total_market_cap"`
	Ratio          float64   `json:"ratio"`
	Coverage       float64   `json:"coverage"`
	Method         string    `json:"method"` // "base" or "laspeyres"
}

// Skip records a day that produced no value, with the reason.
type Skip struct {
	IndexCode string    `json:"index_code"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
	Coverage  float64   `json:"coverage"`
}

// Decision records why an item was excluded or a price rejected.
type Decision struct {
	ItemID string    `json:"item_id"`
	Rule   string    `json:"rule"`
	Date   time.Time `json:"date"`
	Detail string    `json:"detail,omitempty"`
}
