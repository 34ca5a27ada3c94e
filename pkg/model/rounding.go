package model

import "github.com/shopspring/decimal"

// Published precision.
const (
	ValuePlaces     = 4
	RatioPlaces     = 6
	PricePlaces     = 2
	ScorePlaces     = 4
	WeightPlaces    = 8
	ChangePlaces    = 4
	MarketCapPlaces = 2
)

// Round rounds half away from zero to the given decimal places.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func roundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v, places)
	return &r
}

// Rounded returns the value as it is persisted and published.
func (v IndexValue) Rounded() IndexValue {
	v.Value = Round(v.Value, ValuePlaces)
	v.Ratio = Round(v.Ratio, RatioPlaces)
	v.Coverage = Round(v.Coverage, RatioPlaces)
	v.TotalMarketCap = Round(v.TotalMarketCap, MarketCapPlaces)
	v.Changes = Changes{
		Day:   roundPtr(v.Changes.Day, ChangePlaces),
		Week:  roundPtr(v.Changes.Week, ChangePlaces),
		Month: roundPtr(v.Changes.Month, ChangePlaces),
	}
	return v
}

// Rounded returns the constituent as it is persisted and published.
func (c Constituent) Rounded() Constituent {
	c.Weight = Round(c.Weight, WeightPlaces)
	c.RankingScore = Round(c.RankingScore, ScorePlaces)
	c.Price = Round(c.Price, PricePlaces)
	c.LiquidityScore = Round(c.LiquidityScore, ScorePlaces)
	return c
}
