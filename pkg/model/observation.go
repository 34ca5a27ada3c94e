package model

import (
	"math"
	"time"
)

// Grade is a condition grade of a raw price/volume field.
type Grade string

const (
	GradeNM  Grade = "NM"
	GradeLP  Grade = "LP"
	GradeMP  Grade = "MP"
	GradeHP  Grade = "HP"
	GradeDMG Grade = "DMG"
)

// Market is a venue a price was observed on.
type Market string

const (
	MarketUS Market = "US" // quoted in USD
	MarketEU Market = "EU" // quoted in EUR
)

// DailyObservation is one ingested row for an (item, date) pair.
// Later ingestions for the same pair are corrections; the newest IngestedAt wins.
type DailyObservation struct {
	ItemID     string                       `json:"item_id"`
	Date       time.Time                    `json:"date"`
	Prices     map[Market]map[Grade]float64 `json:"prices,omitempty"`
	Volumes    map[Grade]float64            `json:"volumes,omitempty"`
	Listings   map[Grade]float64            `json:"listings,omitempty"`
	SourceTS   time.Time                    `json:"source_ts"`
	IngestedAt time.Time                    `json:"ingested_at"`
}

// HasVolume reports whether the row carries any volume field at all (zero counts as observed).
func (o DailyObservation) HasVolume() bool {
	return len(o.Volumes) > 0
}

// TotalVolume sums non-negative volume across grades.
func (o DailyObservation) TotalVolume() float64 {
	var total float64
	for _, v := range o.Volumes {
		total += Sanitize(v)
	}
	return total
}

// Sanitize maps negative, NaN and infinite raw values to 0.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// FXRate is the EUR→USD rate for a day.
type FXRate struct {
	Date   time.Time `json:"date"`
	EURUSD float64   `json:"eur_usd"`
}

// Provenance tags how a resolved price was obtained.
type Provenance string

const (
	ProvenanceFresh         Provenance = "fresh"
	ProvenanceForwardFilled Provenance = "forward-filled"
	ProvenanceOutlier       Provenance = "rejected-outlier"
	ProvenanceMissing       Provenance = "missing"
)

// ResolvedPrice is the canonical USD price of an item on a day.
type ResolvedPrice struct {
	ItemID     string     `json:"item_id"`
	Date       time.Time  `json:"date"`
	Price      float64    `json:"price"`
	Provenance Provenance `json:"provenance"`
	SourceDate time.Time  `json:"source_date"`
	Reason     string     `json:"reason,omitempty"`
}

// Usable reports whether the price can enter a calculation.
func (p ResolvedPrice) Usable() bool {
	return (p.Provenance == ProvenanceFresh || p.Provenance == ProvenanceForwardFilled) && p.Price > 0
}

// Stale is true for forward-filled prices.
func (p ResolvedPrice) Stale() bool {
	return p.Provenance == ProvenanceForwardFilled
}

// LiquidityMethod names how a liquidity score was derived.
type LiquidityMethod string

const (
	MethodVolumeDecay     LiquidityMethod = "volume-decay"
	MethodListingFallback LiquidityMethod = "listing-fallback"
)

// LiquidityRecord is derived on demand and never stored as input.
type LiquidityRecord struct {
	ItemID     string          `json:"item_id"`
	AsOf       time.Time       `json:"as_of"`
	Score      float64         `json:"score"`
	Method     LiquidityMethod `json:"method"`
	VolumeDays int             `json:"volume_days"`
}
