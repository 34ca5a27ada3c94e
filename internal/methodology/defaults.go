package methodology

import "github.com/Checker-Finance/market-index/pkg/model"

var cardEntry = Thresholds{MinAvgVolume: 0.5, MinTradingDays: 10}
var cardMaintenance = Thresholds{MinAvgVolume: 0.3, MinTradingDays: 6}

// Default returns the production methodology.
func Default() Methodology {
	return Methodology{
		Tiers: map[string]int{
			"Sealed":                    0,
			"Common":                    0,
			"Uncommon":                  1,
			"Rare":                      2,
			"Promo":                     2,
			"Classic Collection":        2,
			"Holo Rare":                 3,
			"Shiny Rare":                3,
			"Rare BREAK":                3,
			"Rare Ace":                  3,
			"Prism Rare":                3,
			"Amazing Rare":              3,
			"Radiant Rare":              3,
			"ACE SPEC Rare":             3,
			"Double Rare":               4,
			"Shiny Holo Rare":           4,
			"Black White Rare":          4,
			"Ultra Rare":                5,
			"Shiny Ultra Rare":          5,
			"Illustration Rare":         5,
			"Special Illustration Rare": 6,
			"Secret Rare":               6,
			"Hyper Rare":                7,
			"Mega Hyper Rare":           7,
		},
		Aliases: map[string]string{
			"Rare Holo":       "Holo Rare",
			"Rare Ultra":      "Ultra Rare",
			"Rare Secret":     "Secret Rare",
			"Rare Shiny":      "Shiny Rare",
			"Rare Holo Star":  "Secret Rare",
			"Rare Rainbow":    "Hyper Rare",
			"Rare Holo EX":    "Ultra Rare",
			"Rare Holo GX":    "Ultra Rare",
			"Rare Holo V":     "Ultra Rare",
			"Rare Holo VMAX":  "Ultra Rare",
			"Rare Holo VSTAR": "Ultra Rare",
		},
		GradeWeights: map[model.Grade]float64{
			model.GradeNM:  1.00,
			model.GradeLP:  0.80,
			model.GradeMP:  0.60,
			model.GradeHP:  0.40,
			model.GradeDMG: 0.20,
		},
		UnknownGradeWeight: 0.50,
		Liquidity: Liquidity{
			DecayWeights:       []float64{1.00, 0.70, 0.50, 0.35, 0.25, 0.15, 0.10},
			MinVolumeDays:      2,
			VolumeCalibration:  10,
			ListingCalibration: 50,
		},
		Pricing: Pricing{
			MinPrice:            0.10,
			MaxPrice:            100000,
			MaxDailyJump:        0.80,
			ForwardFillDays:     7,
			MaxMarketDivergence: 2.0,
			MarketWeights: map[model.ItemKind]MarketWeights{
				model.KindCard:   {US: 0.5, EU: 0.5},
				model.KindSealed: {US: 1.0, EU: 0.0},
			},
			GradePriority: []model.Grade{model.GradeNM, model.GradeLP, model.GradeMP, model.GradeHP, model.GradeDMG},
		},
		Weighting:        WeightLiquidityAdjusted,
		LiquidityFloor:   0.10,
		CoverageGate:     0.70,
		VolumeWindowDays: 30,
		Rebalance:        Rebalance{OffsetDays: 0},
		Indexes: []IndexDefinition{
			{Code: "RARE_100", Kind: model.KindCard, Size: 100, MinTier: "Rare", MaturityDays: 60, Entry: cardEntry, Maintenance: cardMaintenance},
			{Code: "RARE_500", Kind: model.KindCard, Size: 500, MinTier: "Rare", MaturityDays: 60, Entry: cardEntry, Maintenance: cardMaintenance},
			{Code: "RARE_ALL", Kind: model.KindCard, Size: 0, MinTier: "Rare", MaturityDays: 60, Entry: cardEntry, Maintenance: cardMaintenance},
			{Code: "SEALED_100", Kind: model.KindSealed, Size: 100, MaturityDays: 90, Entry: cardEntry, Maintenance: cardMaintenance},
			{Code: "SEALED_500", Kind: model.KindSealed, Size: 500, MaturityDays: 90, Entry: cardEntry, Maintenance: cardMaintenance},
		},
	}
}
