package liquidity

import (
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// Activity summarises true trading volume over a trailing window.
// Listings never contribute here.
type Activity struct {
	WindowDays  int     `json:"window_days"`
	TotalVolume float64 `json:"total_volume"`
	AvgVolume   float64 `json:"avg_volume"`
	TradingDays int     `json:"trading_days"` // days with at least one sale
}

// MeasureActivity computes trailing-window activity ending at asOf (inclusive).
// Days with no observation count as zero-volume days in the average.
func MeasureActivity(asOf time.Time, windowDays int, history []model.DailyObservation) Activity {
	act := Activity{WindowDays: windowDays}
	if windowDays <= 0 {
		return act
	}
	asOf = model.Day(asOf)

	latest := make(map[int]model.DailyObservation, windowDays)
	for _, obs := range history {
		offset := model.DaysBetween(obs.Date, asOf)
		if offset < 0 || offset >= windowDays {
			continue
		}
		if cur, ok := latest[offset]; !ok || obs.IngestedAt.After(cur.IngestedAt) {
			latest[offset] = obs
		}
	}

	for _, obs := range latest {
		v := obs.TotalVolume()
		act.TotalVolume += v
		if v >= 1 {
			act.TradingDays++
		}
	}
	act.AvgVolume = act.TotalVolume / float64(windowDays)
	return act
}
