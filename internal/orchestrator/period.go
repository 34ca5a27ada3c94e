package orchestrator

import (
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// ReferenceDate is the as-of date of a period's rebalance: the last day before its weights
// take effect.
func ReferenceDate(p model.Period, offsetDays int) time.Time {
	return p.EffectiveFrom(offsetDays).AddDate(0, 0, -1)
}

// RebalanceDue reports whether day is the reference date of some period, and which.
func RebalanceDue(day time.Time, offsetDays int) (model.Period, bool) {
	next := model.Day(day).AddDate(0, 0, 1)
	p := model.PeriodOf(next.AddDate(0, 0, -offsetDays))
	if p.EffectiveFrom(offsetDays).Equal(next) {
		return p, true
	}
	return model.Period{}, false
}
