package chain

import (
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// Lookup returns the published value on or before a date.
type Lookup func(onOrBefore time.Time) (float64, bool)

// Standard change windows in days.
const (
	WindowDay   = 1
	WindowWeek  = 7
	WindowMonth = 30
)

// Changes derives percentage changes from the already-published series.
func Changes(date time.Time, value float64, lookup Lookup) model.Changes {
	date = model.Day(date)
	return model.Changes{
		Day:   change(value, date.AddDate(0, 0, -WindowDay), lookup),
		Week:  change(value, date.AddDate(0, 0, -WindowWeek), lookup),
		Month: change(value, date.AddDate(0, 0, -WindowMonth), lookup),
	}
}

func change(value float64, at time.Time, lookup Lookup) *float64 {
	if lookup == nil {
		return nil
	}
	ref, ok := lookup(at)
	if !ok || ref <= 0 {
		return nil
	}
	pct := (value - ref) / ref * 100
	return &pct
}
