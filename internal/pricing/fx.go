package pricing

import (
	"sort"
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// FXSource returns the EUR→USD rate applicable to a day.
type FXSource interface {
	EURUSD(day time.Time) (float64, bool)
}

// FXTable is an in-memory rate series. A day without a published rate uses the
// latest earlier rate within maxGap days (weekends and holidays).
type FXTable struct {
	days   []time.Time
	rates  map[time.Time]float64
	maxGap int
}

// NewFXTable builds a table from rate rows. Non-positive rates are dropped.
func NewFXTable(rows []model.FXRate, maxGap int) *FXTable {
	t := &FXTable{rates: make(map[time.Time]float64, len(rows)), maxGap: maxGap}
	for _, r := range rows {
		if r.EURUSD <= 0 {
			continue
		}
		d := model.Day(r.Date)
		if _, dup := t.rates[d]; !dup {
			t.days = append(t.days, d)
		}
		t.rates[d] = r.EURUSD
	}
	sort.Slice(t.days, func(i, j int) bool { return t.days[i].Before(t.days[j]) })
	return t
}

// EURUSD implements FXSource.
func (t *FXTable) EURUSD(day time.Time) (float64, bool) {
	if t == nil {
		return 0, false
	}
	day = model.Day(day)
	if r, ok := t.rates[day]; ok {
		return r, true
	}
	// latest rate strictly before day
	i := sort.Search(len(t.days), func(i int) bool { return !t.days[i].Before(day) })
	if i == 0 {
		return 0, false
	}
	prev := t.days[i-1]
	if model.DaysBetween(prev, day) > t.maxGap {
		return 0, false
	}
	return t.rates[prev], true
}
