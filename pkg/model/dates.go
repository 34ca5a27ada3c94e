package model

import (
	"fmt"
	"time"
)

const (
	DayLayout    = "2006-01-02"
	PeriodLayout = "2006-01"
)

// Day truncates t to midnight UTC. All engine dates are days.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DaysBetween counts calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Period identifies a rebalance period by the first day of its month.
type Period struct {
	Start time.Time
}

// PeriodOf returns the calendar-month period containing t.
func PeriodOf(t time.Time) Period {
	y, m, _ := t.UTC().Date()
	return Period{Start: time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.ParseInLocation(PeriodLayout, s, time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period{Start: t}, nil
}

func (p Period) String() string { return p.Start.Format(PeriodLayout) }

// Previous returns the period before p.
func (p Period) Previous() Period { return Period{Start: p.Start.AddDate(0, -1, 0)} }

// Next returns the period after p.
func (p Period) Next() Period { return Period{Start: p.Start.AddDate(0, 1, 0)} }

// EffectiveFrom is the first day the period's weights apply, offset days after the period start.
func (p Period) EffectiveFrom(offsetDays int) time.Time {
	return p.Start.AddDate(0, 0, offsetDays)
}

// Contains reports whether day t falls in the period's calendar month.
func (p Period) Contains(t time.Time) bool {
	return PeriodOf(t).Start.Equal(p.Start)
}

// MarshalText encodes the period as "YYYY-MM".
func (p Period) MarshalText() ([]byte, error) {
	if p.Start.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes "YYYY-MM"; an empty value leaves the zero period.
func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
