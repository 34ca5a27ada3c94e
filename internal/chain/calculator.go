// Package chain advances an index value day over day with Laspeyres chain-linking
// under the frozen weights of the active period.
package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// BaseValue seeds every index on its first computation.
const BaseValue = 100.0

// coverageTolerance absorbs float summation error at the gate boundary.
const coverageTolerance = 1e-9

// Status of an index series.
type Status int

const (
	Uninitialized Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "UNINITIALIZED"
}

// ErrNotAfter is returned when a step is not strictly after the last published date.
var ErrNotAfter = errors.New("step date must be after the last published date")

// State is the explicit "previous value" threaded through each daily step.
type State struct {
	Status Status
	Value  float64
	Date   time.Time
}

// Resume rebuilds the state from the latest published value (nil when none exists).
func Resume(latest *model.IndexValue) State {
	if latest == nil {
		return State{Status: Uninitialized}
	}
	return State{Status: Running, Value: latest.Value, Date: model.Day(latest.Date)}
}

// StepInput is everything one daily step may read.
type StepInput struct {
	IndexCode    string
	Date         time.Time
	Constituents []model.Constituent
	Today        map[string]model.ResolvedPrice // prices on Date
	Previous     map[string]model.ResolvedPrice // prices on State.Date
}

// StepResult is the outcome of a successful step.
type StepResult struct {
	State    State
	Value    model.IndexValue
	Excluded []model.Decision // constituents left out of the ratio, with reason
}

// Calculator applies the coverage gate.
type Calculator struct {
	gate float64
}

// NewCalculator builds a calculator with the given coverage gate (0.70 = 70% of weight).
func NewCalculator(gate float64) *Calculator {
	return &Calculator{gate: gate}
}

// Gate returns the configured coverage gate.
func (c *Calculator) Gate() float64 { return c.gate }

// Step computes the value for in.Date from prev. It never mutates prev.
// A coverage failure returns *model.InsufficientCoverageError and no value.
func (c *Calculator) Step(prev State, in StepInput) (StepResult, error) {
	date := model.Day(in.Date)
	if len(in.Constituents) == 0 {
		return StepResult{}, fmt.Errorf("index %s on %s: %w", in.IndexCode, date.Format(model.DayLayout), model.ErrNoConstituents)
	}

	value := model.IndexValue{
		IndexCode:      in.IndexCode,
		Date:           date,
		NConstituents:  len(in.Constituents),
		TotalMarketCap: marketCap(in.Constituents, in.Today),
	}

	if prev.Status == Uninitialized {
		value.Value = BaseValue
		value.Ratio = 1
		value.Coverage = coverage(in.Constituents, in.Today, in.Today)
		value.Method = "base"
		return StepResult{
			State: State{Status: Running, Value: BaseValue, Date: date},
			Value: value,
		}, nil
	}

	if !date.After(prev.Date) {
		return StepResult{}, fmt.Errorf("index %s: %s not after %s: %w",
			in.IndexCode, date.Format(model.DayLayout), prev.Date.Format(model.DayLayout), ErrNotAfter)
	}

	var num, den, valid, total float64
	var excluded []model.Decision
	for _, con := range in.Constituents {
		total += con.Weight
		today, okToday := in.Today[con.ItemID]
		before, okBefore := in.Previous[con.ItemID]

		switch {
		case !okToday || !today.Usable():
			excluded = append(excluded, exclusion(con.ItemID, date, "price_today", today))
			continue
		case !okBefore || !before.Usable():
			excluded = append(excluded, exclusion(con.ItemID, date, "price_previous", before))
			continue
		}

		num += con.Weight * today.Price
		den += con.Weight * before.Price
		valid += con.Weight
	}

	cov := 0.0
	if total > 0 {
		cov = valid / total
	}
	value.Coverage = cov

	if den <= 0 || cov < c.gate-coverageTolerance {
		return StepResult{Excluded: excluded}, &model.InsufficientCoverageError{
			IndexCode: in.IndexCode,
			Date:      date,
			Coverage:  cov,
			Required:  c.gate,
		}
	}

	ratio := num / den
	value.Ratio = ratio
	value.Value = prev.Value * ratio
	value.Method = "laspeyres"

	return StepResult{
		State:    State{Status: Running, Value: value.Value, Date: date},
		Value:    value,
		Excluded: excluded,
	}, nil
}

func exclusion(itemID string, date time.Time, rule string, p model.ResolvedPrice) model.Decision {
	detail := string(p.Provenance)
	if detail == "" {
		detail = string(model.ProvenanceMissing)
	}
	if p.Reason != "" {
		detail += ": " + p.Reason
	}
	return model.Decision{ItemID: itemID, Rule: rule, Date: date, Detail: detail}
}

func coverage(cons []model.Constituent, a, b map[string]model.ResolvedPrice) float64 {
	var valid, total float64
	for _, c := range cons {
		total += c.Weight
		if a[c.ItemID].Usable() && b[c.ItemID].Usable() {
			valid += c.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return valid / total
}

// marketCap sums the usable prices of the constituents on the day.
func marketCap(cons []model.Constituent, prices map[string]model.ResolvedPrice) float64 {
	var total float64
	for _, c := range cons {
		if p := prices[c.ItemID]; p.Usable() {
			total += p.Price
		}
	}
	return total
}
