package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrValueExists is returned when appending a value for a date that already has one.
var ErrValueExists = errors.New("index value already published for date")

// ErrNoConstituents is returned when an index has no published constituent set for a date.
var ErrNoConstituents = errors.New("no published constituents")

// DataFetchError wraps failures of the observation store. It aborts the current run.
type DataFetchError struct {
	Op  string
	Err error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("data fetch %s: %v", e.Op, e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

// InsufficientCoverageError is a recorded skip: too little constituent weight had valid prices.
type InsufficientCoverageError struct {
	IndexCode string
	Date      time.Time
	Coverage  float64
	Required  float64
}

func (e *InsufficientCoverageError) Error() string {
	return fmt.Sprintf("index %s on %s: coverage %.4f below required %.4f",
		e.IndexCode, e.Date.Format(DayLayout), e.Coverage, e.Required)
}

// NoEligibleConstituentsError is fatal for one index's rebalance.
type NoEligibleConstituentsError struct {
	IndexCode  string
	Period     Period
	Candidates int
}

func (e *NoEligibleConstituentsError) Error() string {
	return fmt.Sprintf("index %s period %s: no eligible constituents among %d candidates",
		e.IndexCode, e.Period, e.Candidates)
}

// ErrPeriodFrozen is returned when rebalancing a period whose constituents are already in use
// by a published value.
var ErrPeriodFrozen = errors.New("constituents of period already in use")
