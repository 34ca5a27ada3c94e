package model

import (
	"time"

	"github.com/google/uuid"
)

// RunType names the kind of engine run.
type RunType string

const (
	RunDaily     RunType = "daily"
	RunRebalance RunType = "rebalance"
)

// RunStatus is the lifecycle state of a run log entry.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "success"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
	RunDryRun    RunStatus = "dry_run"
)

// RunLog is the audit row written at the start and end of every run.
type RunLog struct {
	ID         uuid.UUID      `json:"id"`
	RunType    RunType        `json:"run_type"`
	IndexCode  string         `json:"index_code"`
	AsOf       time.Time      `json:"as_of"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Processed  int            `json:"records_processed"`
	Failed     int            `json:"records_failed"`
	Error      string         `json:"error_message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewRunLog starts a run entry.
func NewRunLog(runType RunType, indexCode string, asOf, startedAt time.Time) *RunLog {
	return &RunLog{
		ID:        uuid.New(),
		RunType:   runType,
		IndexCode: indexCode,
		AsOf:      Day(asOf),
		Status:    RunRunning,
		StartedAt: startedAt.UTC(),
	}
}
