package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	IndexCode     string          `json:"index_code"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// IndexValuePublished is emitted after a value is appended to the series.
type IndexValuePublished struct {
	RunID uuid.UUID  `json:"run_id"`
	Value IndexValue `json:"value"`
}

// ConstituentsPublished is emitted after a period's constituents are committed.
type ConstituentsPublished struct {
	RunID     uuid.UUID `json:"run_id"`
	IndexCode string    `json:"index_code"`
	Period    string    `json:"period"`
	Count     int       `json:"count"`
	Added     []string  `json:"added"`
	Removed   []string  `json:"removed"`
}

// RunCompleted is emitted on the in-process bus at the end of every run.
type RunCompleted struct {
	Run     RunLog `json:"run"`
	DryRun  bool   `json:"dry_run"`
	Summary string `json:"summary"`
}

// Succeeded reports whether the run finished without failure.
func (r RunCompleted) Succeeded() bool {
	return r.Run.Status != RunFailed
}
