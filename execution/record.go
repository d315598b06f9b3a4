package execution

import (
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/id"
)

// StepStatus represents the lifecycle state of a step record.
type StepStatus string

const (
	// StepPending means the step is scheduled but has not started an attempt.
	StepPending StepStatus = "pending"
	// StepRunning means an attempt is (or was, before a crash) in flight.
	StepRunning StepStatus = "running"
	// StepSucceeded means the result is committed; the payload is
	// immutable and replayed verbatim, never recomputed.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed means retries are exhausted (or the error was
	// non-retryable) and the failure is committed.
	StepFailed StepStatus = "failed"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed
}

// StepRecord is the checkpoint for one named step of one execution.
// Records are keyed by (ExecutionID, Name); Seq reflects the step's
// declaration order within the workflow and fixes the replay order of
// the log regardless of prior concurrency timing.
type StepRecord struct {
	stride.Entity

	ID          id.StepID      `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	Name        string         `json:"name"`
	Seq         int            `json:"seq"`
	Status      StepStatus     `json:"status"`
	Result      []byte         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// newStepRecord returns a pending record for the given step.
func newStepRecord(execID id.ExecutionID, name string, seq int) *StepRecord {
	return &StepRecord{
		Entity:      stride.NewEntity(),
		ID:          id.NewStepID(),
		ExecutionID: execID,
		Name:        name,
		Seq:         seq,
		Status:      StepPending,
	}
}
