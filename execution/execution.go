package execution

import (
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/id"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	// StatusRunning means the execution is dispatchable: a Run call will
	// drive it forward.
	StatusRunning Status = "running"
	// StatusSuspended means the execution is waiting on a callback or
	// timer and consumes no compute until resumed.
	StatusSuspended Status = "suspended"
	// StatusSucceeded means the execution finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the execution failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the execution was cancelled externally.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Execution is one run of a workflow, identified and tracked
// independently of any single process invocation. It is owned by the
// coordinator for the run's lifetime and persisted so a new process can
// adopt it after an interruption.
type Execution struct {
	stride.Entity

	ID       id.ExecutionID `json:"id"`
	Workflow string         `json:"workflow"`
	Status   Status         `json:"status"`
	Input    []byte         `json:"input,omitempty"`
	Result   []byte         `json:"result,omitempty"`

	// Error and FailedStep describe the terminal failure, if any.
	// AttemptsOnFailure is the attempt count of the failing step.
	Error             string `json:"error,omitempty"`
	FailedStep        string `json:"failed_step,omitempty"`
	AttemptsOnFailure int    `json:"attempts_on_failure,omitempty"`

	// WaitingStep and CallbackID identify the suspension point while
	// Status is suspended. WakeAt is the earliest time a timer wait
	// completes, for introspection.
	WaitingStep string        `json:"waiting_step,omitempty"`
	CallbackID  id.CallbackID `json:"callback_id,omitempty"`
	WakeAt      *time.Time    `json:"wake_at,omitempty"`

	// CancelRequested is set by an external cancel; the coordinator
	// honors it once the current step settles.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	Deadline    time.Time  `json:"deadline"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RetainUntil is set when the execution reaches a terminal state;
	// afterwards the record set is eligible for purging.
	RetainUntil *time.Time `json:"retain_until,omitempty"`
}

// ListOpts controls filtering and pagination for execution list queries.
type ListOpts struct {
	// Limit is the maximum number of executions to return. Zero means
	// no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
	// Status filters by execution status. Empty means all statuses.
	Status Status
}
