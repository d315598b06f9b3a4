package execution

import (
	"context"
	"time"

	"github.com/stridehq/stride/id"
)

// Store defines the persistence contract for executions and their
// step-record checkpoint log.
//
// Implementations must support concurrent access across unrelated
// execution ids without cross-execution interference. The only
// concurrency-control primitive required is CommitStep's conditional
// write; no multi-step transactions are needed — each commit is
// independently atomic.
type Store interface {
	// CreateExecution persists a new execution header.
	// Returns stride.ErrExecutionExists on an id collision.
	CreateExecution(ctx context.Context, exec *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists changes to an existing execution header.
	UpdateExecution(ctx context.Context, exec *Execution) error

	// ListExecutions returns executions matching the given options.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// PutStepRecord upserts the transient (non-terminal) state of a step
	// record: pending/running status, attempt count, timestamps. It must
	// refuse to overwrite a record that is already succeeded and return
	// stride.ErrStepCommitted instead.
	PutStepRecord(ctx context.Context, rec *StepRecord) error

	// CommitStep writes a terminal step outcome. The write is
	// conditional: if a succeeded record already exists for
	// (rec.ExecutionID, rec.Name), nothing is written and
	// stride.ErrStepCommitted is returned so racing committers adopt the
	// winning result. This is the store's sole concurrency-control
	// primitive.
	CommitStep(ctx context.Context, rec *StepRecord) error

	// GetStepRecord retrieves the record for a named step.
	// Returns stride.ErrStepNotFound if the step was never scheduled.
	GetStepRecord(ctx context.Context, execID id.ExecutionID, name string) (*StepRecord, error)

	// ListStepRecords returns all step records for an execution ordered
	// by sequence number.
	ListStepRecords(ctx context.Context, execID id.ExecutionID) ([]*StepRecord, error)

	// PurgeExpired deletes terminal executions whose retention period
	// has passed, along with their step records and callbacks. Returns
	// the number of executions purged.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
