// Package ext defines the extension system for Stride.
// Extensions are notified of lifecycle events (execution started,
// suspended, completed, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionStarted is called after an execution is created.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, exec *execution.Execution) error
}

// ExecutionSuspended is called when an execution parks on a callback or
// timer.
type ExecutionSuspended interface {
	OnExecutionSuspended(ctx context.Context, exec *execution.Execution) error
}

// ExecutionResumed is called when a suspended execution resumes.
type ExecutionResumed interface {
	OnExecutionResumed(ctx context.Context, exec *execution.Execution) error
}

// ExecutionCompleted is called after an execution finishes successfully.
type ExecutionCompleted interface {
	OnExecutionCompleted(ctx context.Context, exec *execution.Execution, elapsed time.Duration) error
}

// ExecutionFailed is called when an execution fails terminally.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, exec *execution.Execution, err error) error
}

// ExecutionCancelled is called when an execution is cancelled externally.
type ExecutionCancelled interface {
	OnExecutionCancelled(ctx context.Context, exec *execution.Execution) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a step's result is committed.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord) error
}

// StepFailed is called when a step's terminal failure is committed.
type StepFailed interface {
	OnStepFailed(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, err error) error
}

// StepRetrying is called when a step attempt fails but will be retried.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Callback hooks
// ──────────────────────────────────────────────────

// CallbackCreated is called after a suspension callback is armed.
type CallbackCreated interface {
	OnCallbackCreated(ctx context.Context, cb *callback.Callback) error
}

// CallbackResolved is called after a callback is settled externally,
// whether resolved or failed.
type CallbackResolved interface {
	OnCallbackResolved(ctx context.Context, cb *callback.Callback) error
}

// CallbackExpired is called when the sweep settles a callback past its
// expiry.
type CallbackExpired interface {
	OnCallbackExpired(ctx context.Context, cb *callback.Callback) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
