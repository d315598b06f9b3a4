package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type executionStartedEntry struct {
	name string
	hook ExecutionStarted
}

type executionSuspendedEntry struct {
	name string
	hook ExecutionSuspended
}

type executionResumedEntry struct {
	name string
	hook ExecutionResumed
}

type executionCompletedEntry struct {
	name string
	hook ExecutionCompleted
}

type executionFailedEntry struct {
	name string
	hook ExecutionFailed
}

type executionCancelledEntry struct {
	name string
	hook ExecutionCancelled
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type callbackCreatedEntry struct {
	name string
	hook CallbackCreated
}

type callbackResolvedEntry struct {
	name string
	hook CallbackResolved
}

type callbackExpiredEntry struct {
	name string
	hook CallbackExpired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	executionStarted   []executionStartedEntry
	executionSuspended []executionSuspendedEntry
	executionResumed   []executionResumedEntry
	executionCompleted []executionCompletedEntry
	executionFailed    []executionFailedEntry
	executionCancelled []executionCancelledEntry
	stepCompleted      []stepCompletedEntry
	stepFailed         []stepFailedEntry
	stepRetrying       []stepRetryingEntry
	callbackCreated    []callbackCreatedEntry
	callbackResolved   []callbackResolvedEntry
	callbackExpired    []callbackExpiredEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionStarted); ok {
		r.executionStarted = append(r.executionStarted, executionStartedEntry{name, h})
	}
	if h, ok := e.(ExecutionSuspended); ok {
		r.executionSuspended = append(r.executionSuspended, executionSuspendedEntry{name, h})
	}
	if h, ok := e.(ExecutionResumed); ok {
		r.executionResumed = append(r.executionResumed, executionResumedEntry{name, h})
	}
	if h, ok := e.(ExecutionCompleted); ok {
		r.executionCompleted = append(r.executionCompleted, executionCompletedEntry{name, h})
	}
	if h, ok := e.(ExecutionFailed); ok {
		r.executionFailed = append(r.executionFailed, executionFailedEntry{name, h})
	}
	if h, ok := e.(ExecutionCancelled); ok {
		r.executionCancelled = append(r.executionCancelled, executionCancelledEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(CallbackCreated); ok {
		r.callbackCreated = append(r.callbackCreated, callbackCreatedEntry{name, h})
	}
	if h, ok := e.(CallbackResolved); ok {
		r.callbackResolved = append(r.callbackResolved, callbackResolvedEntry{name, h})
	}
	if h, ok := e.(CallbackExpired); ok {
		r.callbackExpired = append(r.callbackExpired, callbackExpiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions in registration order.
func (r *Registry) Extensions() []Extension {
	return r.extensions
}

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, exec *execution.Execution) {
	for _, e := range r.executionStarted {
		if err := e.hook.OnExecutionStarted(ctx, exec); err != nil {
			r.logHookError("OnExecutionStarted", e.name, err)
		}
	}
}

// EmitExecutionSuspended notifies all extensions that implement ExecutionSuspended.
func (r *Registry) EmitExecutionSuspended(ctx context.Context, exec *execution.Execution) {
	for _, e := range r.executionSuspended {
		if err := e.hook.OnExecutionSuspended(ctx, exec); err != nil {
			r.logHookError("OnExecutionSuspended", e.name, err)
		}
	}
}

// EmitExecutionResumed notifies all extensions that implement ExecutionResumed.
func (r *Registry) EmitExecutionResumed(ctx context.Context, exec *execution.Execution) {
	for _, e := range r.executionResumed {
		if err := e.hook.OnExecutionResumed(ctx, exec); err != nil {
			r.logHookError("OnExecutionResumed", e.name, err)
		}
	}
}

// EmitExecutionCompleted notifies all extensions that implement ExecutionCompleted.
func (r *Registry) EmitExecutionCompleted(ctx context.Context, exec *execution.Execution, elapsed time.Duration) {
	for _, e := range r.executionCompleted {
		if err := e.hook.OnExecutionCompleted(ctx, exec, elapsed); err != nil {
			r.logHookError("OnExecutionCompleted", e.name, err)
		}
	}
}

// EmitExecutionFailed notifies all extensions that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, exec *execution.Execution, execErr error) {
	for _, e := range r.executionFailed {
		if err := e.hook.OnExecutionFailed(ctx, exec, execErr); err != nil {
			r.logHookError("OnExecutionFailed", e.name, err)
		}
	}
}

// EmitExecutionCancelled notifies all extensions that implement ExecutionCancelled.
func (r *Registry) EmitExecutionCancelled(ctx context.Context, exec *execution.Execution) {
	for _, e := range r.executionCancelled {
		if err := e.hook.OnExecutionCancelled(ctx, exec); err != nil {
			r.logHookError("OnExecutionCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, exec, rec); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, exec, rec, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, delay time.Duration) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, exec, rec, delay); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Callback event emitters
// ──────────────────────────────────────────────────

// EmitCallbackCreated notifies all extensions that implement CallbackCreated.
func (r *Registry) EmitCallbackCreated(ctx context.Context, cb *callback.Callback) {
	for _, e := range r.callbackCreated {
		if err := e.hook.OnCallbackCreated(ctx, cb); err != nil {
			r.logHookError("OnCallbackCreated", e.name, err)
		}
	}
}

// EmitCallbackResolved notifies all extensions that implement CallbackResolved.
func (r *Registry) EmitCallbackResolved(ctx context.Context, cb *callback.Callback) {
	for _, e := range r.callbackResolved {
		if err := e.hook.OnCallbackResolved(ctx, cb); err != nil {
			r.logHookError("OnCallbackResolved", e.name, err)
		}
	}
}

// EmitCallbackExpired notifies all extensions that implement CallbackExpired.
func (r *Registry) EmitCallbackExpired(ctx context.Context, cb *callback.Callback) {
	for _, e := range r.callbackExpired {
		if err := e.hook.OnCallbackExpired(ctx, cb); err != nil {
			r.logHookError("OnCallbackExpired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the engine.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
