// Package ext defines the extension system for Stride.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnExecutionCompleted(ctx context.Context, exec *execution.Execution, elapsed time.Duration) error {
//	    log.Printf("execution %s completed in %s", exec.ID, elapsed)
//	    return nil
//	}
//
// # Execution Lifecycle Hooks
//
//   - [ExecutionStarted] — an execution was created
//   - [ExecutionSuspended] — an execution parked on a callback or timer
//   - [ExecutionResumed] — a suspended execution resumed
//   - [ExecutionCompleted] — an execution finished successfully
//   - [ExecutionFailed] — an execution failed terminally
//   - [ExecutionCancelled] — an execution was cancelled externally
//
// # Step Lifecycle Hooks
//
//   - [StepCompleted] — a step's result was committed
//   - [StepFailed] — a step's failure was committed
//   - [StepRetrying] — a step attempt failed but will be retried
//
// # Callback Hooks
//
//   - [CallbackCreated] — a suspension callback was armed
//   - [CallbackResolved] — a callback was resolved or failed externally
//   - [CallbackExpired] — the sweep settled a callback past its expiry
//
// # Other Hooks
//
//   - [Shutdown] — the engine is shutting down gracefully
package ext
