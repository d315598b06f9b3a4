package engine

import (
	"context"
	"errors"
	"time"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/ext"
)

// extEmitter adapts *ext.Registry to satisfy execution.Emitter and
// callback.Emitter. This breaks the import cycle: the subsystems define
// the interfaces, ext.Registry provides the implementation, and the
// engine layer plugs them together.
type extEmitter struct {
	r *ext.Registry
}

var (
	_ execution.Emitter = (*extEmitter)(nil)
	_ callback.Emitter  = (*extEmitter)(nil)
)

func (a *extEmitter) ExecutionStarted(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionStarted(ctx, exec)
}

func (a *extEmitter) ExecutionSuspended(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionSuspended(ctx, exec)
}

func (a *extEmitter) ExecutionResumed(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionResumed(ctx, exec)
}

func (a *extEmitter) ExecutionCompleted(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionCompleted(ctx, exec, execElapsed(exec))
}

func (a *extEmitter) ExecutionFailed(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionFailed(ctx, exec, errors.New(exec.Error))
}

func (a *extEmitter) ExecutionCancelled(ctx context.Context, exec *execution.Execution) {
	a.r.EmitExecutionCancelled(ctx, exec)
}

func (a *extEmitter) StepCompleted(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord) {
	a.r.EmitStepCompleted(ctx, exec, rec)
}

func (a *extEmitter) StepFailed(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord) {
	a.r.EmitStepFailed(ctx, exec, rec, errors.New(rec.Error))
}

func (a *extEmitter) StepRetrying(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, delay time.Duration) {
	a.r.EmitStepRetrying(ctx, exec, rec, delay)
}

func (a *extEmitter) CallbackCreated(ctx context.Context, cb *callback.Callback) {
	a.r.EmitCallbackCreated(ctx, cb)
}

func (a *extEmitter) CallbackResolved(ctx context.Context, cb *callback.Callback) {
	a.r.EmitCallbackResolved(ctx, cb)
}

func (a *extEmitter) CallbackExpired(ctx context.Context, cb *callback.Callback) {
	a.r.EmitCallbackExpired(ctx, cb)
}

func execElapsed(exec *execution.Execution) time.Duration {
	if exec.CompletedAt == nil {
		return 0
	}
	return exec.CompletedAt.Sub(exec.StartedAt)
}
