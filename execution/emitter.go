package execution

import (
	"context"
	"time"
)

// Emitter receives lifecycle notifications from the coordinator and
// invoker. Emissions are observational: returning is the only contract,
// and a slow emitter slows the execution it observes.
type Emitter interface {
	ExecutionStarted(ctx context.Context, exec *Execution)
	ExecutionSuspended(ctx context.Context, exec *Execution)
	ExecutionResumed(ctx context.Context, exec *Execution)
	ExecutionCompleted(ctx context.Context, exec *Execution)
	ExecutionFailed(ctx context.Context, exec *Execution)
	ExecutionCancelled(ctx context.Context, exec *Execution)

	StepCompleted(ctx context.Context, exec *Execution, rec *StepRecord)
	StepFailed(ctx context.Context, exec *Execution, rec *StepRecord)
	StepRetrying(ctx context.Context, exec *Execution, rec *StepRecord, delay time.Duration)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) ExecutionStarted(context.Context, *Execution)   {}
func (NopEmitter) ExecutionSuspended(context.Context, *Execution) {}
func (NopEmitter) ExecutionResumed(context.Context, *Execution)   {}
func (NopEmitter) ExecutionCompleted(context.Context, *Execution) {}
func (NopEmitter) ExecutionFailed(context.Context, *Execution)    {}
func (NopEmitter) ExecutionCancelled(context.Context, *Execution) {}

func (NopEmitter) StepCompleted(context.Context, *Execution, *StepRecord) {}
func (NopEmitter) StepFailed(context.Context, *Execution, *StepRecord)    {}
func (NopEmitter) StepRetrying(context.Context, *Execution, *StepRecord, time.Duration) {
}

var _ Emitter = NopEmitter{}
