package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/stridehq/stride/middleware"
)

// Invoker drives one step through its attempt loop: checkpoint lookup,
// body invocation through the middleware chain, retry evaluation, and
// backoff sleeps. It settles the step's record but never commits a
// terminal outcome — commit order is the caller's concern, so branch
// groups can defer commits to declared order.
type Invoker struct {
	store       Store
	middlewares []middleware.Middleware
	logger      *slog.Logger
	emitter     Emitter

	// sleep is swappable for tests; nil means a real context-aware sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an invoker. A nil logger falls back to
// slog.Default; a nil emitter discards notifications.
func NewInvoker(store Store, logger *slog.Logger, emitter Emitter, mws ...middleware.Middleware) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Invoker{
		store:       store,
		middlewares: mws,
		logger:      logger,
		emitter:     emitter,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetSleep replaces the backoff sleep between attempts, for tests that
// assert the retry schedule without waiting it out. A nil fn restores
// the real sleep.
func (inv *Invoker) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn == nil {
		fn = sleepCtx
	}
	inv.sleep = fn
}

// Invoke settles one step. The returned record's status is either
// StepSucceeded (with the result of this pass or a replayed committed
// result) or StepFailed (attempts exhausted or a non-retryable error).
//
// A non-nil error means no terminal outcome was reached: the context
// was cancelled or the store failed mid-attempt. The step's record is
// left non-terminal so a later pass re-attempts the body.
func (inv *Invoker) Invoke(ctx context.Context, exec *Execution, sc *Scope, step *Step) (*StepRecord, error) {
	return inv.invoke(ctx, exec, sc, step, nil)
}

// invoke is Invoke with an optional group-abandon signal. When quit
// closes, the attempt in flight sees a cooperative context cancellation
// and the retry schedule stops: the record settles as failed with the
// attempt's error instead of burning the remaining retries of a group
// whose outcome is already decided.
func (inv *Invoker) invoke(ctx context.Context, exec *Execution, sc *Scope, step *Step, quit <-chan struct{}) (*StepRecord, error) {
	rec, err := inv.store.GetStepRecord(ctx, exec.ID, step.Name)
	switch {
	case err == nil:
		if rec.Status == StepSucceeded {
			// Committed result: replay verbatim, never re-run the body.
			return rec, nil
		}
		if rec.Status == StepFailed {
			return rec, nil
		}
	case isNotFound(err):
		rec = newStepRecord(exec.ID, step.Name, step.seq)
	default:
		return nil, err
	}

	handler := middleware.Chain(func(ctx context.Context, _ middleware.Info) ([]byte, error) {
		return step.Body(ctx, sc)
	}, inv.middlewares...)

	// attemptCtx carries the abandon signal to bodies and retry waits
	// without touching the pass context.
	attemptCtx := ctx
	if quit != nil {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-attemptCtx.Done():
			}
		}()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec.Attempts++
		rec.Status = StepRunning
		if rec.StartedAt == nil {
			now := time.Now().UTC()
			rec.StartedAt = &now
		}
		rec.Touch()
		if err := inv.store.PutStepRecord(ctx, rec); err != nil {
			return nil, err
		}

		info := middleware.Info{
			ExecutionID: exec.ID.String(),
			Workflow:    exec.Workflow,
			Step:        step.Name,
			Attempt:     rec.Attempts,
			Timeout:     step.Timeout,
		}
		result, bodyErr := handler(attemptCtx, info)
		if bodyErr == nil {
			done := time.Now().UTC()
			rec.Status = StepSucceeded
			rec.Result = result
			rec.Error = ""
			rec.CompletedAt = &done
			rec.Touch()
			return rec, nil
		}

		// A body error caused by the execution-level context is not a
		// step outcome: leave the record non-terminal for the next pass.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// The group gave up on this step mid-schedule; settle with the
		// attempt's error so every branch still reaches a commit.
		if attemptCtx.Err() != nil {
			return failRecord(rec, bodyErr), nil
		}

		decision := step.Retry.Evaluate(rec.Attempts, bodyErr)
		if !decision.Retry {
			return failRecord(rec, bodyErr), nil
		}

		inv.logger.WarnContext(ctx, "step attempt failed, retrying",
			slog.String("execution_id", exec.ID.String()),
			slog.String("step", step.Name),
			slog.Int("attempt", rec.Attempts),
			slog.Duration("delay", decision.Delay),
			slog.String("error", bodyErr.Error()),
		)
		inv.emitter.StepRetrying(ctx, exec, rec, decision.Delay)

		if err := inv.sleep(attemptCtx, decision.Delay); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Abandoned during the retry wait.
			return failRecord(rec, bodyErr), nil
		}
	}
}

// failRecord settles rec as terminally failed with the given cause.
func failRecord(rec *StepRecord, cause error) *StepRecord {
	done := time.Now().UTC()
	rec.Status = StepFailed
	rec.Error = cause.Error()
	rec.CompletedAt = &done
	rec.Touch()
	return rec
}

// Commit writes a settled record's terminal outcome. If another writer
// already committed a succeeded outcome for the step, the committed
// record wins and is returned in place of rec.
func (inv *Invoker) Commit(ctx context.Context, exec *Execution, rec *StepRecord) (*StepRecord, error) {
	err := inv.store.CommitStep(ctx, rec)
	if err == nil {
		switch rec.Status {
		case StepSucceeded:
			inv.emitter.StepCompleted(ctx, exec, rec)
		case StepFailed:
			inv.emitter.StepFailed(ctx, exec, rec)
		}
		return rec, nil
	}
	if isCommitted(err) {
		committed, getErr := inv.store.GetStepRecord(ctx, rec.ExecutionID, rec.Name)
		if getErr != nil {
			return nil, getErr
		}
		return committed, nil
	}
	return nil, err
}
