package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/backoff"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/codec"
	"github.com/stridehq/stride/id"
	"github.com/stridehq/stride/middleware"
)

// CoordinatorConfig wires a coordinator's collaborators.
type CoordinatorConfig struct {
	Store     Store
	Registry  *Registry
	Callbacks *callback.Service
	Codec     codec.Codec
	Logger    *slog.Logger
	Emitter   Emitter

	// Middlewares wrap every step body attempt, outermost first.
	Middlewares []middleware.Middleware

	// BranchConcurrency bounds simultaneous branch bodies per group.
	BranchConcurrency int

	// Retention is how long terminal executions stay queryable before
	// the purge reclaims them. Zero or negative retains forever.
	Retention time.Duration
}

// Coordinator drives executions through their declared node sequence.
// It is re-invocable: Run performs one pass from the checkpoint log's
// current state and returns when the execution suspends, completes, or
// the pass is interrupted. No goroutine blocks across a suspension.
type Coordinator struct {
	store     Store
	registry  *Registry
	callbacks *callback.Service
	inv       *Invoker
	sched     *scheduler
	cdc       codec.Codec
	logger    *slog.Logger
	emitter   Emitter
	retention time.Duration
}

// NewCoordinator creates a coordinator from cfg. Store, Registry, and
// Callbacks are required; everything else has working defaults.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	inv := NewInvoker(cfg.Store, cfg.Logger, cfg.Emitter, cfg.Middlewares...)
	return &Coordinator{
		store:     cfg.Store,
		registry:  cfg.Registry,
		callbacks: cfg.Callbacks,
		inv:       inv,
		sched:     &scheduler{inv: inv, concurrency: cfg.BranchConcurrency},
		cdc:       cfg.Codec,
		logger:    cfg.Logger,
		emitter:   cfg.Emitter,
		retention: cfg.Retention,
	}
}

// Invoker exposes the coordinator's invoker, mainly so tests can stub
// backoff sleeps via Invoker.SetSleep.
func (c *Coordinator) Invoker() *Invoker { return c.inv }

// Start creates a new running execution of the named workflow. The
// timeout bounds the execution's total wall-clock lifetime, including
// suspended time, and is clamped to stride.MaxExecutionTimeout.
func (c *Coordinator) Start(ctx context.Context, workflow string, input []byte, timeout time.Duration) (*Execution, error) {
	if _, ok := c.registry.Lookup(workflow); !ok {
		return nil, fmt.Errorf("execution: %w: %s", stride.ErrWorkflowNotFound, workflow)
	}
	if timeout <= 0 || timeout > stride.MaxExecutionTimeout {
		timeout = stride.MaxExecutionTimeout
	}

	now := time.Now().UTC()
	exec := &Execution{
		Entity:    stride.NewEntity(),
		ID:        id.NewExecutionID(),
		Workflow:  workflow,
		Status:    StatusRunning,
		Input:     input,
		StartedAt: now,
		Deadline:  now.Add(timeout),
	}
	if err := c.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	c.emitter.ExecutionStarted(ctx, exec)
	return exec, nil
}

// Run performs one coordination pass. It returns the execution in its
// post-pass state: terminal, suspended, or (only when the pass was
// interrupted by the caller's context) still running. Run on a terminal
// execution is a no-op returning the stored state.
//
// Run is safe to call repeatedly and from multiple processes; committed
// step results are replayed verbatim and the conditional commit makes
// duplicate passes converge on one outcome.
func (c *Coordinator) Run(ctx context.Context, execID id.ExecutionID) (*Execution, error) {
	exec, err := c.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}

	def, ok := c.registry.Lookup(exec.Workflow)
	if !ok {
		return nil, fmt.Errorf("execution: %w: %s", stride.ErrWorkflowNotFound, exec.Workflow)
	}

	if exec.CancelRequested {
		return c.finalizeCancelled(ctx, exec)
	}
	if !exec.Deadline.IsZero() && !time.Now().Before(exec.Deadline) {
		return c.finalizeFailed(ctx, exec, exec.WaitingStep, 0, stride.ErrExecutionTimeout)
	}

	runCtx := ctx
	if !exec.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, exec.Deadline)
		defer cancel()
	}

	if exec.Status == StatusSuspended {
		exec.Status = StatusRunning
		exec.Touch()
		if err := c.store.UpdateExecution(ctx, exec); err != nil {
			return nil, err
		}
		c.emitter.ExecutionResumed(ctx, exec)
	}

	sc := newScope(exec.ID, exec.Workflow, exec.Input, c.cdc)
	recs, err := c.store.ListStepRecords(runCtx, exec.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*StepRecord, len(recs))
	for _, r := range recs {
		byName[r.Name] = r
		if r.Status == StepSucceeded {
			sc.setResult(r.Name, r.Result)
		}
	}

	var lastResult []byte

	for _, node := range def.Nodes() {
		// Cancellation is observed at node boundaries.
		fresh, err := c.store.GetExecution(runCtx, exec.ID)
		if err != nil {
			return c.passError(ctx, exec, err)
		}
		exec = fresh
		if exec.CancelRequested {
			return c.finalizeCancelled(ctx, exec)
		}

		switch n := node.(type) {
		case *Step:
			rec := byName[n.Name]
			if rec == nil || !rec.Status.Terminal() {
				settled, err := c.inv.Invoke(runCtx, exec, sc, n)
				if err != nil {
					return c.passError(ctx, exec, err)
				}
				rec, err = c.inv.Commit(runCtx, exec, settled)
				if err != nil {
					return c.passError(ctx, exec, err)
				}
			}
			if rec.Status == StepSucceeded {
				sc.setResult(rec.Name, rec.Result)
				lastResult = rec.Result
				continue
			}
			if n.BestEffort {
				c.logger.WarnContext(ctx, "best-effort step failed, continuing",
					slog.String("execution_id", exec.ID.String()),
					slog.String("step", rec.Name),
					slog.String("error", rec.Error),
				)
				continue
			}
			return c.finalizeFailed(ctx, exec, rec.Name, rec.Attempts, errors.New(rec.Error))

		case *Branch:
			failed, err := c.sched.run(runCtx, exec, sc, n)
			if err != nil {
				return c.passError(ctx, exec, err)
			}
			if failed != nil && !n.BestEffort {
				return c.finalizeFailed(ctx, exec, failed.Name, failed.Attempts, errors.New(failed.Error))
			}
			for _, s := range n.Steps {
				if r, ok := sc.Result(s.Name); ok {
					lastResult = r
				}
			}

		case *Wait:
			outcome, err := c.await(runCtx, exec, sc, byName[n.Name],
				n.Name, n.seq, callback.KindSignal, n.Timeout, n.Retry)
			if err != nil {
				return c.passError(ctx, exec, err)
			}
			if outcome.suspended {
				return c.suspend(ctx, exec, n.Name, outcome.cb)
			}
			if outcome.rec.Status == StepSucceeded {
				sc.setResult(n.Name, outcome.rec.Result)
				lastResult = outcome.rec.Result
				continue
			}
			if n.BestEffort {
				continue
			}
			return c.finalizeFailed(ctx, exec, n.Name, outcome.rec.Attempts, errors.New(outcome.rec.Error))

		case *Sleep:
			outcome, err := c.await(runCtx, exec, sc, byName[n.Name],
				n.Name, n.seq, callback.KindTimer, n.Duration, backoff.Policy{})
			if err != nil {
				return c.passError(ctx, exec, err)
			}
			if outcome.suspended {
				return c.suspend(ctx, exec, n.Name, outcome.cb)
			}
			if outcome.rec.Status == StepFailed {
				return c.finalizeFailed(ctx, exec, n.Name, outcome.rec.Attempts, errors.New(outcome.rec.Error))
			}
			// Timers carry no payload; the previous result flows on.

		default:
			return nil, fmt.Errorf("execution: unknown node type %T", node)
		}
	}

	return c.finalizeSucceeded(ctx, exec, lastResult)
}

// waitOutcome is one await step's disposition for the current pass.
type waitOutcome struct {
	// suspended means the execution should park on cb.
	suspended bool
	cb        *callback.Callback

	// rec is set when the wait settled terminally.
	rec *StepRecord
}

// await advances one suspension node. It arms callbacks, interprets
// settled ones, and re-arms on retryable timeouts. It commits the
// node's step record on terminal outcomes but leaves the execution
// header to the caller.
func (c *Coordinator) await(ctx context.Context, exec *Execution, sc *Scope, rec *StepRecord,
	name string, seq int, kind callback.Kind, ttl time.Duration, retry backoff.Policy) (waitOutcome, error) {

	if rec != nil && rec.Status.Terminal() {
		return waitOutcome{rec: rec}, nil
	}

	// A callback is parked for this node if the header says so.
	if exec.WaitingStep == name && !exec.CallbackID.IsNil() {
		cb, err := c.callbacks.Get(ctx, exec.CallbackID)
		switch {
		case err == nil:
			return c.settleAwait(ctx, exec, rec, name, seq, cb, kind, ttl, retry)
		case errors.Is(err, stride.ErrCallbackNotFound):
			// Purged or lost; arm a fresh one below.
		default:
			return waitOutcome{}, err
		}
	}

	return c.armCallback(ctx, exec, rec, name, seq, kind, ttl)
}

func (c *Coordinator) armCallback(ctx context.Context, exec *Execution, rec *StepRecord,
	name string, seq int, kind callback.Kind, ttl time.Duration) (waitOutcome, error) {

	if rec == nil {
		rec = newStepRecord(exec.ID, name, seq)
	}
	rec.Attempts++
	rec.Status = StepRunning
	if rec.StartedAt == nil {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	rec.Touch()
	if err := c.store.PutStepRecord(ctx, rec); err != nil {
		return waitOutcome{}, err
	}

	cb, err := c.callbacks.Create(ctx, exec.ID, name, kind, ttl)
	if err != nil {
		return waitOutcome{}, err
	}
	return waitOutcome{suspended: true, cb: cb}, nil
}

func (c *Coordinator) settleAwait(ctx context.Context, exec *Execution, rec *StepRecord,
	name string, seq int, cb *callback.Callback, kind callback.Kind, ttl time.Duration,
	retry backoff.Policy) (waitOutcome, error) {

	if rec == nil {
		rec = newStepRecord(exec.ID, name, seq)
		rec.Attempts = 1
	}

	switch {
	case cb.Status == callback.StatusWaiting:
		return waitOutcome{suspended: true, cb: cb}, nil

	case cb.Status == callback.StatusResolved,
		cb.Status == callback.StatusExpired && cb.Kind == callback.KindTimer:
		// Timer expiry is the success path; signals carry the payload.
		done := time.Now().UTC()
		rec.Status = StepSucceeded
		rec.Result = cb.Payload
		rec.Error = ""
		rec.CompletedAt = &done
		rec.Touch()
		committed, err := c.inv.Commit(ctx, exec, rec)
		if err != nil {
			return waitOutcome{}, err
		}
		return waitOutcome{rec: committed}, nil
	}

	// Expired signal or failed resolution: the wait's retry policy
	// decides between a fresh callback and a terminal failure.
	var cause error
	if cb.Status == callback.StatusExpired {
		cause = stride.ErrCallbackTimeout
	} else {
		cause = errors.New(cb.Error)
	}

	if decision := retry.Evaluate(rec.Attempts, cause); decision.Retry {
		c.emitter.StepRetrying(ctx, exec, rec, decision.Delay)
		return c.armCallback(ctx, exec, rec, name, seq, kind, ttl)
	}

	done := time.Now().UTC()
	rec.Status = StepFailed
	rec.Error = cause.Error()
	rec.CompletedAt = &done
	rec.Touch()
	committed, err := c.inv.Commit(ctx, exec, rec)
	if err != nil {
		return waitOutcome{}, err
	}
	return waitOutcome{rec: committed}, nil
}

// suspend parks the execution on cb and returns it in suspended state.
func (c *Coordinator) suspend(ctx context.Context, exec *Execution, step string, cb *callback.Callback) (*Execution, error) {
	exec.Status = StatusSuspended
	exec.WaitingStep = step
	exec.CallbackID = cb.ID
	if cb.Kind == callback.KindTimer {
		wake := cb.ExpiresAt
		exec.WakeAt = &wake
	} else {
		exec.WakeAt = nil
	}
	exec.Touch()
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	c.emitter.ExecutionSuspended(ctx, exec)
	return exec, nil
}

// passError maps an interrupted pass to its outcome. The execution
// deadline expiring terminates the execution; the caller's own context
// cancelling merely aborts the pass.
func (c *Coordinator) passError(ctx context.Context, exec *Execution, err error) (*Execution, error) {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil &&
		!exec.Deadline.IsZero() && !time.Now().Before(exec.Deadline) {
		return c.finalizeFailed(ctx, exec, "", 0, stride.ErrExecutionTimeout)
	}
	return nil, err
}

func (c *Coordinator) finalizeSucceeded(ctx context.Context, exec *Execution, result []byte) (*Execution, error) {
	c.terminalize(exec, StatusSucceeded)
	exec.Result = result
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	c.emitter.ExecutionCompleted(ctx, exec)
	c.logger.InfoContext(ctx, "execution succeeded",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow", exec.Workflow),
	)
	return exec, nil
}

func (c *Coordinator) finalizeFailed(ctx context.Context, exec *Execution, failedStep string, attempts int, cause error) (*Execution, error) {
	c.terminalize(exec, StatusFailed)
	exec.Error = cause.Error()
	exec.FailedStep = failedStep
	exec.AttemptsOnFailure = attempts
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	c.emitter.ExecutionFailed(ctx, exec)
	c.logger.WarnContext(ctx, "execution failed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow", exec.Workflow),
		slog.String("failed_step", failedStep),
		slog.String("error", exec.Error),
	)
	return exec, nil
}

func (c *Coordinator) finalizeCancelled(ctx context.Context, exec *Execution) (*Execution, error) {
	c.terminalize(exec, StatusCancelled)
	exec.Error = stride.ErrExecutionCancelled.Error()
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	c.emitter.ExecutionCancelled(ctx, exec)
	c.logger.InfoContext(ctx, "execution cancelled",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow", exec.Workflow),
	)
	return exec, nil
}

func (c *Coordinator) terminalize(exec *Execution, status Status) {
	now := time.Now().UTC()
	exec.Status = status
	exec.WaitingStep = ""
	exec.CallbackID = id.CallbackID{}
	exec.WakeAt = nil
	exec.CompletedAt = &now
	if c.retention > 0 {
		retain := now.Add(c.retention)
		exec.RetainUntil = &retain
	}
	exec.Touch()
}
