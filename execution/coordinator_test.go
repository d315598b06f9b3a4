package execution_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/backoff"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/store/memory"
)

// fastRetry retries immediately so attempt loops finish within a test.
func fastRetry(attempts int) backoff.Policy {
	return backoff.Policy{MaxAttempts: attempts}
}

type testHarness struct {
	store     *memory.Store
	registry  *execution.Registry
	callbacks *callback.Service
	coord     *execution.Coordinator
}

func newHarness(t *testing.T, defs ...*execution.Definition) *testHarness {
	t.Helper()
	store := memory.New()
	registry := execution.NewRegistry()
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	callbacks := callback.NewService(store, nil, nil, nil)
	coord := execution.NewCoordinator(execution.CoordinatorConfig{
		Store:     store,
		Registry:  registry,
		Callbacks: callbacks,
	})
	return &testHarness{store: store, registry: registry, callbacks: callbacks, coord: coord}
}

func echo(result string) execution.Body {
	return func(context.Context, *execution.Scope) ([]byte, error) {
		return []byte(result), nil
	}
}

func TestStartUnknownWorkflow(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Start(context.Background(), "nope", nil, 0)
	if !errors.Is(err, stride.ErrWorkflowNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSequentialWorkflow(t *testing.T) {
	def := execution.NewDefinition("pipeline").
		Step("fetch", echo(`"raw"`)).
		Step("transform", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			prev, ok := sc.Result("fetch")
			if !ok {
				return nil, errors.New("fetch result missing")
			}
			return []byte(`{"from":` + string(prev) + `}`), nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, err := h.coord.Start(ctx, "pipeline", []byte(`{"n":1}`), 0)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != execution.StatusRunning {
		t.Fatalf("status after start = %s", exec.Status)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `{"from":"raw"}` {
		t.Fatalf("result = %s", done.Result)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	recs, err := h.store.ListStepRecords(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Name != "fetch" || recs[1].Name != "transform" {
		t.Fatalf("records = %+v", recs)
	}
	for _, rec := range recs {
		if rec.Status != execution.StepSucceeded || rec.Attempts != 1 {
			t.Fatalf("record %s: %+v", rec.Name, rec)
		}
	}
}

func TestRunOnTerminalExecutionIsNoop(t *testing.T) {
	var calls atomic.Int32
	def := execution.NewDefinition("once").
		Step("only", func(context.Context, *execution.Scope) ([]byte, error) {
			calls.Add(1)
			return []byte(`1`), nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "once", nil, 0)
	if _, err := h.coord.Run(ctx, exec.ID); err != nil {
		t.Fatal(err)
	}
	again, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s", again.Status)
	}
	if calls.Load() != 1 {
		t.Fatalf("body ran %d times", calls.Load())
	}
}

func TestReplayNeverRerunsCommittedSteps(t *testing.T) {
	var fetches atomic.Int32
	def := execution.NewDefinition("replayed").
		Step("fetch", func(context.Context, *execution.Scope) ([]byte, error) {
			fetches.Add(1)
			return []byte(`"data"`), nil
		}).
		Sleep("cooldown", time.Minute).
		Step("finish", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			prev, _ := sc.Result("fetch")
			return prev, nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "replayed", nil, 0)
	suspended, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if suspended.Status != execution.StatusSuspended {
		t.Fatalf("status = %s", suspended.Status)
	}
	if suspended.WaitingStep != "cooldown" || suspended.CallbackID.IsNil() {
		t.Fatalf("suspension header: %+v", suspended)
	}
	if suspended.WakeAt == nil {
		t.Fatal("timer suspension must record wake_at")
	}

	// Timer expiry is the success path for sleeps.
	if _, err := h.callbacks.Sweep(ctx, time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `"data"` {
		t.Fatalf("result = %s", done.Result)
	}
	if fetches.Load() != 1 {
		t.Fatalf("fetch ran %d times across passes", fetches.Load())
	}
}

func TestRetryExhaustionFailsExecution(t *testing.T) {
	var attempts atomic.Int32
	def := execution.NewDefinition("flaky").
		Step("always-fails", func(context.Context, *execution.Scope) ([]byte, error) {
			attempts.Add(1)
			return nil, errors.New("boom")
		}, execution.WithRetry(fastRetry(3))).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "flaky", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.FailedStep != "always-fails" || done.AttemptsOnFailure != 3 {
		t.Fatalf("failure detail: %+v", done)
	}
	if done.Error != "boom" {
		t.Fatalf("error = %q", done.Error)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d", attempts.Load())
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var attempts atomic.Int32
	def := execution.NewDefinition("recovers").
		Step("third-time-lucky", func(context.Context, *execution.Scope) ([]byte, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return []byte(`"ok"`), nil
		}, execution.WithRetry(fastRetry(5))).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "recovers", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	rec, _ := h.store.GetStepRecord(ctx, exec.ID, "third-time-lucky")
	if rec.Attempts != 3 {
		t.Fatalf("attempts = %d", rec.Attempts)
	}
}

func TestNonRetryableErrorShortCircuits(t *testing.T) {
	sentinel := errors.New("bad input")
	var attempts atomic.Int32
	policy := backoff.Policy{
		MaxAttempts:  5,
		NonRetryable: func(err error) bool { return errors.Is(err, sentinel) },
	}
	def := execution.NewDefinition("strict").
		Step("validate", func(context.Context, *execution.Scope) ([]byte, error) {
			attempts.Add(1)
			return nil, sentinel
		}, execution.WithRetry(policy)).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "strict", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed || attempts.Load() != 1 {
		t.Fatalf("status = %s, attempts = %d", done.Status, attempts.Load())
	}
}

func TestBestEffortStepDoesNotFailExecution(t *testing.T) {
	def := execution.NewDefinition("tolerant").
		Step("optional", func(context.Context, *execution.Scope) ([]byte, error) {
			return nil, errors.New("nice to have")
		}, execution.WithBestEffort()).
		Step("required", echo(`"done"`)).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "tolerant", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}

	rec, _ := h.store.GetStepRecord(ctx, exec.ID, "optional")
	if rec.Status != execution.StepFailed || rec.Error != "nice to have" {
		t.Fatalf("optional record: %+v", rec)
	}
}

func TestBranchRunsConcurrently(t *testing.T) {
	// Each body blocks until every sibling has started, so the test
	// deadlocks unless the group truly runs in parallel.
	var gate sync.WaitGroup
	gate.Add(3)
	body := func(result string) execution.Body {
		return func(context.Context, *execution.Scope) ([]byte, error) {
			gate.Done()
			gate.Wait()
			return []byte(result), nil
		}
	}

	def := execution.NewDefinition("fanout").
		Branch("enrich",
			execution.NewStep("geo", body(`"geo"`)),
			execution.NewStep("credit", body(`"credit"`)),
			execution.NewStep("fraud", body(`"fraud"`)),
		).
		Step("merge", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			var parts []string
			for _, name := range []string{"geo", "credit", "fraud"} {
				r, ok := sc.Result(name)
				if !ok {
					return nil, errors.New(name + " result missing")
				}
				parts = append(parts, string(r))
			}
			return []byte(strings.Join(parts, ",")), nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "fanout", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `"geo","credit","fraud"` {
		t.Fatalf("result = %s", done.Result)
	}

	// The checkpoint log is ordered by declared sequence regardless of
	// completion order.
	recs, _ := h.store.ListStepRecords(ctx, exec.ID)
	want := []string{"geo", "credit", "fraud", "merge"}
	if len(recs) != len(want) {
		t.Fatalf("records = %d", len(recs))
	}
	for i, name := range want {
		if recs[i].Name != name {
			t.Fatalf("recs[%d] = %s, want %s", i, recs[i].Name, name)
		}
	}
}

func TestBranchFailureFailsExecution(t *testing.T) {
	def := execution.NewDefinition("fragile-fanout").
		Branch("group",
			execution.NewStep("ok", echo(`"ok"`)),
			execution.NewStep("broken", func(context.Context, *execution.Scope) ([]byte, error) {
				return nil, errors.New("branch boom")
			}),
		).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "fragile-fanout", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed || done.FailedStep != "broken" {
		t.Fatalf("status = %s, failed_step = %s", done.Status, done.FailedStep)
	}

	// The sibling's success is still committed.
	rec, err := h.store.GetStepRecord(ctx, exec.ID, "ok")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != execution.StepSucceeded {
		t.Fatalf("sibling record: %+v", rec)
	}
}

func TestBranchFailureCancelsSiblings(t *testing.T) {
	// The sibling blocks until it observes cancellation; if the group's
	// terminal failure never signals it, the body times out and fails
	// the test with a distinct error.
	def := execution.NewDefinition("doomed-fanout").
		Branch("group",
			execution.NewStep("slow", func(ctx context.Context, _ *execution.Scope) ([]byte, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(2 * time.Second):
					return nil, errors.New("cancellation never arrived")
				}
			}),
			execution.NewStep("doomed", func(context.Context, *execution.Scope) ([]byte, error) {
				return nil, errors.New("boom")
			}),
		).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "doomed-fanout", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The failure that decided the group is the one reported, not the
	// sibling that was told to stand down.
	if done.Status != execution.StatusFailed || done.FailedStep != "doomed" {
		t.Fatalf("status = %s, failed_step = %s, error = %q", done.Status, done.FailedStep, done.Error)
	}

	rec, err := h.store.GetStepRecord(ctx, exec.ID, "slow")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != execution.StepFailed || rec.Error != context.Canceled.Error() {
		t.Fatalf("sibling record: %+v", rec)
	}
}

func TestBranchFailureStopsSiblingRetryWait(t *testing.T) {
	// The sibling's retry schedule would wait a minute between attempts;
	// the group's terminal failure must cut that wait short instead of
	// letting the schedule run out after the outcome is decided.
	def := execution.NewDefinition("impatient-fanout").
		Branch("group",
			execution.NewStep("flaky", func(context.Context, *execution.Scope) ([]byte, error) {
				return nil, errors.New("sputter")
			}, execution.WithRetry(backoff.Policy{MaxAttempts: 5, BaseDelay: time.Minute})),
			execution.NewStep("doomed", func(context.Context, *execution.Scope) ([]byte, error) {
				return nil, errors.New("boom")
			}),
		).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	start := time.Now()
	exec, _ := h.coord.Start(ctx, "impatient-fanout", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("group took %v; sibling ran its full retry schedule", elapsed)
	}
	if done.Status != execution.StatusFailed || done.FailedStep != "doomed" {
		t.Fatalf("status = %s, failed_step = %s", done.Status, done.FailedStep)
	}

	rec, err := h.store.GetStepRecord(ctx, exec.ID, "flaky")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != execution.StepFailed || rec.Error != "sputter" || rec.Attempts != 1 {
		t.Fatalf("sibling record: %+v", rec)
	}
}

func TestBranchBestEffortGroupContinues(t *testing.T) {
	def := execution.NewDefinition("soft-fanout").
		BranchOpt("group", true,
			execution.NewStep("broken", func(context.Context, *execution.Scope) ([]byte, error) {
				return nil, errors.New("boom")
			}),
		).
		Step("after", echo(`"after"`)).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "soft-fanout", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
}

func TestWaitResolvedBySignal(t *testing.T) {
	def := execution.NewDefinition("approval-flow").
		Step("submit", echo(`"submitted"`)).
		Wait("approval", time.Hour).
		Step("apply", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			decision, _ := sc.Result("approval")
			return decision, nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "approval-flow", nil, 0)
	suspended, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if suspended.Status != execution.StatusSuspended || suspended.WaitingStep != "approval" {
		t.Fatalf("suspension: %+v", suspended)
	}
	if suspended.WakeAt != nil {
		t.Fatal("signal waits have no wake_at")
	}

	// Running again without a resolution keeps it parked on the same
	// callback.
	parked, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if parked.Status != execution.StatusSuspended {
		t.Fatalf("status = %s", parked.Status)
	}
	if parked.CallbackID.String() != suspended.CallbackID.String() {
		t.Fatal("unresolved wait must not arm a new callback")
	}

	if err := h.callbacks.Resolve(ctx, suspended.CallbackID, []byte(`"approved"`)); err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `"approved"` {
		t.Fatalf("result = %s", done.Result)
	}
	if done.WaitingStep != "" || !done.CallbackID.IsNil() {
		t.Fatalf("suspension header not cleared: %+v", done)
	}
}

func TestWaitFailedResolutionFailsExecution(t *testing.T) {
	def := execution.NewDefinition("rejections").
		Wait("approval", time.Hour).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "rejections", nil, 0)
	suspended, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.callbacks.Fail(ctx, suspended.CallbackID, "rejected"); err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed || done.Error != "rejected" {
		t.Fatalf("status = %s, error = %q", done.Status, done.Error)
	}
}

func TestWaitTimeoutRetriesWithFreshCallback(t *testing.T) {
	def := execution.NewDefinition("patient").
		Wait("signal", time.Minute, execution.WithWaitRetry(fastRetry(2))).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "patient", nil, 0)
	first, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}

	// First callback expires; the retry policy arms a second one.
	if _, err := h.callbacks.Sweep(ctx, time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	second, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != execution.StatusSuspended {
		t.Fatalf("status = %s, error = %s", second.Status, second.Error)
	}
	if second.CallbackID.String() == first.CallbackID.String() {
		t.Fatal("retry must arm a fresh callback")
	}

	// Second expiry exhausts the policy.
	if _, err := h.callbacks.Sweep(ctx, time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if !strings.Contains(done.Error, "timed out") {
		t.Fatalf("error = %q", done.Error)
	}
	if done.AttemptsOnFailure != 2 {
		t.Fatalf("attempts = %d", done.AttemptsOnFailure)
	}
}

func TestWaitBestEffortTimeout(t *testing.T) {
	def := execution.NewDefinition("soft-wait").
		Step("before", echo(`"before"`)).
		Wait("maybe-signal", time.Minute, execution.WithWaitBestEffort()).
		Step("after", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			if _, ok := sc.Result("maybe-signal"); ok {
				return nil, errors.New("timed-out wait must have no result")
			}
			return []byte(`"after"`), nil
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "soft-wait", nil, 0)
	if _, err := h.coord.Run(ctx, exec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.callbacks.Sweep(ctx, time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `"after"` {
		t.Fatalf("result = %s", done.Result)
	}
}

func TestCancelBeforePass(t *testing.T) {
	def := execution.NewDefinition("cancellable").
		Step("work", echo(`"work"`)).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "cancellable", nil, 0)
	exec.CancelRequested = true
	if err := h.store.UpdateExecution(ctx, exec); err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusCancelled {
		t.Fatalf("status = %s", done.Status)
	}
}

func TestExecutionTimeout(t *testing.T) {
	def := execution.NewDefinition("short-lived").
		Step("work", echo(`"work"`)).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, err := h.coord.Start(ctx, "short-lived", nil, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.Error != stride.ErrExecutionTimeout.Error() {
		t.Fatalf("error = %q", done.Error)
	}
}

func TestExecutionTimeoutDuringRetryWait(t *testing.T) {
	// The deadline passes while the step still has retries left: the
	// interrupted backoff wait must finalize the execution as timed out,
	// not surface as a pass error or let the schedule continue.
	def := execution.NewDefinition("deadline-bound").
		Step("flaky", func(context.Context, *execution.Scope) ([]byte, error) {
			return nil, errors.New("flaky")
		}, execution.WithRetry(backoff.Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond})).
		MustBuild()

	h := newHarness(t, def)
	ctx := context.Background()

	exec, err := h.coord.Start(ctx, "deadline-bound", nil, 250*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.Error != stride.ErrExecutionTimeout.Error() {
		t.Fatalf("error = %q, want execution timeout", done.Error)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	// Stub the sleep to observe the delays the invoker would wait:
	// base×rate^(k-1) for retry k.
	var slept []time.Duration
	def := execution.NewDefinition("backed-off").
		Step("flaky", func(context.Context, *execution.Scope) ([]byte, error) {
			return nil, errors.New("flaky")
		}, execution.WithRetry(backoff.Policy{MaxAttempts: 3, BaseDelay: time.Second, Rate: 2})).
		MustBuild()

	h := newHarness(t, def)
	h.coord.Invoker().SetSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	ctx := context.Background()

	exec, _ := h.coord.Start(ctx, "backed-off", nil, 0)
	done, err := h.coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed || done.AttemptsOnFailure != 3 {
		t.Fatalf("status = %s, attempts = %d", done.Status, done.AttemptsOnFailure)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("slept[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestRetentionStampsTerminalExecutions(t *testing.T) {
	def := execution.NewDefinition("retained").
		Step("work", echo(`"work"`)).
		MustBuild()

	store := memory.New()
	registry := execution.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatal(err)
	}
	coord := execution.NewCoordinator(execution.CoordinatorConfig{
		Store:     store,
		Registry:  registry,
		Callbacks: callback.NewService(store, nil, nil, nil),
		Retention: time.Hour,
	})
	ctx := context.Background()

	exec, _ := coord.Start(ctx, "retained", nil, 0)
	done, err := coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.RetainUntil == nil {
		t.Fatal("retain_until not set")
	}
	if done.RetainUntil.Before(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("retain_until = %v", done.RetainUntil)
	}
}

func TestCallerContextCancellationDoesNotTerminate(t *testing.T) {
	started := make(chan struct{})
	def := execution.NewDefinition("interruptible").
		Step("slow", func(ctx context.Context, _ *execution.Scope) ([]byte, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		MustBuild()

	h := newHarness(t, def)
	ctx, cancel := context.WithCancel(context.Background())

	exec, err := h.coord.Start(ctx, "interruptible", nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		<-started
		cancel()
	}()

	if _, err := h.coord.Run(ctx, exec.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	// The execution stays non-terminal so a later pass can finish it.
	stored, err := h.store.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status.Terminal() {
		t.Fatalf("status = %s, interrupted pass must not terminate", stored.Status)
	}
}
