package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/engine"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/store/memory"
)

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	eng, err := engine.New(memory.New(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return eng
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, stride.ErrNoStore) {
		t.Fatalf("err = %v", err)
	}
}

func TestStartAndRunWorkflow(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("greet").
		Step("compose", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := sc.InputAs(&in); err != nil {
				return nil, err
			}
			return []byte(`"hello ` + in.Name + `"`), nil
		}).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	exec, err := eng.Start(ctx, "greet", map[string]string{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}

	// Run synchronously rather than racing the background dispatcher;
	// duplicate passes converge on the committed outcome either way.
	done, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if string(done.Result) != `"hello ada"` {
		t.Fatalf("result = %s", done.Result)
	}

	status, err := eng.GetStatus(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != execution.StatusSucceeded {
		t.Fatalf("stored status = %s", status.Status)
	}
}

func TestStartUnknownWorkflow(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Start(context.Background(), "ghost", nil)
	if !errors.Is(err, stride.ErrWorkflowNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveCallbackAdvancesExecution(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("approval").
		Wait("decision", time.Hour).
		Step("record", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			d, _ := sc.Result("decision")
			return d, nil
		}).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	exec, err := eng.Start(ctx, "approval", nil)
	if err != nil {
		t.Fatal(err)
	}

	suspended, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if suspended.Status != execution.StatusSuspended {
		t.Fatalf("status = %s", suspended.Status)
	}

	if err := eng.ResolveCallback(ctx, suspended.CallbackID, []byte(`"yes"`)); err != nil {
		t.Fatal(err)
	}
	// Resolve schedules a background pass; poll the stored state instead
	// of assuming dispatch latency.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := eng.GetStatus(ctx, exec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if status.Status.Terminal() {
			if status.Status != execution.StatusSucceeded {
				t.Fatalf("status = %s, error = %s", status.Status, status.Error)
			}
			if string(status.Result) != `"yes"` {
				t.Fatalf("result = %s", status.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution never completed, status = %s", status.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second resolution loses.
	err = eng.ResolveCallback(ctx, suspended.CallbackID, []byte(`"no"`))
	if !errors.Is(err, stride.ErrCallbackResolved) {
		t.Fatalf("second resolve err = %v", err)
	}
}

func TestFailCallbackFailsExecution(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("strict-approval").
		Wait("decision", time.Hour).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	exec, _ := eng.Start(ctx, "strict-approval", nil)
	suspended, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.FailCallback(ctx, suspended.CallbackID, "denied"); err != nil {
		t.Fatal(err)
	}
	done, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusFailed || done.Error != "denied" {
		t.Fatalf("status = %s, error = %q", done.Status, done.Error)
	}
}

func TestHeartbeatCallback(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("long-approval").
		Wait("decision", time.Minute).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	exec, _ := eng.Start(ctx, "long-approval", nil)
	suspended, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.HeartbeatCallback(ctx, suspended.CallbackID, time.Hour); err != nil {
		t.Fatal(err)
	}
}

func TestCancelExecution(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("cancellable").
		Wait("never", 24*time.Hour).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	exec, _ := eng.Start(ctx, "cancellable", nil)
	if _, err := eng.Run(ctx, exec.ID); err != nil {
		t.Fatal(err)
	}

	if err := eng.Cancel(ctx, exec.ID); err != nil {
		t.Fatal(err)
	}

	done, err := eng.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusCancelled {
		t.Fatalf("status = %s", done.Status)
	}

	if err := eng.Cancel(ctx, exec.ID); !errors.Is(err, stride.ErrExecutionTerminal) {
		t.Fatalf("cancel terminal err = %v", err)
	}
}

func TestListExecutions(t *testing.T) {
	eng := newEngine(t)

	def := execution.NewDefinition("listed").
		Step("work", func(context.Context, *execution.Scope) ([]byte, error) {
			return []byte(`1`), nil
		}).
		MustBuild()
	if err := eng.RegisterWorkflow(def); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		exec, err := eng.Start(ctx, "listed", nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Run(ctx, exec.ID); err != nil {
			t.Fatal(err)
		}
	}

	execs, err := eng.ListExecutions(ctx, execution.ListOpts{Status: execution.StatusSucceeded})
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 3 {
		t.Fatalf("len = %d", len(execs))
	}
}

func TestShutdownIdempotent(t *testing.T) {
	eng, err := engine.New(memory.New())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
