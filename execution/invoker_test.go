package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
	"github.com/stridehq/stride/store/memory"
)

func runningExec() *execution.Execution {
	now := time.Now().UTC()
	return &execution.Execution{
		Entity:    stride.NewEntity(),
		ID:        id.NewExecutionID(),
		Workflow:  "w",
		Status:    execution.StatusRunning,
		StartedAt: now,
		Deadline:  now.Add(time.Hour),
	}
}

func TestInvokeReplaysCommittedResult(t *testing.T) {
	store := memory.New()
	inv := execution.NewInvoker(store, nil, nil)
	ctx := context.Background()
	exec := runningExec()

	committed := &execution.StepRecord{
		Entity: stride.NewEntity(), ID: id.NewStepID(),
		ExecutionID: exec.ID, Name: "cached",
		Status: execution.StepSucceeded, Result: []byte(`"stored"`), Attempts: 1,
	}
	if err := store.CommitStep(ctx, committed); err != nil {
		t.Fatal(err)
	}

	step := execution.NewStep("cached", func(context.Context, *execution.Scope) ([]byte, error) {
		t.Fatal("body must not run for a committed step")
		return nil, nil
	})
	rec, err := inv.Invoke(ctx, exec, nil, step)
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Result) != `"stored"` || rec.Attempts != 1 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestCommitAdoptsRacingWinner(t *testing.T) {
	store := memory.New()
	inv := execution.NewInvoker(store, nil, nil)
	ctx := context.Background()
	exec := runningExec()

	winner := &execution.StepRecord{
		Entity: stride.NewEntity(), ID: id.NewStepID(),
		ExecutionID: exec.ID, Name: "raced",
		Status: execution.StepSucceeded, Result: []byte(`"winner"`),
	}
	if err := store.CommitStep(ctx, winner); err != nil {
		t.Fatal(err)
	}

	loser := &execution.StepRecord{
		Entity: stride.NewEntity(), ID: id.NewStepID(),
		ExecutionID: exec.ID, Name: "raced",
		Status: execution.StepSucceeded, Result: []byte(`"loser"`),
	}
	got, err := inv.Commit(ctx, exec, loser)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Result) != `"winner"` {
		t.Fatalf("adopted result = %s", got.Result)
	}
}

func TestInvokeLeavesRecordOpenOnCancel(t *testing.T) {
	store := memory.New()
	inv := execution.NewInvoker(store, nil, nil)
	exec := runningExec()

	ctx, cancel := context.WithCancel(context.Background())
	step := execution.NewStep("interrupted", func(ctx context.Context, _ *execution.Scope) ([]byte, error) {
		cancel()
		return nil, ctx.Err()
	})

	if _, err := inv.Invoke(ctx, exec, nil, step); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	rec, err := store.GetStepRecord(context.Background(), exec.ID, "interrupted")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status.Terminal() {
		t.Fatalf("status = %s, cancelled attempt must stay non-terminal", rec.Status)
	}
}
