package execution_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stridehq/stride/codec"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/store/memory"
)

type topic struct {
	Query string `json:"query"`
}

type findings struct {
	Sources int    `json:"sources"`
	Summary string `json:"summary"`
}

// TestTypedPipeline runs a research pipeline end to end with typed
// bodies and typed result access.
func TestTypedPipeline(t *testing.T) {
	cdc := codec.JSON{}

	def := execution.NewDefinition("research").
		Step("gather", execution.Typed(cdc, func(_ context.Context, in topic) (findings, error) {
			if in.Query == "" {
				return findings{}, errors.New("empty query")
			}
			return findings{Sources: 3, Summary: "raw notes on " + in.Query}, nil
		})).
		Step("summarize", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			got, err := execution.ResultOf[findings](sc, "gather")
			if err != nil {
				return nil, err
			}
			return cdc.Marshal(map[string]any{
				"sources": got.Sources,
				"report":  "condensed: " + got.Summary,
			})
		}).
		MustBuild()

	store := memory.New()
	registry := execution.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatal(err)
	}
	coord := execution.NewCoordinator(execution.CoordinatorConfig{
		Store:    store,
		Registry: registry,
		Codec:    cdc,
	})
	ctx := context.Background()

	input, err := cdc.Marshal(topic{Query: "durable timers"})
	if err != nil {
		t.Fatal(err)
	}
	exec, err := coord.Start(ctx, "research", input, 0)
	if err != nil {
		t.Fatal(err)
	}
	done, err := coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}

	var report struct {
		Sources int    `json:"sources"`
		Report  string `json:"report"`
	}
	if err := cdc.Unmarshal(done.Result, &report); err != nil {
		t.Fatal(err)
	}
	if report.Sources != 3 || report.Report != "condensed: raw notes on durable timers" {
		t.Fatalf("report = %+v", report)
	}
}

func TestScopeResultAccess(t *testing.T) {
	cdc := codec.JSON{}

	def := execution.NewDefinition("scoped").
		Step("inspect", func(_ context.Context, sc *execution.Scope) ([]byte, error) {
			if sc.Workflow() != "scoped" {
				return nil, errors.New("wrong workflow name")
			}
			if sc.ExecutionID().IsNil() {
				return nil, errors.New("missing execution id")
			}

			var in topic
			if err := sc.InputAs(&in); err != nil {
				return nil, err
			}
			if in.Query != "q" {
				return nil, errors.New("input not decoded")
			}

			if _, err := execution.ResultOf[findings](sc, "nonexistent"); !errors.Is(err, execution.ErrNoResult) {
				return nil, errors.New("expected ErrNoResult for unknown step")
			}
			return []byte(`"done"`), nil
		}).
		MustBuild()

	store := memory.New()
	registry := execution.NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatal(err)
	}
	coord := execution.NewCoordinator(execution.CoordinatorConfig{
		Store:    store,
		Registry: registry,
		Codec:    cdc,
	})
	ctx := context.Background()

	exec, err := coord.Start(ctx, "scoped", []byte(`{"query":"q"}`), 0)
	if err != nil {
		t.Fatal(err)
	}
	done, err := coord.Run(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != execution.StatusSucceeded {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
}
