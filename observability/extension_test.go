package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/id"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			sums[m.Name] = total
		}
	}
	return sums
}

func TestMetricsExtensionCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetricsExtensionWithProvider(mp)

	ctx := context.Background()
	exec := &execution.Execution{ID: id.NewExecutionID(), Workflow: "orders"}
	rec := &execution.StepRecord{Name: "charge"}
	cb := callback.New(exec.ID, "approval", callback.KindSignal, time.Minute)

	if err := m.OnExecutionStarted(ctx, exec); err != nil {
		t.Fatal(err)
	}
	if err := m.OnExecutionSuspended(ctx, exec); err != nil {
		t.Fatal(err)
	}
	if err := m.OnExecutionResumed(ctx, exec); err != nil {
		t.Fatal(err)
	}
	if err := m.OnExecutionCompleted(ctx, exec, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := m.OnExecutionFailed(ctx, exec, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if err := m.OnExecutionCancelled(ctx, exec); err != nil {
		t.Fatal(err)
	}
	if err := m.OnStepCompleted(ctx, exec, rec); err != nil {
		t.Fatal(err)
	}
	if err := m.OnStepFailed(ctx, exec, rec, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if err := m.OnStepRetrying(ctx, exec, rec, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := m.OnCallbackCreated(ctx, cb); err != nil {
		t.Fatal(err)
	}
	if err := m.OnCallbackResolved(ctx, cb); err != nil {
		t.Fatal(err)
	}
	if err := m.OnCallbackExpired(ctx, cb); err != nil {
		t.Fatal(err)
	}

	sums := collect(t, reader)
	for _, name := range []string{
		"stride.execution.started",
		"stride.execution.suspended",
		"stride.execution.resumed",
		"stride.execution.completed",
		"stride.execution.failed",
		"stride.execution.cancelled",
		"stride.step.completed",
		"stride.step.failed",
		"stride.step.retried",
		"stride.callback.created",
		"stride.callback.resolved",
		"stride.callback.expired",
	} {
		if sums[name] != 1 {
			t.Errorf("%s = %d, want 1", name, sums[name])
		}
	}
}

func TestMetricsExtensionName(t *testing.T) {
	if name := NewMetricsExtension().Name(); name != "observability-metrics" {
		t.Fatalf("name = %q", name)
	}
}
