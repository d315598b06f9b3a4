package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/ext"
)

const meterName = "github.com/stridehq/stride/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted   = (*MetricsExtension)(nil)
	_ ext.ExecutionSuspended = (*MetricsExtension)(nil)
	_ ext.ExecutionResumed   = (*MetricsExtension)(nil)
	_ ext.ExecutionCompleted = (*MetricsExtension)(nil)
	_ ext.ExecutionFailed    = (*MetricsExtension)(nil)
	_ ext.ExecutionCancelled = (*MetricsExtension)(nil)
	_ ext.StepCompleted      = (*MetricsExtension)(nil)
	_ ext.StepFailed         = (*MetricsExtension)(nil)
	_ ext.StepRetrying       = (*MetricsExtension)(nil)
	_ ext.CallbackCreated    = (*MetricsExtension)(nil)
	_ ext.CallbackResolved   = (*MetricsExtension)(nil)
	_ ext.CallbackExpired    = (*MetricsExtension)(nil)
)

// MetricsExtension records engine-wide lifecycle metrics. Register it
// as an extension to track execution starts, completions, failures,
// suspensions, step outcomes, and callback traffic.
type MetricsExtension struct {
	execStarted   metric.Int64Counter
	execSuspended metric.Int64Counter
	execResumed   metric.Int64Counter
	execCompleted metric.Int64Counter
	execFailed    metric.Int64Counter
	execCancelled metric.Int64Counter
	execDuration  metric.Float64Histogram
	stepCompleted metric.Int64Counter
	stepFailed    metric.Int64Counter
	stepRetried   metric.Int64Counter
	cbCreated     metric.Int64Counter
	cbResolved    metric.Int64Counter
	cbExpired     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension from the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithProvider(otel.GetMeterProvider())
}

// NewMetricsExtensionWithProvider creates a MetricsExtension with the
// provided meter provider. Use an sdk/metric reader in tests.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) *MetricsExtension {
	meter := mp.Meter(meterName)
	m := &MetricsExtension{}
	m.execStarted, _ = meter.Int64Counter("stride.execution.started")
	m.execSuspended, _ = meter.Int64Counter("stride.execution.suspended")
	m.execResumed, _ = meter.Int64Counter("stride.execution.resumed")
	m.execCompleted, _ = meter.Int64Counter("stride.execution.completed")
	m.execFailed, _ = meter.Int64Counter("stride.execution.failed")
	m.execCancelled, _ = meter.Int64Counter("stride.execution.cancelled")
	m.execDuration, _ = meter.Float64Histogram("stride.execution.duration",
		metric.WithUnit("s"))
	m.stepCompleted, _ = meter.Int64Counter("stride.step.completed")
	m.stepFailed, _ = meter.Int64Counter("stride.step.failed")
	m.stepRetried, _ = meter.Int64Counter("stride.step.retried")
	m.cbCreated, _ = meter.Int64Counter("stride.callback.created")
	m.cbResolved, _ = meter.Int64Counter("stride.callback.resolved")
	m.cbExpired, _ = meter.Int64Counter("stride.callback.expired")
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(exec *execution.Execution) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow", exec.Workflow))
}

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(ctx context.Context, exec *execution.Execution) error {
	m.execStarted.Add(ctx, 1, workflowAttr(exec))
	return nil
}

// OnExecutionSuspended implements ext.ExecutionSuspended.
func (m *MetricsExtension) OnExecutionSuspended(ctx context.Context, exec *execution.Execution) error {
	m.execSuspended.Add(ctx, 1, workflowAttr(exec))
	return nil
}

// OnExecutionResumed implements ext.ExecutionResumed.
func (m *MetricsExtension) OnExecutionResumed(ctx context.Context, exec *execution.Execution) error {
	m.execResumed.Add(ctx, 1, workflowAttr(exec))
	return nil
}

// OnExecutionCompleted implements ext.ExecutionCompleted.
func (m *MetricsExtension) OnExecutionCompleted(ctx context.Context, exec *execution.Execution, elapsed time.Duration) error {
	m.execCompleted.Add(ctx, 1, workflowAttr(exec))
	m.execDuration.Record(ctx, elapsed.Seconds(), workflowAttr(exec))
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (m *MetricsExtension) OnExecutionFailed(ctx context.Context, exec *execution.Execution, _ error) error {
	m.execFailed.Add(ctx, 1, workflowAttr(exec))
	return nil
}

// OnExecutionCancelled implements ext.ExecutionCancelled.
func (m *MetricsExtension) OnExecutionCancelled(ctx context.Context, exec *execution.Execution) error {
	m.execCancelled.Add(ctx, 1, workflowAttr(exec))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord) error {
	m.stepCompleted.Add(ctx, 1, stepAttrs(exec, rec))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, _ error) error {
	m.stepFailed.Add(ctx, 1, stepAttrs(exec, rec))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, exec *execution.Execution, rec *execution.StepRecord, _ time.Duration) error {
	m.stepRetried.Add(ctx, 1, stepAttrs(exec, rec))
	return nil
}

func stepAttrs(exec *execution.Execution, rec *execution.StepRecord) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("workflow", exec.Workflow),
		attribute.String("step", rec.Name),
	)
}

// ── Callback hooks ──────────────────────────────────

// OnCallbackCreated implements ext.CallbackCreated.
func (m *MetricsExtension) OnCallbackCreated(ctx context.Context, cb *callback.Callback) error {
	m.cbCreated.Add(ctx, 1, kindAttr(cb))
	return nil
}

// OnCallbackResolved implements ext.CallbackResolved.
func (m *MetricsExtension) OnCallbackResolved(ctx context.Context, cb *callback.Callback) error {
	m.cbResolved.Add(ctx, 1, kindAttr(cb))
	return nil
}

// OnCallbackExpired implements ext.CallbackExpired.
func (m *MetricsExtension) OnCallbackExpired(ctx context.Context, cb *callback.Callback) error {
	m.cbExpired.Add(ctx, 1, kindAttr(cb))
	return nil
}

func kindAttr(cb *callback.Callback) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", string(cb.Kind)))
}
