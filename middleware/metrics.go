package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/stridehq/stride/middleware"

// Metrics records attempt counts and latency per workflow and step. A
// nil provider falls back to the global meter provider.
func Metrics(mp metric.MeterProvider) Middleware {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	attempts, _ := meter.Int64Counter("stride.step.attempts",
		metric.WithDescription("Step body attempts"))
	failures, _ := meter.Int64Counter("stride.step.failures",
		metric.WithDescription("Step body attempts that returned an error"))
	duration, _ := meter.Float64Histogram("stride.step.duration",
		metric.WithDescription("Step body attempt duration"),
		metric.WithUnit("s"))

	return func(next Handler) Handler {
		return func(ctx context.Context, info Info) ([]byte, error) {
			attrs := metric.WithAttributes(
				attribute.String("workflow", info.Workflow),
				attribute.String("step", info.Step),
			)

			start := time.Now()
			result, err := next(ctx, info)
			elapsed := time.Since(start).Seconds()

			attempts.Add(ctx, 1, attrs)
			duration.Record(ctx, elapsed, attrs)
			if err != nil {
				failures.Add(ctx, 1, attrs)
			}
			return result, err
		}
	}
}
