package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/stridehq/stride/middleware"

// Tracing opens a span per step attempt. A nil provider falls back to
// the global tracer provider.
func Tracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return func(next Handler) Handler {
		return func(ctx context.Context, info Info) ([]byte, error) {
			ctx, span := tracer.Start(ctx, "stride.step "+info.Step,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("stride.execution_id", info.ExecutionID),
					attribute.String("stride.workflow", info.Workflow),
					attribute.String("stride.step", info.Step),
					attribute.Int("stride.attempt", info.Attempt),
				),
			)
			defer span.End()

			result, err := next(ctx, info)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return result, err
			}
			span.SetStatus(codes.Ok, "")
			return result, nil
		}
	}
}
