package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs the start, outcome, and duration of every step attempt.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, info Info) ([]byte, error) {
			attrs := []any{
				slog.String("execution_id", info.ExecutionID),
				slog.String("workflow", info.Workflow),
				slog.String("step", info.Step),
				slog.Int("attempt", info.Attempt),
			}
			logger.DebugContext(ctx, "step attempt started", attrs...)

			start := time.Now()
			result, err := next(ctx, info)
			elapsed := time.Since(start)

			attrs = append(attrs, slog.Duration("duration", elapsed))
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.WarnContext(ctx, "step attempt failed", attrs...)
				return result, err
			}
			logger.InfoContext(ctx, "step attempt succeeded", attrs...)
			return result, nil
		}
	}
}
