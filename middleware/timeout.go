package middleware

import (
	"context"
	"time"
)

// Timeout bounds each attempt with the step's declared timeout, falling
// back to def when the step declares none. A def of zero leaves
// undeclared steps unbounded.
func Timeout(def time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, info Info) ([]byte, error) {
			d := info.Timeout
			if d <= 0 {
				d = def
			}
			if d <= 0 {
				return next(ctx, info)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, info)
		}
	}
}
