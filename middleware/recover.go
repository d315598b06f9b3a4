package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Recover converts a panicking step body into an ordinary step error so
// the retry policy, not the process, decides what happens next.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, info Info) (result []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("middleware: step %s panicked: %v\n%s",
						info.Step, r, debug.Stack())
					result = nil
				}
			}()
			return next(ctx, info)
		}
	}
}
