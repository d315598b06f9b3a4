package middleware

import (
	"context"
	"time"
)

// Info identifies the step attempt a middleware is observing.
type Info struct {
	ExecutionID string
	Workflow    string
	Step        string
	Attempt     int
	Timeout     time.Duration
}

// Handler is one step attempt: it runs the body and returns the raw
// result bytes or an error.
type Handler func(ctx context.Context, info Info) ([]byte, error)

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares around h. The first middleware in the list
// is the outermost wrapper, so it sees the attempt first and its result
// last.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
