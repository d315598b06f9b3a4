// Package middleware provides composable wrappers around step body
// invocation. A middleware sees every attempt of every step and can
// observe, bound, or recover it without knowing the step's semantics.
//
// Middlewares compose outermost-first:
//
//	h := middleware.Chain(body,
//	    middleware.Logging(logger),
//	    middleware.Recover(),
//	    middleware.Timeout(5*time.Second),
//	)
package middleware
