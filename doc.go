// Package stride provides a durable step-execution engine for Go.
// Workflows are ordered declarations of named steps; each step's outcome
// is checkpointed, failures are retried with backoff, long waits suspend
// the execution without holding any compute, and resuming after an
// interruption replays committed steps from the checkpoint log instead
// of re-executing them.
//
// Stride is a library, not a service. A hosting runtime calls Run each
// time it schedules compute for an execution; the engine returns the
// execution's current status (running, suspended, or terminal) and may
// be torn down between calls with no semantic difference.
//
// # Quick Start
//
//	def := execution.NewDefinition("payments").
//	    Step("validate", validateBody).
//	    Step("charge", chargeBody, execution.WithRetry(backoff.Policy{
//	        MaxAttempts: 3,
//	        BaseDelay:   time.Second,
//	        Rate:        2.0,
//	    })).
//	    MustBuild()
//
//	eng, err := engine.New(memory.New())
//	err = eng.RegisterWorkflow(def)
//	exec, err := eng.Start(ctx, "payments", input)
//	exec, err = eng.Run(ctx, exec.ID)
//
// # Architecture
//
// Stride follows a composable store pattern: the execution and callback
// subsystems each define their own store interface and a single backend
// implements both. Backends: Postgres (bun), SQLite, Redis, and Memory.
//
// All entity IDs are TypeIDs — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package stride
