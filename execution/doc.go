// Package execution implements the durable step-execution core: the
// execution and step-record entities, the persistence contract, the
// workflow definition model, the step invoker with retry semantics, the
// parallel branch scheduler, and the coordinator state machine that
// drives one execution from its current checkpoint state to completion,
// suspension, or terminal failure.
//
// The coordinator is re-invocable: a hosting runtime calls
// Coordinator.Run each time it schedules compute for an execution.
// Committed step results are replayed from the store instead of
// re-executing their bodies, so interrupting and resuming an execution
// any number of times yields the same outcome as one uninterrupted run.
package execution
