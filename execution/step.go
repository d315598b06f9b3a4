package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/stridehq/stride/backoff"
	"github.com/stridehq/stride/codec"
)

// Body is one step's unit of work. It receives the execution scope for
// reading the workflow input and the committed results of prior steps,
// and returns an opaque serialized result.
//
// Bodies run at-least-once: a crash between an attempt and its commit
// re-invokes the body on resume. Exactly-once applies to the committed
// result, so bodies must be safe to re-attempt (idempotent or
// side-effect-free until commit).
type Body func(ctx context.Context, sc *Scope) ([]byte, error)

// Node is one element of a workflow's declared step sequence: a single
// step, a parallel branch group, a callback wait, or a durable sleep.
type Node interface {
	// NodeName returns the node's declared name, unique within the
	// workflow.
	NodeName() string
}

// Step is a single named unit of work with retry semantics.
type Step struct {
	Name string
	Body Body

	// Retry governs re-attempts of a failing body. The zero value means
	// a single attempt.
	Retry backoff.Policy

	// BestEffort marks the step's terminal failure as non-fatal: the
	// coordinator records it and continues with the next node.
	BestEffort bool

	// Timeout bounds one attempt of the body. Zero means no per-attempt
	// bound (the execution-level deadline still applies).
	Timeout time.Duration

	seq int
}

// NodeName implements Node.
func (s *Step) NodeName() string { return s.Name }

// StepOption configures a Step.
type StepOption func(*Step)

// WithRetry sets the step's retry policy.
func WithRetry(p backoff.Policy) StepOption {
	return func(s *Step) { s.Retry = p }
}

// WithBestEffort marks the step best-effort: its terminal failure is
// recorded but does not fail the execution.
func WithBestEffort() StepOption {
	return func(s *Step) { s.BestEffort = true }
}

// WithStepTimeout bounds a single attempt of the step body.
func WithStepTimeout(d time.Duration) StepOption {
	return func(s *Step) { s.Timeout = d }
}

// NewStep creates a named step, typically for use inside a branch group.
func NewStep(name string, body Body, opts ...StepOption) *Step {
	s := &Step{Name: name, Body: body}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Branch is a declared group of independent steps the coordinator runs
// concurrently. All branches settle before the group returns; terminal
// outcomes are committed in declared order, not completion order.
type Branch struct {
	Name  string
	Steps []*Step

	// BestEffort marks the whole group's failure as non-fatal.
	BestEffort bool
}

// NodeName implements Node.
func (b *Branch) NodeName() string { return b.Name }

// Wait is a suspension point: the execution parks on an externally
// resolvable callback until a signal arrives, the wait times out, or a
// heartbeat-extended deadline finally passes.
type Wait struct {
	Name string

	// Timeout is how long a created callback stays open before expiring.
	Timeout time.Duration

	// Retry applies to callback timeouts and failed resolutions: each
	// retry arms a fresh callback. The zero value means one callback.
	Retry backoff.Policy

	// BestEffort records an exhausted wait instead of failing the
	// execution.
	BestEffort bool

	seq int
}

// NodeName implements Node.
func (w *Wait) NodeName() string { return w.Name }

// Sleep is a durable timer: the execution suspends without holding any
// resources and resumes once the duration has passed.
type Sleep struct {
	Name     string
	Duration time.Duration

	seq int
}

// NodeName implements Node.
func (s *Sleep) NodeName() string { return s.Name }

// Typed adapts a strongly-typed step function into a Body using the
// given codec. The input type I is decoded from the workflow input.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Typed[I, O any](c codec.Codec, fn func(ctx context.Context, in I) (O, error)) Body {
	return func(ctx context.Context, sc *Scope) ([]byte, error) {
		var in I
		if len(sc.Input()) > 0 {
			if err := c.Unmarshal(sc.Input(), &in); err != nil {
				return nil, fmt.Errorf("decode step input: %w", err)
			}
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		data, err := c.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode step result: %w", err)
		}
		return data, nil
	}
}
