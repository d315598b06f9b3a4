// Package callback implements externally resolvable suspension tokens.
// An execution that reaches a wait point creates a callback and
// suspends; a later signal, a timer expiry, or a timeout settles the
// callback and wakes the execution. Durable sleeps are timer-kind
// callbacks whose expiry is the normal completion path.
package callback

import (
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/id"
)

// Kind distinguishes what settles a callback.
type Kind string

const (
	// KindSignal callbacks settle when an external party resolves or
	// fails them; expiry is the failure path.
	KindSignal Kind = "signal"

	// KindTimer callbacks settle on expiry; expiry is the success path.
	KindTimer Kind = "timer"
)

// Status is a callback's lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed || s == StatusExpired
}

// Callback is one suspension token. Exactly one writer settles it; all
// later settlement attempts observe the first outcome.
type Callback struct {
	stride.Entity

	ID          id.CallbackID  `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`

	// Step is the wait node this callback parks.
	Step string `json:"step"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	// Payload is the resolution payload; it becomes the wait step's
	// committed result.
	Payload []byte `json:"payload,omitempty"`

	// Error holds the reason for a failed settlement.
	Error string `json:"error,omitempty"`

	// ExpiresAt is when the sweep settles the callback if nothing else
	// has. Heartbeats push it forward while the callback is waiting.
	ExpiresAt time.Time `json:"expires_at"`

	// SettledAt is when a terminal status was written.
	SettledAt time.Time `json:"settled_at,omitzero"`
}

// New creates a waiting callback parked on the given step.
func New(execID id.ExecutionID, step string, kind Kind, ttl time.Duration) *Callback {
	return &Callback{
		Entity:      stride.NewEntity(),
		ID:          id.NewCallbackID(),
		ExecutionID: execID,
		Step:        step,
		Kind:        kind,
		Status:      StatusWaiting,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
}
