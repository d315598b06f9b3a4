package callback

import (
	"context"
	"time"

	"github.com/stridehq/stride/id"
)

// Store defines the persistence contract for callbacks.
//
// SettleCallback is the single-writer primitive: it must perform a
// conditional transition from waiting, so concurrent resolvers, failers,
// and the expiry sweep race safely and exactly one outcome wins.
type Store interface {
	// CreateCallback persists a new waiting callback.
	CreateCallback(ctx context.Context, cb *Callback) error

	// GetCallback retrieves a callback by ID.
	// Returns stride.ErrCallbackNotFound when absent.
	GetCallback(ctx context.Context, cbID id.CallbackID) (*Callback, error)

	// SettleCallback writes cb's terminal status, payload, and error,
	// but only if the stored status is still waiting. If the callback
	// already settled, nothing is written and the error reflects the
	// stored outcome: stride.ErrCallbackExpired when it expired,
	// stride.ErrCallbackResolved otherwise.
	SettleCallback(ctx context.Context, cb *Callback) error

	// ExtendCallback pushes a waiting callback's expiry forward. The
	// same conditional rules as SettleCallback apply to settled
	// callbacks.
	ExtendCallback(ctx context.Context, cbID id.CallbackID, expiresAt time.Time) error

	// ListExpiredCallbacks returns up to limit waiting callbacks whose
	// expiry is at or before now, oldest expiry first.
	ListExpiredCallbacks(ctx context.Context, now time.Time, limit int) ([]*Callback, error)

	// ListCallbacks returns all callbacks belonging to an execution,
	// oldest first, for introspection.
	ListCallbacks(ctx context.Context, execID id.ExecutionID) ([]*Callback, error)
}
