// Package store defines the aggregate persistence interface. Each
// subsystem (execution, callback) defines its own store interface; the
// composite Store composes them all. Backends: Memory, Redis, Bun
// (Postgres), and SQLite.
package store

import (
	"context"

	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/execution"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	execution.Store
	callback.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
