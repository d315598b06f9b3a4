// Package sqlite provides a SQLite store backend built on database/sql
// and the modernc.org/sqlite driver (pure Go, no cgo).
//
// It is a good fit for single-process deployments, embedded tools, and
// tests that want durable state without an external database. The
// conditional-commit semantics match the other backends: a guarded
// upsert protects succeeded step records, and a guarded update makes
// callback settlement exactly-one-writer.
//
// Usage:
//
//	db, err := sqlite.Open("file:stride.db")
//	if err != nil { ... }
//	store := sqlite.New(db)
//	if err := store.Migrate(ctx); err != nil { ... }
package sqlite
