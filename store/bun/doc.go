// Package bunstore implements store.Store on PostgreSQL via the Bun
// ORM. Conditional writes (step commits, callback settlement) are
// guarded UPDATE statements, so any number of engine replicas can share
// one database.
//
// Usage:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
