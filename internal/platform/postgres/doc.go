// Package postgres provides PostgreSQL-specific implementations of the
// persistence interfaces defined in the internal/store package, together
// with the embedded goose migrations that create their tables.
//
// Stores accept a store.DBTX so they work on a plain connection pool or
// inside a transaction started by store.RunInTransaction.
package postgres
