// Package adapters provides database driver adapters for the Postgres
// engine, so that the engine itself stays driver-agnostic: pgx pools
// (optionally with a read replica), database/sql, and sqlx are supported
// behind one small port.
package adapters
