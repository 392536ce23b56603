// Package postgresengine provides the Postgres implementation of the
// eventstore.EventStore port.
//
// All SQL is built with goqu into fully interpolated statements and executed
// through a small driver port, so pgx pools (optionally with a read
// replica), database/sql and sqlx connections are interchangeable at
// construction time.
//
// The append path is one atomic multi-row INSERT: the uniqueness constraint
// on (aggregate_id, aggregate_sequence) is the only concurrency gate, and a
// violation surfaces as eventstore.ErrConcurrencyConflict. The same
// statement maintains the per-event-type max-sequence side table that backs
// type-filtered LastSequence queries.
package postgresengine
