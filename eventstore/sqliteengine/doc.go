// Package sqliteengine provides the SQLite implementation of the
// eventstore.EventStore port, intended for embedded deployments, local
// development and hermetic tests (modernc.org/sqlite is pure Go, so
// ":memory:" databases need no external service).
//
// Semantics match the Postgres engine: the uniqueness constraint on
// (aggregate_id, aggregate_sequence) is the concurrency gate, and the
// per-event-type max-sequence side table backs type-filtered LastSequence
// queries. SQLite does not allow data-modifying CTEs, so the append path
// runs the event insert and the side-table upsert inside one transaction
// instead of one statement.
package sqliteengine
