// Package memoryengine provides an in-process EventStore with the same
// semantics as the SQL engines: serialization round-trip on sink, optimistic
// concurrency on (aggregateID, aggregateSequence), global sequence
// allocation, type-filtered scans backed by a per-type max-sequence index,
// and synchronous listener fan-out.
//
// It exists for unit tests, examples and single-process tooling; it holds
// everything in memory and forgets it on process exit.
package memoryengine
