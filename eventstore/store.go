package eventstore

import (
	"context"
)

// EventStore is the append-only log port implemented by the engine
// sub-packages.
type EventStore interface {
	// Sink appends all given events for one aggregate in a single atomic
	// unit and returns the highest global sequence assigned to them.
	//
	// Every event's payload and metadata must round-trip through
	// serialization before commit; unserializable payloads fail fast.
	// A uniqueness violation on (aggregateID, aggregateSequence) returns
	// ErrConcurrencyConflict, which is the only retriable failure class.
	// On success, every registered listener is invoked once per appended
	// event, in append order.
	Sink(ctx context.Context, aggregateID string, events ...Event) (SequenceNumber, error)

	// EventsFor returns the full history of one aggregate in ascending
	// aggregate-sequence order. An aggregate with no events yields an empty
	// slice, not an error.
	EventsFor(ctx context.Context, aggregateID string) (Events, error)

	// GetAfter scans forward strictly greater than the given global
	// sequence, optionally filtered to a set of event types (empty means
	// all), capped at batchSize, in ascending global-sequence order.
	GetAfter(ctx context.Context, after SequenceNumber, eventTypes []string, batchSize int) ([]SequencedEvent, error)

	// LastSequence returns the maximum global sequence among events matching
	// the optional type filter, 0 when no events match.
	LastSequence(ctx context.Context, eventTypes []string) (SequenceNumber, error)

	// RegisterListener adds a synchronous listener for future Sink calls.
	// Not safe to call concurrently with Sink; register during wiring.
	RegisterListener(listener Listener)
}
