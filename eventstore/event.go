package eventstore

import (
	"time"

	"github.com/google/uuid"
)

// SequenceNumber is the global, cross-aggregate ordering key assigned by the
// storage engine on append. It is monotonically allocated but may become
// visible out of allocation order for a short window under concurrent
// writers; consumers resume scans with strictly-greater comparisons and must
// tolerate that window.
type SequenceNumber = uint64

// DomainEvent is the typed payload of an Event. Implementations are plain
// structs with exported, JSON-serializable fields.
type DomainEvent interface {
	// EventType returns the unqualified string identifier for this event type.
	EventType() string
}

// DomainEvents is a slice of DomainEvent instances.
type DomainEvents = []DomainEvent

// Metadata carries caller-supplied context that is persisted next to every
// event but never interpreted by the runtime.
type Metadata struct {
	AccountID     string `json:"accountId,omitempty"`
	ExecutorID    string `json:"executorId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

// BuildMetadata creates Metadata from UUID values.
func BuildMetadata(accountID, executorID, correlationID, causationID uuid.UUID) Metadata {
	return Metadata{
		AccountID:     accountID.String(),
		ExecutorID:    executorID.String(),
		CorrelationID: correlationID.String(),
		CausationID:   causationID.String(),
	}
}

// Event is the immutable record appended to the log. For a fixed
// AggregateID, AggregateSequence values are contiguous starting at 1; the
// engines enforce this with a uniqueness constraint on
// (aggregate_id, aggregate_sequence).
type Event struct {
	ID                uuid.UUID
	AggregateID       string
	AggregateSequence uint64
	AggregateType     string
	CreatedAt         time.Time
	Metadata          Metadata
	DomainEvent       DomainEvent
}

// Events is a slice of Event instances.
type Events = []Event

// SequencedEvent pairs an Event with the global sequence the engine assigned
// to it. It is the unit of delivery for forward scans and async processors.
type SequencedEvent struct {
	Sequence SequenceNumber
	Event    Event
}

// Listener is notified synchronously once per appended event, in append
// order, after a successful Sink. This is a best-effort in-process
// notification, not a durable subscription; durable consumers poll GetAfter
// through an async processor instead.
type Listener func(event DomainEvent, aggregateID string, metadata Metadata, eventID uuid.UUID)
