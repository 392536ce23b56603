package memoryengine

import (
	"context"
	"sync"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

type storedRow struct {
	sequence     eventstore.SequenceNumber
	event        eventstore.Event
	eventTypeTag string
	payloadJSON  []byte
	metadataJSON []byte
}

// EventStore is the in-process engine. Safe for concurrent use.
type EventStore struct {
	mu           sync.RWMutex
	codec        *eventtype.Codec
	rows         []storedRow
	aggregates   map[string]map[uint64]struct{}
	typeMaxSeq   map[string]eventstore.SequenceNumber
	nextSequence eventstore.SequenceNumber
	listeners    []eventstore.Listener
	logger       eventstore.Logger
}

// Option defines a functional option for configuring the EventStore.
type Option func(*EventStore) error

// WithLogger sets the logger for the EventStore.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// NewEventStore creates an empty in-process store using the given codec for
// the serialization round trip.
func NewEventStore(codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	es := &EventStore{
		codec:        codec,
		aggregates:   make(map[string]map[uint64]struct{}),
		typeMaxSeq:   make(map[string]eventstore.SequenceNumber),
		nextSequence: 1,
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// RegisterListener adds a synchronous listener for future Sink calls.
func (es *EventStore) RegisterListener(listener eventstore.Listener) {
	es.listeners = append(es.listeners, listener)
}

// Sink appends all given events for one aggregate atomically.
func (es *EventStore) Sink(
	ctx context.Context,
	aggregateID string,
	events ...eventstore.Event,
) (eventstore.SequenceNumber, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Serialize outside the lock; fail fast before anything is committed.
	pending := make([]storedRow, 0, len(events))

	for _, event := range events {
		tag, payload, encodeErr := es.codec.Encode(event.AggregateType, event.DomainEvent)
		if encodeErr != nil {
			return 0, encodeErr
		}

		metadataJSON, metadataErr := eventtype.EncodeMetadata(event.Metadata)
		if metadataErr != nil {
			return 0, metadataErr
		}

		pending = append(pending, storedRow{
			event:        event,
			eventTypeTag: tag,
			payloadJSON:  payload,
			metadataJSON: metadataJSON,
		})
	}

	es.mu.Lock()

	// A sequence may conflict with a stored row or with an earlier row of
	// this same batch; both reject the whole batch, like the SQL engines'
	// unique constraint does.
	taken := es.aggregates[aggregateID]
	inBatch := make(map[uint64]struct{}, len(pending))

	for _, row := range pending {
		aggregateSequence := row.event.AggregateSequence

		_, stored := taken[aggregateSequence]
		_, duplicated := inBatch[aggregateSequence]

		if stored || duplicated {
			es.mu.Unlock()

			if es.logger != nil {
				es.logger.Info("concurrency conflict detected",
					"aggregate_id", aggregateID,
					"aggregate_sequence", aggregateSequence)
			}

			return 0, eventstore.ErrConcurrencyConflict
		}

		inBatch[aggregateSequence] = struct{}{}
	}

	if taken == nil {
		taken = make(map[uint64]struct{})
		es.aggregates[aggregateID] = taken
	}

	var lastSequence eventstore.SequenceNumber

	for i := range pending {
		pending[i].sequence = es.nextSequence
		es.nextSequence++

		taken[pending[i].event.AggregateSequence] = struct{}{}
		es.rows = append(es.rows, pending[i])

		if pending[i].sequence > es.typeMaxSeq[pending[i].eventTypeTag] {
			es.typeMaxSeq[pending[i].eventTypeTag] = pending[i].sequence
		}

		lastSequence = pending[i].sequence
	}

	listeners := es.listeners
	es.mu.Unlock()

	for _, row := range pending {
		for _, listener := range listeners {
			listener(row.event.DomainEvent, aggregateID, row.event.Metadata, row.event.ID)
		}
	}

	return lastSequence, nil
}

// EventsFor returns the full per-aggregate history in ascending
// aggregate-sequence order.
func (es *EventStore) EventsFor(ctx context.Context, aggregateID string) (eventstore.Events, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	events := make(eventstore.Events, 0)

	for _, row := range es.rows {
		if row.event.AggregateID != aggregateID {
			continue
		}

		event, decodeErr := es.decodeRow(row)
		if decodeErr != nil {
			return nil, decodeErr
		}

		events = append(events, event)
	}

	return events, nil
}

// GetAfter scans forward strictly greater than the given global sequence.
func (es *EventStore) GetAfter(
	ctx context.Context,
	after eventstore.SequenceNumber,
	eventTypes []string,
	batchSize int,
) ([]eventstore.SequencedEvent, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	wanted := toSet(eventTypes)
	sequenced := make([]eventstore.SequencedEvent, 0)

	for _, row := range es.rows {
		if row.sequence <= after {
			continue
		}

		if wanted != nil {
			if _, ok := wanted[row.eventTypeTag]; !ok {
				continue
			}
		}

		event, decodeErr := es.decodeRow(row)
		if decodeErr != nil {
			return nil, decodeErr
		}

		sequenced = append(sequenced, eventstore.SequencedEvent{Sequence: row.sequence, Event: event})

		if len(sequenced) == batchSize {
			break
		}
	}

	return sequenced, nil
}

// LastSequence returns the maximum global sequence among events matching the
// optional type filter, served from the per-type max-sequence index.
func (es *EventStore) LastSequence(ctx context.Context, eventTypes []string) (eventstore.SequenceNumber, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	if len(eventTypes) == 0 {
		return es.nextSequence - 1, nil
	}

	var last eventstore.SequenceNumber
	for _, eventType := range eventTypes {
		if maxSeq := es.typeMaxSeq[eventType]; maxSeq > last {
			last = maxSeq
		}
	}

	return last, nil
}

// decodeRow rebuilds the Event through the codec so that consumers always
// observe what a SQL engine would have returned, not the appended instance.
func (es *EventStore) decodeRow(row storedRow) (eventstore.Event, error) {
	domainEvent, decodeErr := es.codec.Decode(row.event.AggregateType, row.eventTypeTag, row.payloadJSON)
	if decodeErr != nil {
		return eventstore.Event{}, decodeErr
	}

	metadata, metadataErr := eventtype.DecodeMetadata(row.metadataJSON)
	if metadataErr != nil {
		return eventstore.Event{}, metadataErr
	}

	event := row.event
	event.DomainEvent = domainEvent
	event.Metadata = metadata

	return event, nil
}

func toSet(eventTypes []string) map[string]struct{} {
	if len(eventTypes) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		set[eventType] = struct{}{}
	}

	return set
}
