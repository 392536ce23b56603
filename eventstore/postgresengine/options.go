package postgresengine

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore/postgresengine/internal/adapters"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithTableName sets the events table name.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithStatsTableName sets the per-event-type max-sequence table name.
func WithStatsTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableName
		}

		es.statsTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
//
// Debug level: SQL queries with execution timing (development use)
// Info level: event counts, durations, concurrency conflicts (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore. It receives
// sink/query durations and concurrency-conflict counts. Collectors that also
// implement eventstore.ContextualMetricsCollector get the context-aware
// methods for trace correlation.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore. Every sink and
// query operation runs inside a span carrying the operation, event counts
// and the resulting sequence, or the classified error type on failure.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracing = collector
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the EventStore. When
// configured it takes precedence over the plain logger, so log records carry
// trace/span correlation from the surrounding span.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx pool.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), codec, options...)
}

// NewEventStoreFromPGXPoolWithReplica creates a new EventStore using a
// primary pgx pool for writes and a replica pool for reads.
func NewEventStoreFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(db, replica), codec, options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB.
func NewEventStoreFromSQLDB(db *sql.DB, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), codec, options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB.
func NewEventStoreFromSQLX(db *sqlx.DB, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), codec, options...)
}

func newEventStore(db adapters.DBAdapter, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	es := &EventStore{
		db:             db,
		codec:          codec,
		eventTableName: defaultEventTableName,
		statsTableName: defaultStatsTableName,
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}
