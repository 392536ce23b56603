package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect import
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

const (
	defaultEventTableName = "events"
	defaultStatsTableName = "event_type_stats"

	colSequence          = "sequence"
	colID                = "id"
	colAggregateID       = "aggregate_id"
	colAggregateSequence = "aggregate_sequence"
	colAggregateType     = "aggregate_type"
	colEventType         = "event_type"
	colCreatedAt         = "created_at"
	colPayload           = "payload"
	colMetadata          = "metadata"

	dialectSQLite = "sqlite3"

	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// EventStore is the SQLite implementation of eventstore.EventStore.
type EventStore struct {
	db             *sql.DB
	codec          *eventtype.Codec
	eventTableName string
	statsTableName string
	logger         eventstore.Logger
	listeners      []eventstore.Listener
}

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
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// NewEventStore creates a new EventStore on an open SQLite database.
func NewEventStore(db *sql.DB, codec *eventtype.Codec, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

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

// RegisterListener adds a synchronous listener for future Sink calls.
func (es *EventStore) RegisterListener(listener eventstore.Listener) {
	es.listeners = append(es.listeners, listener)
}

// CreateSchema bootstraps the events table, its scan index, and the
// per-event-type max-sequence side table. Idempotent.
func (es *EventStore) CreateSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s INTEGER PRIMARY KEY AUTOINCREMENT,
			%s TEXT NOT NULL UNIQUE,
			%s TEXT NOT NULL,
			%s INTEGER NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			UNIQUE (%s, %s)
		)`,
			es.eventTableName,
			colSequence, colID, colAggregateID, colAggregateSequence, colAggregateType,
			colEventType, colCreatedAt, colPayload, colMetadata,
			colAggregateID, colAggregateSequence),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_%s_%s_idx ON %s (%s, %s)`,
			es.eventTableName, colEventType, colSequence,
			es.eventTableName, colEventType, colSequence),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			%s INTEGER NOT NULL
		)`,
			es.statsTableName, colEventType, colSequence),
	}

	for _, statement := range statements {
		if _, execErr := es.db.ExecContext(ctx, statement); execErr != nil {
			return errors.Join(eventstore.ErrCreatingSchemaFailed, execErr)
		}
	}

	return nil
}

// Sink appends all given events for one aggregate inside one transaction and
// returns the highest global sequence assigned.
func (es *EventStore) Sink(
	ctx context.Context,
	aggregateID string,
	events ...eventstore.Event,
) (eventstore.SequenceNumber, error) {

	if len(events) == 0 {
		return 0, nil
	}

	insertSQL, statsSQL, buildErr := es.buildSinkQueries(events)
	if buildErr != nil {
		return 0, buildErr
	}

	tx, beginErr := es.db.BeginTx(ctx, nil)
	if beginErr != nil {
		return 0, errors.Join(eventstore.ErrAppendingEventsFailed, beginErr)
	}

	lastSequence, sinkErr := es.sinkInTx(ctx, tx, insertSQL, statsSQL)
	if sinkErr != nil {
		_ = tx.Rollback()

		if isUniqueViolation(sinkErr) {
			if es.logger != nil {
				es.logger.Info("concurrency conflict detected", "aggregate_id", aggregateID, "event_count", len(events))
			}

			return 0, eventstore.ErrConcurrencyConflict
		}

		return 0, errors.Join(eventstore.ErrAppendingEventsFailed, sinkErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, errors.Join(eventstore.ErrAppendingEventsFailed, commitErr)
	}

	if es.logger != nil {
		es.logger.Info("events appended", "aggregate_id", aggregateID, "event_count", len(events))
	}

	for _, event := range events {
		for _, listener := range es.listeners {
			listener(event.DomainEvent, aggregateID, event.Metadata, event.ID)
		}
	}

	return lastSequence, nil
}

func (es *EventStore) sinkInTx(ctx context.Context, tx *sql.Tx, insertSQL string, statsSQL string) (eventstore.SequenceNumber, error) {
	result, execErr := tx.ExecContext(ctx, insertSQL)
	if execErr != nil {
		return 0, execErr
	}

	// The sequence column is the rowid, so the last inserted rowid is this
	// batch's highest sequence, regardless of concurrent writers.
	lastSequence, idErr := result.LastInsertId()
	if idErr != nil {
		return 0, idErr
	}

	if _, execErr = tx.ExecContext(ctx, statsSQL); execErr != nil {
		return 0, execErr
	}

	return eventstore.SequenceNumber(lastSequence), nil
}

func (es *EventStore) buildSinkQueries(events eventstore.Events) (string, string, error) {
	builder := goqu.Dialect(dialectSQLite)

	insertRows := make([]any, 0, len(events))
	tags := make([]string, 0, len(events))

	for _, event := range events {
		tag, payload, encodeErr := es.codec.Encode(event.AggregateType, event.DomainEvent)
		if encodeErr != nil {
			return "", "", encodeErr
		}

		metadataJSON, metadataErr := eventtype.EncodeMetadata(event.Metadata)
		if metadataErr != nil {
			return "", "", metadataErr
		}

		insertRows = append(insertRows, goqu.Record{
			colID:                event.ID.String(),
			colAggregateID:       event.AggregateID,
			colAggregateSequence: event.AggregateSequence,
			colAggregateType:     event.AggregateType,
			colEventType:         tag,
			colCreatedAt:         event.CreatedAt.UTC().Format(time.RFC3339Nano),
			colPayload:           string(payload),
			colMetadata:          string(metadataJSON),
		})

		tags = append(tags, tag)
	}

	insertSQL, _, insertErr := builder.Insert(es.eventTableName).Rows(insertRows...).ToSQL()
	if insertErr != nil {
		return "", "", errors.Join(eventstore.ErrBuildingQueryFailed, insertErr)
	}

	// Recompute the side table from the log inside the same transaction;
	// excluded.sequence always carries the fresh maximum.
	statsSQL := fmt.Sprintf(
		`INSERT INTO %s (%s, %s)
		SELECT %s, MAX(%s) FROM %s WHERE %s IN (%s) GROUP BY %s
		ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s`,
		es.statsTableName, colEventType, colSequence,
		colEventType, colSequence, es.eventTableName, colEventType, quoteList(tags), colEventType,
		colEventType, colSequence, colSequence)

	return insertSQL, statsSQL, nil
}

// EventsFor returns the full per-aggregate history in ascending
// aggregate-sequence order.
func (es *EventStore) EventsFor(ctx context.Context, aggregateID string) (eventstore.Events, error) {
	selectStmt := goqu.Dialect(dialectSQLite).
		From(es.eventTableName).
		Select(colSequence, colID, colAggregateID, colAggregateSequence, colAggregateType, colEventType, colCreatedAt, colPayload, colMetadata).
		Where(goqu.C(colAggregateID).Eq(aggregateID)).
		Order(goqu.I(colAggregateSequence).Asc())

	sequencedEvents, queryErr := es.queryEvents(ctx, selectStmt)
	if queryErr != nil {
		return nil, queryErr
	}

	events := make(eventstore.Events, 0, len(sequencedEvents))
	for _, sequenced := range sequencedEvents {
		events = append(events, sequenced.Event)
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

	selectStmt := goqu.Dialect(dialectSQLite).
		From(es.eventTableName).
		Select(colSequence, colID, colAggregateID, colAggregateSequence, colAggregateType, colEventType, colCreatedAt, colPayload, colMetadata).
		Where(goqu.C(colSequence).Gt(after)).
		Order(goqu.I(colSequence).Asc()).
		Limit(uint(batchSize)) //nolint:gosec // batch sizes are small positive config values

	if len(eventTypes) > 0 {
		selectStmt = selectStmt.Where(goqu.C(colEventType).In(eventTypes))
	}

	return es.queryEvents(ctx, selectStmt)
}

// LastSequence returns the maximum global sequence among events matching the
// optional type filter, served from the side table when a filter is given.
func (es *EventStore) LastSequence(ctx context.Context, eventTypes []string) (eventstore.SequenceNumber, error) {
	builder := goqu.Dialect(dialectSQLite)

	var selectStmt *goqu.SelectDataset

	if len(eventTypes) == 0 {
		selectStmt = builder.
			From(es.eventTableName).
			Select(goqu.COALESCE(goqu.MAX(colSequence), 0))
	} else {
		selectStmt = builder.
			From(es.statsTableName).
			Select(goqu.COALESCE(goqu.MAX(colSequence), 0)).
			Where(goqu.C(colEventType).In(eventTypes))
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	var lastSequence int64
	if scanErr := es.db.QueryRowContext(ctx, sqlQuery).Scan(&lastSequence); scanErr != nil {
		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, scanErr)
	}

	return eventstore.SequenceNumber(lastSequence), nil
}

func (es *EventStore) queryEvents(ctx context.Context, selectStmt *goqu.SelectDataset) ([]eventstore.SequencedEvent, error) {
	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	if es.logger != nil {
		es.logger.Debug("executing sql", "query", sqlQuery)
	}

	rows, queryErr := es.db.QueryContext(ctx, sqlQuery)
	if queryErr != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && es.logger != nil {
			es.logger.Warn("failed to close database rows", "error", closeErr.Error())
		}
	}()

	sequencedEvents := make([]eventstore.SequencedEvent, 0)

	for rows.Next() {
		var (
			sequence          int64
			id                string
			rowAggregateID    string
			aggregateSequence int64
			aggregateType     string
			eventType         string
			createdAt         string
			payload           []byte
			metadataJSON      []byte
		)

		scanErr := rows.Scan(&sequence, &id, &rowAggregateID, &aggregateSequence, &aggregateType, &eventType, &createdAt, &payload, &metadataJSON)
		if scanErr != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		event, decodeErr := es.decodeRow(id, rowAggregateID, aggregateSequence, aggregateType, eventType, createdAt, payload, metadataJSON)
		if decodeErr != nil {
			return nil, decodeErr
		}

		sequencedEvents = append(sequencedEvents, eventstore.SequencedEvent{
			Sequence: eventstore.SequenceNumber(sequence),
			Event:    event,
		})
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr)
	}

	return sequencedEvents, nil
}

func (es *EventStore) decodeRow(
	id string,
	aggregateID string,
	aggregateSequence int64,
	aggregateType string,
	eventType string,
	createdAt string,
	payload []byte,
	metadataJSON []byte,
) (eventstore.Event, error) {

	domainEvent, decodeErr := es.codec.Decode(aggregateType, eventType, payload)
	if decodeErr != nil {
		return eventstore.Event{}, decodeErr
	}

	metadata, metadataErr := eventtype.DecodeMetadata(metadataJSON)
	if metadataErr != nil {
		return eventstore.Event{}, metadataErr
	}

	eventID, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return eventstore.Event{}, errors.Join(eventstore.ErrScanningDBRowFailed, parseErr)
	}

	occurredAt, timeErr := time.Parse(time.RFC3339Nano, createdAt)
	if timeErr != nil {
		return eventstore.Event{}, errors.Join(eventstore.ErrScanningDBRowFailed, timeErr)
	}

	return eventstore.Event{
		ID:                eventID,
		AggregateID:       aggregateID,
		AggregateSequence: uint64(aggregateSequence), //nolint:gosec // sequences are non-negative by schema
		AggregateType:     aggregateType,
		CreatedAt:         occurredAt,
		Metadata:          metadata,
		DomainEvent:       domainEvent,
	}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}

	// The driver sometimes wraps constraint failures without a typed error.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, value := range values {
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		quoted = append(quoted, "'"+strings.ReplaceAll(value, "'", "''")+"'")
	}

	return strings.Join(quoted, ", ")
}
