package postgresengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore/postgresengine/internal/adapters"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

const (
	defaultEventTableName = "events"
	defaultStatsTableName = "event_type_stats"

	logMsgBuildQueryFailed    = "failed to build sql query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgDecodeEventFailed   = "failed to decode stored event"
	logMsgEventsAppended      = "events appended"
	logMsgQueryCompleted      = "query completed"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "eventstore operation: "

	logAttrError       = "error"
	logAttrQuery       = "query"
	logAttrEventType   = "event_type"
	logAttrEventCount  = "event_count"
	logAttrAggregateID = "aggregate_id"
	logAttrDurationMS  = "duration_ms"

	logActionSink         = "sink"
	logActionEventsFor    = "events_for"
	logActionGetAfter     = "get_after"
	logActionLastSequence = "last_sequence"

	colSequence          = "sequence"
	colID                = "id"
	colAggregateID       = "aggregate_id"
	colAggregateSequence = "aggregate_sequence"
	colAggregateType     = "aggregate_type"
	colEventType         = "event_type"
	colCreatedAt         = "created_at"
	colPayload           = "payload"
	colMetadata          = "metadata"

	cteInserted = "inserted"
	cteStats    = "stats"

	dialectPostgres     = "postgres"
	castJsonb           = "?::jsonb"
	uniqueViolationCode = "23505"

	// Metric names emitted through the optional MetricsCollector.
	SinkDurationMetric         = "eventstore_sink_duration"
	QueryDurationMetric        = "eventstore_query_duration"
	ConcurrencyConflictsMetric = "eventstore_concurrency_conflicts_total"
)

type sqlQueryString = string

// EventStore is the Postgres implementation of eventstore.EventStore.
type EventStore struct {
	db               adapters.DBAdapter
	codec            *eventtype.Codec
	eventTableName   string
	statsTableName   string
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metrics          eventstore.MetricsCollector
	tracing          eventstore.TracingCollector
	listeners        []eventstore.Listener
}

type eventRow struct {
	sequence          int64
	id                string
	aggregateID       string
	aggregateSequence int64
	aggregateType     string
	eventType         string
	createdAt         time.Time
	payload           []byte
	metadata          []byte
}

// RegisterListener adds a synchronous listener for future Sink calls.
func (es *EventStore) RegisterListener(listener eventstore.Listener) {
	es.listeners = append(es.listeners, listener)
}

// Sink appends all given events for one aggregate in a single atomic
// multi-row INSERT and returns the highest global sequence assigned.
// The same statement upserts the per-event-type max-sequence side table.
func (es *EventStore) Sink(
	ctx context.Context,
	aggregateID string,
	events ...eventstore.Event,
) (eventstore.SequenceNumber, error) {

	if len(events) == 0 {
		return 0, nil
	}

	ctx, span := es.startSpan(ctx, spanNameSink, map[string]string{
		spanAttrOperation:   logActionSink,
		spanAttrAggregateID: aggregateID,
		spanAttrEventCount:  formatCount(len(events)),
	})

	sqlQuery, buildErr := es.buildSinkQuery(events)
	if buildErr != nil {
		es.logError(ctx, logMsgBuildQueryFailed, buildErr)
		es.finishSpanError(span, errorTypeEncoding)

		return 0, buildErr
	}

	start := time.Now()
	rows, queryErr := es.db.QueryPrimary(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, logActionSink, duration)
	es.recordDuration(ctx, SinkDurationMetric, duration)

	if queryErr != nil {
		if isUniqueViolation(queryErr) {
			es.logOperation(ctx, logMsgConcurrencyConflict, logAttrAggregateID, aggregateID, logAttrEventCount, len(events))
			es.incrementCounter(ctx, ConcurrencyConflictsMetric)
			es.finishSpanError(span, errorTypeConcurrencyConflict)

			return 0, eventstore.ErrConcurrencyConflict
		}

		es.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		es.finishSpanError(span, errorTypeDatabase)

		return 0, errors.Join(eventstore.ErrAppendingEventsFailed, queryErr)
	}
	defer es.closeRows(rows)

	var lastSequence int64

	for rows.Next() {
		if scanErr := rows.Scan(&lastSequence); scanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, scanErr)
			es.finishSpanError(span, errorTypeDatabase)

			return 0, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}
	}

	es.finishSpanSuccess(span, map[string]string{spanAttrLastSequence: formatSequence(lastSequence)})

	es.logOperation(
		ctx,
		logMsgEventsAppended,
		logAttrAggregateID, aggregateID,
		logAttrEventCount, len(events),
		logAttrDurationMS, durationToMilliseconds(duration))

	for _, event := range events {
		for _, listener := range es.listeners {
			listener(event.DomainEvent, aggregateID, event.Metadata, event.ID)
		}
	}

	return eventstore.SequenceNumber(lastSequence), nil
}

// EventsFor returns the full per-aggregate history in ascending
// aggregate-sequence order.
func (es *EventStore) EventsFor(ctx context.Context, aggregateID string) (eventstore.Events, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(colSequence, colID, colAggregateID, colAggregateSequence, colAggregateType, colEventType, colCreatedAt, colPayload, colMetadata).
		Where(goqu.C(colAggregateID).Eq(aggregateID)).
		Order(goqu.I(colAggregateSequence).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		es.logError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	sequencedEvents, queryErr := es.queryEvents(ctx, sqlQuery, logActionEventsFor)
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

	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(colSequence, colID, colAggregateID, colAggregateSequence, colAggregateType, colEventType, colCreatedAt, colPayload, colMetadata).
		Where(goqu.C(colSequence).Gt(after)).
		Order(goqu.I(colSequence).Asc()).
		Limit(uint(batchSize)) //nolint:gosec // batch sizes are small positive config values

	if len(eventTypes) > 0 {
		selectStmt = selectStmt.Where(goqu.C(colEventType).In(eventTypes))
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		es.logError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return es.queryEvents(ctx, sqlQuery, logActionGetAfter)
}

// LastSequence returns the maximum global sequence among events matching the
// optional type filter. Type-filtered lookups are served from the side table
// instead of scanning the log.
func (es *EventStore) LastSequence(ctx context.Context, eventTypes []string) (eventstore.SequenceNumber, error) {
	builder := goqu.Dialect(dialectPostgres)

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
		es.logError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	ctx, span := es.startSpan(ctx, spanNameQuery, map[string]string{spanAttrOperation: logActionLastSequence})

	start := time.Now()
	rows, queryErr := es.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, logActionLastSequence, duration)

	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		es.finishSpanError(span, errorTypeDatabase)

		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}
	defer es.closeRows(rows)

	var lastSequence int64

	for rows.Next() {
		if scanErr := rows.Scan(&lastSequence); scanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, scanErr)
			es.finishSpanError(span, errorTypeDatabase)

			return 0, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}
	}

	es.finishSpanSuccess(span, map[string]string{spanAttrLastSequence: formatSequence(lastSequence)})

	return eventstore.SequenceNumber(lastSequence), nil
}

func (es *EventStore) buildSinkQuery(events eventstore.Events) (sqlQueryString, error) {
	builder := goqu.Dialect(dialectPostgres)

	insertRows := make([]any, 0, len(events))

	for _, event := range events {
		tag, payload, encodeErr := es.codec.Encode(event.AggregateType, event.DomainEvent)
		if encodeErr != nil {
			return "", encodeErr
		}

		metadataJSON, metadataErr := eventtype.EncodeMetadata(event.Metadata)
		if metadataErr != nil {
			return "", metadataErr
		}

		insertRows = append(insertRows, goqu.Record{
			colID:                event.ID.String(),
			colAggregateID:       event.AggregateID,
			colAggregateSequence: event.AggregateSequence,
			colAggregateType:     event.AggregateType,
			colEventType:         tag,
			colCreatedAt:         event.CreatedAt,
			colPayload:           goqu.L(castJsonb, string(payload)),
			colMetadata:          goqu.L(castJsonb, string(metadataJSON)),
		})
	}

	insertStmt := builder.
		Insert(es.eventTableName).
		Rows(insertRows...).
		Returning(colSequence, colEventType)

	greatestSequence := fmt.Sprintf("GREATEST(%s.%s, EXCLUDED.%s)", es.statsTableName, colSequence, colSequence)

	statsStmt := builder.
		Insert(es.statsTableName).
		Cols(colEventType, colSequence).
		FromQuery(
			builder.From(cteInserted).
				Select(colEventType, goqu.MAX(colSequence)).
				GroupBy(colEventType),
		).
		OnConflict(goqu.DoUpdate(colEventType, goqu.Record{colSequence: goqu.L(greatestSequence)})).
		Returning(colEventType)

	finalStmt := builder.
		From(cteInserted).
		Select(goqu.COALESCE(goqu.MAX(colSequence), 0)).
		With(cteInserted, insertStmt).
		With(cteStats, statsStmt)

	sqlQuery, _, toSQLErr := finalStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// queryEvents executes a select over the events table and decodes every row.
func (es *EventStore) queryEvents(ctx context.Context, sqlQuery string, action string) ([]eventstore.SequencedEvent, error) {
	ctx, span := es.startSpan(ctx, spanNameQuery, map[string]string{spanAttrOperation: action})

	start := time.Now()
	rows, queryErr := es.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, action, duration)
	es.recordDuration(ctx, QueryDurationMetric, duration)

	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		es.finishSpanError(span, errorTypeDatabase)

		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}
	defer es.closeRows(rows)

	sequencedEvents := make([]eventstore.SequencedEvent, 0)
	row := eventRow{}

	for rows.Next() {
		scanErr := rows.Scan(
			&row.sequence, &row.id, &row.aggregateID, &row.aggregateSequence,
			&row.aggregateType, &row.eventType, &row.createdAt, &row.payload, &row.metadata)
		if scanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, scanErr)
			es.finishSpanError(span, errorTypeDatabase)

			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		event, decodeErr := es.decodeRow(row)
		if decodeErr != nil {
			es.logError(ctx, logMsgDecodeEventFailed, decodeErr, logAttrEventType, row.eventType)
			es.finishSpanError(span, errorTypeEncoding)

			return nil, decodeErr
		}

		sequencedEvents = append(sequencedEvents, eventstore.SequencedEvent{
			Sequence: eventstore.SequenceNumber(row.sequence),
			Event:    event,
		})
	}

	es.finishSpanSuccess(span, map[string]string{spanAttrEventCount: formatCount(len(sequencedEvents))})

	es.logOperation(
		ctx,
		logMsgQueryCompleted,
		logAttrEventCount, len(sequencedEvents),
		logAttrDurationMS, durationToMilliseconds(duration))

	return sequencedEvents, nil
}

func (es *EventStore) decodeRow(row eventRow) (eventstore.Event, error) {
	domainEvent, decodeErr := es.codec.Decode(row.aggregateType, row.eventType, row.payload)
	if decodeErr != nil {
		return eventstore.Event{}, decodeErr
	}

	metadata, metadataErr := eventtype.DecodeMetadata(row.metadata)
	if metadataErr != nil {
		return eventstore.Event{}, metadataErr
	}

	eventID, parseErr := uuid.Parse(row.id)
	if parseErr != nil {
		return eventstore.Event{}, errors.Join(eventstore.ErrScanningDBRowFailed, parseErr)
	}

	return eventstore.Event{
		ID:                eventID,
		AggregateID:       row.aggregateID,
		AggregateSequence: uint64(row.aggregateSequence), //nolint:gosec // sequences are non-negative by schema
		AggregateType:     row.aggregateType,
		CreatedAt:         row.createdAt,
		Metadata:          metadata,
		DomainEvent:       domainEvent,
	}, nil
}

// isUniqueViolation classifies driver errors as uniqueness-constraint
// violations, for pgx and lib/pq alike.
func isUniqueViolation(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == uniqueViolationCode
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}

	return false
}

func (es *EventStore) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if es.logger != nil {
			es.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds
// with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
