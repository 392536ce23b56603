package postgresengine

import (
	"context"
	"strconv"
	"time"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

const (
	spanNameSink  = "eventstore.sink"
	spanNameQuery = "eventstore.query"

	spanAttrOperation    = "operation"
	spanAttrAggregateID  = "aggregate_id"
	spanAttrEventCount   = "event_count"
	spanAttrLastSequence = "last_sequence"
	spanAttrErrorType    = "error_type"

	statusSuccess = "success"
	statusError   = "error"

	errorTypeEncoding            = "encoding_error"
	errorTypeDatabase            = "database_error"
	errorTypeConcurrencyConflict = "concurrency_conflict"
)

// startSpan starts a tracing span if a tracing collector is configured.
func (es *EventStore) startSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	if es.tracing == nil {
		return ctx, nil
	}

	return es.tracing.StartSpan(ctx, name, attrs)
}

// finishSpanSuccess completes a span for a successful operation.
func (es *EventStore) finishSpanSuccess(span eventstore.SpanContext, attrs map[string]string) {
	if es.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusSuccess)
	for key, value := range attrs {
		span.AddAttribute(key, value)
	}

	es.tracing.FinishSpan(span, statusSuccess, attrs)
}

// finishSpanError completes a span with the classified error type.
func (es *EventStore) finishSpanError(span eventstore.SpanContext, errorType string) {
	if es.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, errorType)

	es.tracing.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: errorType})
}

// The log helpers prefer the contextual logger when one is configured, so
// trace correlation survives, and fall back to the plain logger otherwise.

func (es *EventStore) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if es.logger != nil {
		es.logger.Error(msg, allArgs...)
	}
}

// logQueryWithDuration logs SQL queries with execution time at debug level.
func (es *EventStore) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	if es.contextualLogger != nil {
		es.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action,
			logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, sqlQuery)
		return
	}

	if es.logger != nil {
		es.logger.Debug(logMsgSQLExecuted+action,
			logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level.
func (es *EventStore) logOperation(ctx context.Context, action string, args ...any) {
	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}
}

// recordDuration records an operation duration, using the context-aware
// collector methods when the configured collector supports them.
func (es *EventStore) recordDuration(ctx context.Context, metric string, duration time.Duration) {
	if es.metrics == nil {
		return
	}

	labels := map[string]string{"table": es.eventTableName}

	if contextual, ok := es.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	es.metrics.RecordDuration(metric, duration, labels)
}

func (es *EventStore) incrementCounter(ctx context.Context, metric string) {
	if es.metrics == nil {
		return
	}

	labels := map[string]string{"table": es.eventTableName}

	if contextual, ok := es.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	es.metrics.IncrementCounter(metric, labels)
}

func formatCount(count int) string {
	return strconv.Itoa(count)
}

func formatSequence(sequence int64) string {
	return strconv.FormatInt(sequence, 10)
}
