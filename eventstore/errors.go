package eventstore

import (
	"errors"
)

// Retriable storage conflict: the dispatch layer retries this one
// automatically, everything else fails fast.
var ErrConcurrencyConflict = errors.New("concurrency conflict, aggregate sequence already taken")

// Routing errors surfaced by the command gateway.
var (
	ErrNoRouteForCommand       = errors.New("no aggregate configuration matches the command type")
	ErrAggregateNotFound       = errors.New("aggregate not found, it has no events")
	ErrAggregateAlreadyExists  = errors.New("aggregate already exists, creation command rejected")
	ErrMaxRetryAttemptsReached = errors.New("max retry attempts reached")
)

// ErrLockNotObtained signals that another process currently owns the
// bookmark; poll loops treat it as a Wait, not a failure.
var ErrLockNotObtained = errors.New("bookmark lock is held elsewhere")

// ErrCatchUpTimedOut is returned by the catch-up waiter when the registered
// processors did not reach the target sequences within the configured bound.
var ErrCatchUpTimedOut = errors.New("timed out waiting for async processors to catch up")

// Engine-internal failure classes, joined onto the underlying cause.
var (
	ErrNilDatabaseConnection     = errors.New("database connection must not be nil")
	ErrEmptyTableName            = errors.New("empty table name supplied")
	ErrBuildingQueryFailed       = errors.New("failed to build sql query")
	ErrQueryingEventsFailed      = errors.New("failed to query events")
	ErrAppendingEventsFailed     = errors.New("failed to append events")
	ErrScanningDBRowFailed       = errors.New("failed to scan database row")
	ErrSerializingEventFailed    = errors.New("failed to serialize domain event")
	ErrDeserializingEventFailed  = errors.New("failed to deserialize domain event")
	ErrGettingRowsAffectedFailed = errors.New("failed to get rows affected count")
	ErrCreatingSchemaFailed      = errors.New("failed to create schema")
)
