package postgresengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// CreateSchema bootstraps the events table, its scan index, and the
// per-event-type max-sequence side table. Idempotent.
func (es *EventStore) CreateSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s BIGSERIAL PRIMARY KEY,
			%s TEXT NOT NULL UNIQUE,
			%s TEXT NOT NULL,
			%s BIGINT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TIMESTAMPTZ NOT NULL,
			%s JSONB NOT NULL,
			%s JSONB NOT NULL,
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
			%s BIGINT NOT NULL
		)`,
			es.statsTableName, colEventType, colSequence),
	}

	for _, statement := range statements {
		if _, execErr := es.db.Exec(ctx, statement); execErr != nil {
			return errors.Join(eventstore.ErrCreatingSchemaFailed, execErr)
		}
	}

	return nil
}
