package processor

import (
	"time"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// StatisticsCollector receives a notification for every event a processor
// has fully handled, including how long the handler took. Implementations
// must be fast; the call sits on the processing hot path.
type StatisticsCollector interface {
	EventProcessed(processorName string, event eventstore.DomainEvent, duration time.Duration)
}
