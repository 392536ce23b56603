package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

const (
	defaultBatchSize = 100

	logMsgLockContended    = "bookmark lock held elsewhere, backing off"
	logMsgBatchProcessed   = "batch processed"
	logMsgHandlerFailed    = "event handler failed"
	logAttrProcessor       = "processor"
	logAttrBatchLen        = "batch_len"
	logAttrEventID         = "event_id"
	logAttrGlobalSequence  = "global_sequence"
	logAttrHandledEvent    = "event_type"
	logAttrHandlerDuration = "handler_duration"

	spanNameProcessBatch = "processor.process_batch"
	spanAttrProcessed    = "events_processed"
	spanAttrErrorType    = "error_type"
	statusSuccess        = "success"
	statusError          = "error"

	// EventsProcessedMetric counts events fully handled per processor.
	EventsProcessedMetric = "processor_events_processed_total"

	// HandlerDurationMetric records per-event handler latency per processor.
	HandlerDurationMetric = "processor_handler_duration_seconds"
)

// EventHandler is the consumer side of a batched processor: it names the
// bookmark the processor checkpoints under, declares which event types it
// wants, and handles one event at a time.
//
// Handle is invoked at least once per event; a crash between Handle and the
// checkpoint write redelivers the event, so handlers must tolerate replays.
type EventHandler interface {
	// Name identifies the processor; it doubles as the bookmark and lock key.
	Name() string

	// EventTypes returns the stored type tags this handler consumes. An empty
	// slice subscribes to everything.
	EventTypes() []string

	// Handle processes one event. Returning an error halts the batch before
	// the checkpoint advances past this event.
	Handle(
		ctx context.Context,
		event eventstore.DomainEvent,
		aggregateID string,
		metadata eventstore.Metadata,
		eventID uuid.UUID,
	) error
}

// BatchedProcessor drains the event store in batches on behalf of one
// EventHandler. Each invocation of ProcessOneBatch acquires the handler's
// lock, reads one batch past the bookmark, and advances the bookmark after
// every successfully handled event.
type BatchedProcessor struct {
	store     eventstore.EventStore
	bookmarks bookmark.Store
	lock      bookmark.Lock
	handler   EventHandler
	upcasts   *eventtype.UpcastRegistry
	batchSize int
	stats     StatisticsCollector
	logger    eventstore.Logger
	metrics   eventstore.MetricsCollector
	tracing   eventstore.TracingCollector
	clock     func() time.Time
}

// ProcessorOption defines a functional option for configuring a
// BatchedProcessor.
type ProcessorOption func(*BatchedProcessor) error

// WithBatchSize sets how many events one invocation reads at most.
func WithBatchSize(batchSize int) ProcessorOption {
	return func(p *BatchedProcessor) error {
		if batchSize <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", batchSize)
		}

		p.batchSize = batchSize

		return nil
	}
}

// WithUpcasts applies the given registry to every event before it reaches
// the handler, so handlers only ever see current event shapes.
func WithUpcasts(upcasts *eventtype.UpcastRegistry) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.upcasts = upcasts
		return nil
	}
}

// WithStatistics registers a per-event statistics collector.
func WithStatistics(stats StatisticsCollector) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.stats = stats
		return nil
	}
}

// WithProcessorLogger sets the logger for the BatchedProcessor.
func WithProcessorLogger(logger eventstore.Logger) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.logger = logger
		return nil
	}
}

// WithProcessorMetrics sets the metrics collector for the BatchedProcessor.
// Collectors that also implement eventstore.ContextualMetricsCollector get
// the context-aware methods for trace correlation.
func WithProcessorMetrics(collector eventstore.MetricsCollector) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.metrics = collector
		return nil
	}
}

// WithProcessorTracing sets the tracing collector for the BatchedProcessor.
// Each ProcessOneBatch invocation runs inside a span carrying the processor
// name, finished with the number of events handled or the failure.
func WithProcessorTracing(collector eventstore.TracingCollector) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.tracing = collector
		return nil
	}
}

// WithProcessorClock overrides the time source used for handler timing.
func WithProcessorClock(clock func() time.Time) ProcessorOption {
	return func(p *BatchedProcessor) error {
		p.clock = clock
		return nil
	}
}

// NewBatchedProcessor wires a processor for the given handler.
func NewBatchedProcessor(
	store eventstore.EventStore,
	bookmarks bookmark.Store,
	lock bookmark.Lock,
	handler EventHandler,
	options ...ProcessorOption,
) (*BatchedProcessor, error) {

	if store == nil {
		return nil, errors.New("event store must not be nil")
	}

	if bookmarks == nil {
		return nil, errors.New("bookmark store must not be nil")
	}

	if lock == nil {
		return nil, errors.New("bookmark lock must not be nil")
	}

	if handler == nil {
		return nil, errors.New("event handler must not be nil")
	}

	p := &BatchedProcessor{
		store:     store,
		bookmarks: bookmarks,
		lock:      lock,
		handler:   handler,
		batchSize: defaultBatchSize,
		clock:     time.Now,
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Task adapts the processor to the Driver loop.
func (p *BatchedProcessor) Task() Task {
	return p.ProcessOneBatch
}

// ProcessOneBatch acquires the handler's lock, reads one batch of events
// past the bookmark and dispatches them in global-sequence order. The
// bookmark advances after each handled event, never past a failed one.
//
// A full batch returns ActionContinue so the driver loops immediately; a
// short batch returns ActionWait. Lock contention is not a failure: it also
// returns ActionWait, so a standby worker idles until the owner dies.
func (p *BatchedProcessor) ProcessOneBatch(ctx context.Context) (Action, error) {
	ctx, span := p.startSpan(ctx)

	position, checkoutErr := bookmark.Checkout(ctx, p.lock, p.bookmarks, p.handler.Name())
	if checkoutErr != nil {
		if errors.Is(checkoutErr, eventstore.ErrLockNotObtained) {
			if p.logger != nil {
				p.logger.Debug(logMsgLockContended, logAttrProcessor, p.handler.Name())
			}

			p.finishSpanSuccess(span, 0)

			return ActionWait, nil
		}

		p.finishSpanError(span, checkoutErr)

		return ActionWait, checkoutErr
	}

	batch, queryErr := p.store.GetAfter(ctx, position.Sequence, p.handler.EventTypes(), p.batchSize)
	if queryErr != nil {
		p.finishSpanError(span, queryErr)
		return ActionWait, queryErr
	}

	handled := 0

	for _, sequenced := range batch {
		if handleErr := p.handleOne(ctx, sequenced); handleErr != nil {
			p.finishSpanError(span, handleErr)
			return ActionWait, handleErr
		}

		position.Sequence = sequenced.Sequence
		handled++

		if saveErr := p.bookmarks.Save(ctx, position); saveErr != nil {
			p.finishSpanError(span, saveErr)
			return ActionWait, saveErr
		}
	}

	p.finishSpanSuccess(span, handled)

	if p.logger != nil && len(batch) > 0 {
		p.logger.Debug(logMsgBatchProcessed,
			logAttrProcessor, p.handler.Name(),
			logAttrBatchLen, len(batch),
			logAttrGlobalSequence, position.Sequence)
	}

	if len(batch) == p.batchSize {
		return ActionContinue, nil
	}

	return ActionWait, nil
}

func (p *BatchedProcessor) handleOne(ctx context.Context, sequenced eventstore.SequencedEvent) error {
	domainEvent := sequenced.Event.DomainEvent
	if p.upcasts != nil {
		domainEvent = p.upcasts.Apply(domainEvent, sequenced.Event.Metadata)
	}

	started := p.clock()

	handleErr := p.handler.Handle(
		ctx,
		domainEvent,
		sequenced.Event.AggregateID,
		sequenced.Event.Metadata,
		sequenced.Event.ID,
	)

	duration := p.clock().Sub(started)

	if handleErr != nil {
		if p.logger != nil {
			p.logger.Error(logMsgHandlerFailed,
				logAttrProcessor, p.handler.Name(),
				logAttrHandledEvent, domainEvent.EventType(),
				logAttrEventID, sequenced.Event.ID.String(),
				logAttrGlobalSequence, sequenced.Sequence,
				"error", handleErr.Error())
		}

		return handleErr
	}

	if p.stats != nil {
		p.stats.EventProcessed(p.handler.Name(), domainEvent, duration)
	}

	p.recordEventMetrics(ctx, domainEvent, duration)

	return nil
}

func (p *BatchedProcessor) recordEventMetrics(ctx context.Context, domainEvent eventstore.DomainEvent, duration time.Duration) {
	if p.metrics == nil {
		return
	}

	labels := map[string]string{
		logAttrProcessor:    p.handler.Name(),
		logAttrHandledEvent: domainEvent.EventType(),
	}

	if contextual, ok := p.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, EventsProcessedMetric, labels)
		contextual.RecordDurationContext(ctx, HandlerDurationMetric, duration, labels)

		return
	}

	p.metrics.IncrementCounter(EventsProcessedMetric, labels)
	p.metrics.RecordDuration(HandlerDurationMetric, duration, labels)
}

func (p *BatchedProcessor) startSpan(ctx context.Context) (context.Context, eventstore.SpanContext) {
	if p.tracing == nil {
		return ctx, nil
	}

	return p.tracing.StartSpan(ctx, spanNameProcessBatch, map[string]string{
		logAttrProcessor: p.handler.Name(),
	})
}

func (p *BatchedProcessor) finishSpanSuccess(span eventstore.SpanContext, handled int) {
	if p.tracing == nil || span == nil {
		return
	}

	processed := strconv.Itoa(handled)
	span.SetStatus(statusSuccess)
	span.AddAttribute(spanAttrProcessed, processed)

	p.tracing.FinishSpan(span, statusSuccess, map[string]string{spanAttrProcessed: processed})
}

func (p *BatchedProcessor) finishSpanError(span eventstore.SpanContext, err error) {
	if p.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, err.Error())

	p.tracing.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: err.Error()})
}
