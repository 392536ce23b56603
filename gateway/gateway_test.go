package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore/memoryengine"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
	"github.com/sequentic/aggregate-streams-eventstore-go/example/thing"
	"github.com/sequentic/aggregate-streams-eventstore-go/gateway"
)

func newThingGateway(t *testing.T, options ...gateway.Option) (*gateway.CommandGateway, *memoryengine.EventStore) {
	t.Helper()

	resolver, err := eventtype.NewResolver(eventtype.ShortNames, thing.Registration())
	require.NoError(t, err)

	store, err := memoryengine.NewEventStore(eventtype.NewCodec(resolver))
	require.NoError(t, err)

	upcasts := eventtype.NewUpcastRegistry()
	thing.RegisterUpcasts(upcasts)

	commandGateway, err := gateway.NewCommandGateway(
		store,
		upcasts,
		[]gateway.Configuration{thing.Configuration()},
		options...,
	)
	require.NoError(t, err)

	return commandGateway, store
}

func Test_Dispatch_CreateTweakBop_EndToEnd(t *testing.T) {
	commandGateway, store := newThingGateway(t)
	ctx := context.Background()
	metadata := eventstore.Metadata{AccountID: "acc-1"}
	thingID := "thing-1"

	outcome, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: thingID}, metadata)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeCreated, outcome)

	outcome, err = commandGateway.Dispatch(ctx, thing.Tweak{ThingID: thingID, Adjustment: "x"}, metadata)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeUpdated, outcome)

	outcome, err = commandGateway.Dispatch(ctx, thing.Bop{ThingID: thingID}, metadata)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeUpdated, outcome)

	history, err := store.EventsFor(ctx, thingID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "ThingCreated", history[0].DomainEvent.EventType())
	assert.Equal(t, "Tweaked", history[1].DomainEvent.EventType())
	assert.Equal(t, "Bopped", history[2].DomainEvent.EventType())

	for i, event := range history {
		assert.Equal(t, uint64(i+1), event.AggregateSequence)
	}

	tweaked, ok := history[1].DomainEvent.(*thing.Tweaked)
	require.True(t, ok)
	assert.Equal(t, "x", tweaked.Adjustment)

	last, err := store.LastSequence(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequenceNumber(3), last)
}

func Test_Dispatch_UnroutedCommand_Fails(t *testing.T) {
	commandGateway, _ := newThingGateway(t)

	_, err := commandGateway.Dispatch(context.Background(), unroutedCommand{}, eventstore.Metadata{})
	assert.ErrorIs(t, err, eventstore.ErrNoRouteForCommand)
}

func Test_Dispatch_CreationOnExistingAggregate_Fails(t *testing.T) {
	commandGateway, _ := newThingGateway(t)
	ctx := context.Background()

	_, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	require.NoError(t, err)

	_, err = commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	assert.ErrorIs(t, err, eventstore.ErrAggregateAlreadyExists)
}

func Test_Dispatch_UpdateOnMissingAggregate_Fails(t *testing.T) {
	commandGateway, _ := newThingGateway(t)

	_, err := commandGateway.Dispatch(context.Background(), thing.Bop{ThingID: "ghost"}, eventstore.Metadata{})
	assert.ErrorIs(t, err, eventstore.ErrAggregateNotFound)
}

func Test_Dispatch_DomainError_SurfacesWithoutRetry(t *testing.T) {
	commandGateway, store := newThingGateway(t)
	ctx := context.Background()

	_, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	require.NoError(t, err)

	_, err = commandGateway.Dispatch(ctx, thing.Tweak{ThingID: "t", Adjustment: ""}, eventstore.Metadata{})
	assert.ErrorIs(t, err, thing.ErrEmptyAdjustment)

	history, err := store.EventsFor(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func Test_Dispatch_RehydratesStateAcrossDispatches(t *testing.T) {
	commandGateway, _ := newThingGateway(t)
	ctx := context.Background()

	_, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	require.NoError(t, err)

	// Things wear out after three bops; the limit only holds if every
	// dispatch folds the previous bops back into state.
	for range 3 {
		_, err = commandGateway.Dispatch(ctx, thing.Bop{ThingID: "t"}, eventstore.Metadata{})
		require.NoError(t, err)
	}

	_, err = commandGateway.Dispatch(ctx, thing.Bop{ThingID: "t"}, eventstore.Metadata{})
	assert.ErrorIs(t, err, thing.ErrWornOut)
}

func Test_NewCommandGateway_DuplicateCommandTypes_FailsFast(t *testing.T) {
	resolver, err := eventtype.NewResolver(eventtype.ShortNames, thing.Registration())
	require.NoError(t, err)

	store, err := memoryengine.NewEventStore(eventtype.NewCodec(resolver))
	require.NoError(t, err)

	_, err = gateway.NewCommandGateway(store, nil, []gateway.Configuration{
		thing.Configuration(),
		thing.Configuration(),
	})

	assert.ErrorIs(t, err, gateway.ErrDuplicateCommandTypes)
}

func Test_Dispatch_RetriesConcurrencyConflicts_SucceedsOnThirdAttempt(t *testing.T) {
	store := &flakyStore{conflictsLeft: 2}

	commandGateway, err := gateway.NewCommandGateway(
		store,
		nil,
		[]gateway.Configuration{thing.Configuration()},
		gateway.WithMaxRetries(2),
		gateway.WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)

	outcome, err := commandGateway.Dispatch(
		context.Background(),
		thing.Tweak{ThingID: "t", Adjustment: "x"},
		eventstore.Metadata{},
	)
	require.NoError(t, err)

	assert.Equal(t, gateway.OutcomeUpdated, outcome)
	assert.Equal(t, 3, store.sinkAttempts)
}

func Test_Dispatch_ExhaustedRetries_SurfaceMaxRetryError(t *testing.T) {
	store := &flakyStore{conflictsLeft: 10}

	commandGateway, err := gateway.NewCommandGateway(
		store,
		nil,
		[]gateway.Configuration{thing.Configuration()},
		gateway.WithMaxRetries(2),
		gateway.WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)

	_, err = commandGateway.Dispatch(
		context.Background(),
		thing.Tweak{ThingID: "t", Adjustment: "x"},
		eventstore.Metadata{},
	)

	assert.ErrorIs(t, err, eventstore.ErrMaxRetryAttemptsReached)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 3, store.sinkAttempts)
}

func Test_Dispatch_Tracing_EmitsSpanWithOutcome(t *testing.T) {
	tracer := &recordingTracer{}
	commandGateway, _ := newThingGateway(t, gateway.WithTracing(tracer))
	ctx := context.Background()

	_, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	require.NoError(t, err)

	require.Len(t, tracer.spans, 1)
	span := tracer.spans[0]
	assert.Equal(t, "gateway.dispatch", span.name)
	assert.Equal(t, "success", span.status)
	assert.Equal(t, "created", span.attrs["outcome"])
	assert.Equal(t, thing.CreateThing{}.CommandType(), span.attrs["command_type"])

	_, err = commandGateway.Dispatch(ctx, unroutedCommand{}, eventstore.Metadata{})
	require.Error(t, err)

	require.Len(t, tracer.spans, 2)
	assert.Equal(t, "error", tracer.spans[1].status)
	assert.NotEmpty(t, tracer.spans[1].attrs["error_type"])
}

func Test_Dispatch_ContextualLogger_ReceivesDispatchLogs(t *testing.T) {
	contextualLogger := &recordingContextualLogger{}
	commandGateway, _ := newThingGateway(t, gateway.WithContextualLogger(contextualLogger))
	ctx := context.Background()

	_, err := commandGateway.Dispatch(ctx, thing.CreateThing{ThingID: "t"}, eventstore.Metadata{})
	require.NoError(t, err)

	_, err = commandGateway.Dispatch(ctx, thing.Tweak{ThingID: "t", Adjustment: ""}, eventstore.Metadata{})
	require.ErrorIs(t, err, thing.ErrEmptyAdjustment)

	assert.Contains(t, contextualLogger.messages, "dispatch failed")
}

type unroutedCommand struct{}

func (c unroutedCommand) CommandType() string { return "Unrouted" }
func (c unroutedCommand) AggregateID() string { return "x" }

// flakyStore serves a one-event history and rejects the first conflictsLeft
// sink attempts with a concurrency conflict.
type flakyStore struct {
	conflictsLeft int
	sinkAttempts  int
}

func (s *flakyStore) Sink(_ context.Context, _ string, events ...eventstore.Event) (eventstore.SequenceNumber, error) {
	s.sinkAttempts++

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return 0, eventstore.ErrConcurrencyConflict
	}

	return eventstore.SequenceNumber(len(events)), nil
}

func (s *flakyStore) EventsFor(_ context.Context, aggregateID string) (eventstore.Events, error) {
	return eventstore.Events{{
		AggregateID:       aggregateID,
		AggregateSequence: 1,
		AggregateType:     thing.AggregateTypeName,
		DomainEvent:       thing.ThingCreated{ThingID: aggregateID},
	}}, nil
}

func (s *flakyStore) GetAfter(
	_ context.Context,
	_ eventstore.SequenceNumber,
	_ []string,
	_ int,
) ([]eventstore.SequencedEvent, error) {
	return nil, nil
}

func (s *flakyStore) LastSequence(_ context.Context, _ []string) (eventstore.SequenceNumber, error) {
	return 0, nil
}

func (s *flakyStore) RegisterListener(_ eventstore.Listener) {}

// recordingSpan and recordingTracer capture span lifecycles for assertions.
type recordingSpan struct {
	name   string
	status string
	attrs  map[string]string
}

func (s *recordingSpan) SetStatus(status string) { s.status = status }

func (s *recordingSpan) AddAttribute(key, value string) { s.attrs[key] = value }

type recordingTracer struct {
	spans []*recordingSpan
}

func (c *recordingTracer) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	span := &recordingSpan{name: name, attrs: map[string]string{}}
	for key, value := range attrs {
		span.attrs[key] = value
	}

	c.spans = append(c.spans, span)

	return ctx, span
}

func (c *recordingTracer) FinishSpan(spanCtx eventstore.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*recordingSpan)
	if !ok {
		return
	}

	span.status = status
	for key, value := range attrs {
		span.attrs[key] = value
	}
}

type recordingContextualLogger struct {
	messages []string
}

func (l *recordingContextualLogger) DebugContext(_ context.Context, msg string, _ ...any) {
	l.messages = append(l.messages, msg)
}

func (l *recordingContextualLogger) InfoContext(_ context.Context, msg string, _ ...any) {
	l.messages = append(l.messages, msg)
}

func (l *recordingContextualLogger) WarnContext(_ context.Context, msg string, _ ...any) {
	l.messages = append(l.messages, msg)
}

func (l *recordingContextualLogger) ErrorContext(_ context.Context, msg string, _ ...any) {
	l.messages = append(l.messages, msg)
}
