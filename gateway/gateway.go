package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

const (
	defaultMaxRetries = 5
	defaultRetryDelay = 100 * time.Millisecond

	logMsgDispatchConflict = "dispatch hit concurrency conflict, retrying"
	logMsgDispatchFailed   = "dispatch failed"
	logAttrCommandType     = "command_type"
	logAttrAggregateID     = "aggregate_id"
	logAttrAttempt         = "attempt"

	spanNameDispatch  = "gateway.dispatch"
	spanAttrOutcome   = "outcome"
	spanAttrErrorType = "error_type"
	statusSuccess     = "success"
	statusError       = "error"

	// CommandRetriesMetric counts dispatch attempts retried after a
	// concurrency conflict, labeled by command type.
	CommandRetriesMetric = "command_dispatch_retries_total"
)

// ErrDuplicateCommandTypes is returned when two configurations claim the
// same command type.
var ErrDuplicateCommandTypes = errors.New("duplicate command types registered")

// ErrMisconfiguredRoute is returned when a command matched a route list but
// does not implement the matching marker interface.
var ErrMisconfiguredRoute = errors.New("command does not implement the registered command kind")

type route struct {
	config     *Configuration
	isCreation bool
}

// CommandGateway routes commands to their aggregate configuration.
type CommandGateway struct {
	store            eventstore.EventStore
	upcasts          *eventtype.UpcastRegistry
	routes           map[string]route
	maxRetries       int
	retryDelay       time.Duration
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metrics          eventstore.MetricsCollector
	tracing          eventstore.TracingCollector
	clock            func() time.Time
}

// Option defines a functional option for configuring CommandGateway.
type Option func(*CommandGateway) error

// WithMaxRetries bounds the number of automatic retries after a concurrency
// conflict (not counting the initial attempt).
func WithMaxRetries(retries int) Option {
	return func(g *CommandGateway) error {
		if retries < 0 {
			return errors.New("max retries must not be negative")
		}

		g.maxRetries = retries

		return nil
	}
}

// WithRetryDelay sets the fixed delay between dispatch attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(g *CommandGateway) error {
		if delay < 0 {
			return errors.New("retry delay must not be negative")
		}

		g.retryDelay = delay

		return nil
	}
}

// WithLogger sets the logger for the CommandGateway.
func WithLogger(logger eventstore.Logger) Option {
	return func(g *CommandGateway) error {
		g.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the CommandGateway. Collectors
// that also implement eventstore.ContextualMetricsCollector get the
// context-aware methods for trace correlation.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(g *CommandGateway) error {
		g.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the CommandGateway. Each
// Dispatch runs inside a span carrying the command type and aggregate ID,
// finished with the outcome or the failure.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(g *CommandGateway) error {
		g.tracing = collector
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the CommandGateway.
// When configured it takes precedence over the plain logger.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(g *CommandGateway) error {
		g.contextualLogger = logger
		return nil
	}
}

// WithClock overrides the time source used for Event.CreatedAt.
func WithClock(clock func() time.Time) Option {
	return func(g *CommandGateway) error {
		g.clock = clock
		return nil
	}
}

// NewCommandGateway builds the route table from the given configurations.
// Exactly one configuration must own any given command type; duplicates fail
// construction fast.
func NewCommandGateway(
	store eventstore.EventStore,
	upcasts *eventtype.UpcastRegistry,
	configurations []Configuration,
	options ...Option,
) (*CommandGateway, error) {

	g := &CommandGateway{
		store:      store,
		upcasts:    upcasts,
		routes:     make(map[string]route),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		clock:      time.Now,
	}

	for i := range configurations {
		config := &configurations[i]

		for _, commandType := range config.CreationCommandTypes {
			if _, exists := g.routes[commandType]; exists {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateCommandTypes, commandType)
			}
			g.routes[commandType] = route{config: config, isCreation: true}
		}

		for _, commandType := range config.UpdateCommandTypes {
			if _, exists := g.routes[commandType]; exists {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateCommandTypes, commandType)
			}
			g.routes[commandType] = route{config: config, isCreation: false}
		}
	}

	for _, option := range options {
		if err := option(g); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// Dispatch routes the command, rehydrates the aggregate, applies the command
// and appends the resulting events. Concurrency conflicts rerun the whole
// dispatch (re-read, re-fold, re-apply) up to the configured retry limit
// with a fixed delay; all other errors surface immediately.
func (g *CommandGateway) Dispatch(
	ctx context.Context,
	cmd Command,
	metadata eventstore.Metadata,
) (Outcome, error) {

	ctx, span := g.startSpan(ctx, cmd)

	matched, exists := g.routes[cmd.CommandType()]
	if !exists {
		routeErr := fmt.Errorf("%w: %s", eventstore.ErrNoRouteForCommand, cmd.CommandType())
		g.finishSpanError(span, routeErr)

		return 0, routeErr
	}

	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.recordRetry(ctx, cmd)

			select {
			case <-time.After(g.retryDelay):
			case <-ctx.Done():
				g.finishSpanError(span, ctx.Err())
				return 0, ctx.Err()
			}
		}

		outcome, dispatchErr := g.dispatchOnce(ctx, matched, cmd, metadata)
		if dispatchErr == nil {
			g.finishSpanSuccess(span, outcome)
			return outcome, nil
		}

		if !errors.Is(dispatchErr, eventstore.ErrConcurrencyConflict) {
			g.logInfo(ctx, logMsgDispatchFailed,
				logAttrCommandType, cmd.CommandType(),
				logAttrAggregateID, cmd.AggregateID(),
				"error", dispatchErr.Error())
			g.finishSpanError(span, dispatchErr)

			return 0, dispatchErr
		}

		g.logInfo(ctx, logMsgDispatchConflict,
			logAttrCommandType, cmd.CommandType(),
			logAttrAggregateID, cmd.AggregateID(),
			logAttrAttempt, attempt+1)

		lastErr = dispatchErr
	}

	exhaustedErr := errors.Join(eventstore.ErrMaxRetryAttemptsReached, lastErr)
	g.finishSpanError(span, exhaustedErr)

	return 0, exhaustedErr
}

func (g *CommandGateway) dispatchOnce(
	ctx context.Context,
	matched route,
	cmd Command,
	metadata eventstore.Metadata,
) (Outcome, error) {

	history, readErr := g.store.EventsFor(ctx, cmd.AggregateID())
	if readErr != nil {
		return 0, readErr
	}

	var domainEvents eventstore.DomainEvents
	var nextSequence uint64
	var outcome Outcome

	if matched.isCreation {
		if len(history) > 0 {
			return 0, eventstore.ErrAggregateAlreadyExists
		}

		creation, ok := cmd.(CreationCommand)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMisconfiguredRoute, cmd.CommandType())
		}

		created, createErr := matched.config.Create(creation, metadata)
		if createErr != nil {
			return 0, createErr
		}

		domainEvents = created
		nextSequence = 1
		outcome = OutcomeCreated
	} else {
		if len(history) == 0 {
			return 0, eventstore.ErrAggregateNotFound
		}

		update, ok := cmd.(UpdateCommand)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMisconfiguredRoute, cmd.CommandType())
		}

		state := g.rehydrate(matched.config, history)

		updated, updateErr := matched.config.Update(state, update, metadata)
		if updateErr != nil {
			return 0, updateErr
		}

		domainEvents = updated
		nextSequence = history[len(history)-1].AggregateSequence + 1
		outcome = OutcomeUpdated
	}

	// An idempotent decision produced nothing to record.
	if len(domainEvents) == 0 {
		return outcome, nil
	}

	events := make(eventstore.Events, 0, len(domainEvents))
	for i, domainEvent := range domainEvents {
		events = append(events, eventstore.Event{
			ID:                uuid.New(),
			AggregateID:       cmd.AggregateID(),
			AggregateSequence: nextSequence + uint64(i), //nolint:gosec // slice index
			AggregateType:     matched.config.AggregateType,
			CreatedAt:         g.clock(),
			Metadata:          metadata,
			DomainEvent:       domainEvent,
		})
	}

	if _, sinkErr := g.store.Sink(ctx, cmd.AggregateID(), events...); sinkErr != nil {
		return 0, sinkErr
	}

	return outcome, nil
}

// rehydrate folds the creation event and every update event through the
// configuration's transition functions, upcasting deprecated shapes first so
// the fold only ever sees current event representations.
func (g *CommandGateway) rehydrate(config *Configuration, history eventstore.Events) any {
	state := config.Created(g.upcast(history[0]))

	for _, event := range history[1:] {
		state = config.Updated(state, g.upcast(event))
	}

	return state
}

func (g *CommandGateway) upcast(event eventstore.Event) eventstore.DomainEvent {
	if g.upcasts == nil {
		return event.DomainEvent
	}

	return g.upcasts.Apply(event.DomainEvent, event.Metadata)
}

func (g *CommandGateway) recordRetry(ctx context.Context, cmd Command) {
	if g.metrics == nil {
		return
	}

	labels := map[string]string{logAttrCommandType: cmd.CommandType()}

	if contextual, ok := g.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, CommandRetriesMetric, labels)
		return
	}

	g.metrics.IncrementCounter(CommandRetriesMetric, labels)
}

// logInfo prefers the contextual logger when one is configured, so dispatch
// logs carry trace correlation from the surrounding span.
func (g *CommandGateway) logInfo(ctx context.Context, msg string, args ...any) {
	if g.contextualLogger != nil {
		g.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *CommandGateway) startSpan(ctx context.Context, cmd Command) (context.Context, eventstore.SpanContext) {
	if g.tracing == nil {
		return ctx, nil
	}

	return g.tracing.StartSpan(ctx, spanNameDispatch, map[string]string{
		logAttrCommandType: cmd.CommandType(),
		logAttrAggregateID: cmd.AggregateID(),
	})
}

func (g *CommandGateway) finishSpanSuccess(span eventstore.SpanContext, outcome Outcome) {
	if g.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusSuccess)
	span.AddAttribute(spanAttrOutcome, outcome.String())

	g.tracing.FinishSpan(span, statusSuccess, map[string]string{spanAttrOutcome: outcome.String()})
}

func (g *CommandGateway) finishSpanError(span eventstore.SpanContext, err error) {
	if g.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, err.Error())

	g.tracing.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: err.Error()})
}
