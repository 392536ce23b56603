package consistency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Second

	logMsgStillWaiting = "waiting for processors to catch up"
	logAttrLaggards    = "laggards"
)

// Waiter blocks a synchronous caller until the async processors relevant to
// a just-written batch of events have caught up to it. It is a targeted
// consistency escape hatch; ingestion itself stays asynchronous.
type Waiter struct {
	bookmarks    bookmark.Store
	subscribers  []Subscriber
	pollInterval time.Duration
	timeout      time.Duration
	logger       eventstore.Logger
}

// WaiterOption defines a functional option for configuring a Waiter.
type WaiterOption func(*Waiter) error

// WithPollInterval sets the sleep between bookmark rechecks.
func WithPollInterval(interval time.Duration) WaiterOption {
	return func(w *Waiter) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", interval)
		}

		w.pollInterval = interval

		return nil
	}
}

// WithTimeout bounds the total wait.
func WithTimeout(timeout time.Duration) WaiterOption {
	return func(w *Waiter) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}

		w.timeout = timeout

		return nil
	}
}

// WithWaiterLogger sets the logger for the Waiter.
func WithWaiterLogger(logger eventstore.Logger) WaiterOption {
	return func(w *Waiter) error {
		w.logger = logger
		return nil
	}
}

// NewWaiter builds a waiter over the given subscribers.
func NewWaiter(
	bookmarks bookmark.Store,
	subscribers []Subscriber,
	options ...WaiterOption,
) (*Waiter, error) {

	if bookmarks == nil {
		return nil, errors.New("bookmark store must not be nil")
	}

	if len(subscribers) == 0 {
		return nil, errors.New("at least one subscriber is required")
	}

	w := &Waiter{
		bookmarks:    bookmarks,
		subscribers:  subscribers,
		pollInterval: defaultPollInterval,
		timeout:      defaultWaitTimeout,
	}

	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// WaitUntilProcessed blocks until every subscriber whose event types appear
// in the given batch has advanced its bookmark to (at least) the highest
// matching sequence. Subscribers with no matching event are excluded from
// the wait. Exceeding the configured timeout fails with
// eventstore.ErrCatchUpTimedOut.
func (w *Waiter) WaitUntilProcessed(ctx context.Context, events []eventstore.SequencedEvent) error {
	targets := w.targetsFor(events)
	if len(targets) == 0 {
		return nil
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}

	deadline := time.Now().Add(w.timeout)

	for {
		bookmarks, readErr := w.bookmarks.BookmarksFor(ctx, names)
		if readErr != nil {
			return readErr
		}

		laggards := laggardsBehind(bookmarks, targets)
		if len(laggards) == 0 {
			return nil
		}

		if w.logger != nil {
			w.logger.Debug(logMsgStillWaiting, logAttrLaggards, strings.Join(laggards, ","))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v, still behind: %s",
				eventstore.ErrCatchUpTimedOut, w.timeout, strings.Join(laggards, ","))
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// targetsFor computes, per subscriber, the highest sequence among the given
// events that matches its declared event types. Subscribers matching nothing
// are left out.
func (w *Waiter) targetsFor(events []eventstore.SequencedEvent) map[string]eventstore.SequenceNumber {
	targets := make(map[string]eventstore.SequenceNumber)

	for _, subscriber := range w.subscribers {
		wanted := make(map[string]struct{}, len(subscriber.EventTypes()))
		for _, eventType := range subscriber.EventTypes() {
			wanted[eventType] = struct{}{}
		}

		for _, sequenced := range events {
			if len(wanted) > 0 && !matchesTag(wanted, sequenced.Event) {
				continue
			}

			if sequenced.Sequence > targets[subscriber.Name()] {
				targets[subscriber.Name()] = sequenced.Sequence
			}
		}
	}

	return targets
}

// matchesTag accepts both tag shapes: the bare event type (short-name
// policy) and the aggregate-qualified form (canonical policy).
func matchesTag(wanted map[string]struct{}, event eventstore.Event) bool {
	eventType := event.DomainEvent.EventType()

	if _, ok := wanted[eventType]; ok {
		return true
	}

	_, ok := wanted[event.AggregateType+"."+eventType]

	return ok
}

func laggardsBehind(
	bookmarks []bookmark.Bookmark,
	targets map[string]eventstore.SequenceNumber,
) []string {

	var laggards []string

	for _, b := range bookmarks {
		if b.Sequence < targets[b.Name] {
			laggards = append(laggards, b.Name)
		}
	}

	return laggards
}
