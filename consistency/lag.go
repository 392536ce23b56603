package consistency

import (
	"context"
	"errors"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/processor"
)

const (
	logMsgLagCollected = "processor lag collected"
	logAttrProcessor   = "processor"
	logAttrLag         = "lag"
)

// Subscriber describes one async processor for observational purposes: its
// bookmark name and the event types it consumes. processor.EventHandler
// satisfies this interface.
type Subscriber interface {
	Name() string
	EventTypes() []string
}

// Lag is derived, never stored: how far a named processor's bookmark trails
// the highest global sequence among the event types it consumes.
type Lag struct {
	Name                 string
	BookmarkSequence     eventstore.SequenceNumber
	LastRelevantSequence eventstore.SequenceNumber
}

// Behind returns the lag in events. A bookmark ahead of the last relevant
// sequence (possible under eventual sequence visibility) reports 0.
func (l Lag) Behind() uint64 {
	if l.BookmarkSequence >= l.LastRelevantSequence {
		return 0
	}

	return uint64(l.LastRelevantSequence - l.BookmarkSequence)
}

// LagCallback receives one Lag record per subscriber per collection cycle.
type LagCallback func(lag Lag)

// LagMonitor periodically computes the lag of each registered subscriber and
// emits it through the callback, typically into a metrics gauge.
type LagMonitor struct {
	store       eventstore.EventStore
	bookmarks   bookmark.Store
	subscribers []Subscriber
	callback    LagCallback
	logger      eventstore.Logger
}

// MonitorOption defines a functional option for configuring a LagMonitor.
type MonitorOption func(*LagMonitor) error

// WithMonitorLogger sets the logger for the LagMonitor.
func WithMonitorLogger(logger eventstore.Logger) MonitorOption {
	return func(m *LagMonitor) error {
		m.logger = logger
		return nil
	}
}

// NewLagMonitor builds a monitor over the given subscribers.
func NewLagMonitor(
	store eventstore.EventStore,
	bookmarks bookmark.Store,
	callback LagCallback,
	subscribers []Subscriber,
	options ...MonitorOption,
) (*LagMonitor, error) {

	if store == nil {
		return nil, errors.New("event store must not be nil")
	}

	if bookmarks == nil {
		return nil, errors.New("bookmark store must not be nil")
	}

	if callback == nil {
		return nil, errors.New("lag callback must not be nil")
	}

	if len(subscribers) == 0 {
		return nil, errors.New("at least one subscriber is required")
	}

	m := &LagMonitor{
		store:       store,
		bookmarks:   bookmarks,
		subscribers: subscribers,
		callback:    callback,
	}

	for _, option := range options {
		if err := option(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// CollectOnce computes and emits the current lag of every subscriber.
func (m *LagMonitor) CollectOnce(ctx context.Context) error {
	names := make([]string, 0, len(m.subscribers))
	for _, subscriber := range m.subscribers {
		names = append(names, subscriber.Name())
	}

	bookmarks, readErr := m.bookmarks.BookmarksFor(ctx, names)
	if readErr != nil {
		return readErr
	}

	positions := make(map[string]eventstore.SequenceNumber, len(bookmarks))
	for _, b := range bookmarks {
		positions[b.Name] = b.Sequence
	}

	for _, subscriber := range m.subscribers {
		head, headErr := m.store.LastSequence(ctx, subscriber.EventTypes())
		if headErr != nil {
			return headErr
		}

		lag := Lag{
			Name:                 subscriber.Name(),
			BookmarkSequence:     positions[subscriber.Name()],
			LastRelevantSequence: head,
		}

		m.callback(lag)

		if m.logger != nil {
			m.logger.Debug(logMsgLagCollected,
				logAttrProcessor, lag.Name,
				logAttrLag, lag.Behind())
		}
	}

	return nil
}

// Task adapts the monitor to the backoff driver loop: every invocation
// collects once, then waits the driver's idle interval.
func (m *LagMonitor) Task() processor.Task {
	return func(ctx context.Context) (processor.Action, error) {
		if err := m.CollectOnce(ctx); err != nil {
			return processor.ActionWait, err
		}

		return processor.ActionWait, nil
	}
}
