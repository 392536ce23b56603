package consistency_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/consistency"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore/memoryengine"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
	"github.com/sequentic/aggregate-streams-eventstore-go/example/thing"
)

type staticSubscriber struct {
	name       string
	eventTypes []string
}

func (s staticSubscriber) Name() string { return s.name }

func (s staticSubscriber) EventTypes() []string { return s.eventTypes }

func newPopulatedStore(t *testing.T) *memoryengine.EventStore {
	t.Helper()

	resolver, err := eventtype.NewResolver(eventtype.ShortNames, thing.Registration())
	require.NoError(t, err)

	store, err := memoryengine.NewEventStore(eventtype.NewCodec(resolver))
	require.NoError(t, err)

	ctx := context.Background()
	domainEvents := []eventstore.DomainEvent{
		thing.ThingCreated{ThingID: "t-1"}, // seq 1
		thing.Tweaked{Adjustment: "a"},     // seq 2
		thing.Bopped{},                     // seq 3
	}

	for i, domainEvent := range domainEvents {
		_, err = store.Sink(ctx, "t-1", eventstore.Event{
			ID:                uuid.New(),
			AggregateID:       "t-1",
			AggregateSequence: uint64(i + 1),
			AggregateType:     thing.AggregateTypeName,
			CreatedAt:         time.Now().UTC(),
			DomainEvent:       domainEvent,
		})
		require.NoError(t, err)
	}

	return store
}

func Test_LagMonitor_CollectOnce_ReportsPerSubscriberLag(t *testing.T) {
	store := newPopulatedStore(t)
	bookmarks := bookmark.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, bookmarks.Save(ctx, bookmark.Bookmark{Name: "all-watcher", Sequence: 1}))
	require.NoError(t, bookmarks.Save(ctx, bookmark.Bookmark{Name: "bop-watcher", Sequence: 3}))

	collected := make(map[string]consistency.Lag)
	monitor, err := consistency.NewLagMonitor(
		store,
		bookmarks,
		func(lag consistency.Lag) { collected[lag.Name] = lag },
		[]consistency.Subscriber{
			staticSubscriber{name: "all-watcher"},
			staticSubscriber{name: "bop-watcher", eventTypes: []string{thing.Bopped{}.EventType()}},
		},
	)
	require.NoError(t, err)

	require.NoError(t, monitor.CollectOnce(ctx))
	require.Len(t, collected, 2)

	all := collected["all-watcher"]
	assert.Equal(t, eventstore.SequenceNumber(1), all.BookmarkSequence)
	assert.Equal(t, eventstore.SequenceNumber(3), all.LastRelevantSequence)
	assert.Equal(t, uint64(2), all.Behind())

	bops := collected["bop-watcher"]
	assert.Equal(t, eventstore.SequenceNumber(3), bops.LastRelevantSequence)
	assert.Equal(t, uint64(0), bops.Behind())
}

func Test_LagMonitor_FreshSubscriber_ReportsFullLag(t *testing.T) {
	store := newPopulatedStore(t)
	bookmarks := bookmark.NewMemoryStore()

	var collected consistency.Lag
	monitor, err := consistency.NewLagMonitor(
		store,
		bookmarks,
		func(lag consistency.Lag) { collected = lag },
		[]consistency.Subscriber{staticSubscriber{name: "fresh"}},
	)
	require.NoError(t, err)

	require.NoError(t, monitor.CollectOnce(context.Background()))

	assert.Equal(t, eventstore.SequenceNumber(0), collected.BookmarkSequence)
	assert.Equal(t, uint64(3), collected.Behind())
}

func Test_Lag_BookmarkAheadOfHead_ReportsZero(t *testing.T) {
	lag := consistency.Lag{BookmarkSequence: 5, LastRelevantSequence: 3}
	assert.Equal(t, uint64(0), lag.Behind())
}

func sequencedThingEvents() []eventstore.SequencedEvent {
	build := func(sequence uint64, domainEvent eventstore.DomainEvent) eventstore.SequencedEvent {
		return eventstore.SequencedEvent{
			Sequence: sequence,
			Event: eventstore.Event{
				ID:            uuid.New(),
				AggregateID:   "t-1",
				AggregateType: thing.AggregateTypeName,
				DomainEvent:   domainEvent,
			},
		}
	}

	return []eventstore.SequencedEvent{
		build(1, thing.ThingCreated{ThingID: "t-1"}),
		build(2, thing.Tweaked{Adjustment: "a"}),
		build(3, thing.Bopped{}),
	}
}

func Test_Waiter_ReturnsOnceAllRelevantProcessorsCaughtUp(t *testing.T) {
	bookmarks := bookmark.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, bookmarks.Save(ctx, bookmark.Bookmark{Name: "all-watcher", Sequence: 3}))
	require.NoError(t, bookmarks.Save(ctx, bookmark.Bookmark{Name: "tweak-watcher", Sequence: 2}))

	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{
			staticSubscriber{name: "all-watcher"},
			staticSubscriber{name: "tweak-watcher", eventTypes: []string{thing.Tweaked{}.EventType()}},
		},
		consistency.WithTimeout(time.Second),
	)
	require.NoError(t, err)

	assert.NoError(t, waiter.WaitUntilProcessed(ctx, sequencedThingEvents()))
}

func Test_Waiter_ProcessorWithoutMatchingEvents_IsExcluded(t *testing.T) {
	bookmarks := bookmark.NewMemoryStore()

	// The subscriber has seen nothing, but none of the written events match
	// its types, so the wait must not block on it.
	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{
			staticSubscriber{name: "other-watcher", eventTypes: []string{"SomethingElse"}},
		},
		consistency.WithTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	assert.NoError(t, waiter.WaitUntilProcessed(context.Background(), sequencedThingEvents()))
}

func Test_Waiter_CatchesUpWhileWaiting(t *testing.T) {
	bookmarks := bookmark.NewMemoryStore()
	ctx := context.Background()

	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{staticSubscriber{name: "slow-watcher"}},
		consistency.WithPollInterval(5*time.Millisecond),
		consistency.WithTimeout(2*time.Second),
	)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = bookmarks.Save(ctx, bookmark.Bookmark{Name: "slow-watcher", Sequence: 3})
	}()

	assert.NoError(t, waiter.WaitUntilProcessed(ctx, sequencedThingEvents()))
}

func Test_Waiter_TimesOutWhenProcessorsStayBehind(t *testing.T) {
	bookmarks := bookmark.NewMemoryStore()

	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{staticSubscriber{name: "stuck-watcher"}},
		consistency.WithPollInterval(5*time.Millisecond),
		consistency.WithTimeout(30*time.Millisecond),
	)
	require.NoError(t, err)

	err = waiter.WaitUntilProcessed(context.Background(), sequencedThingEvents())

	require.ErrorIs(t, err, eventstore.ErrCatchUpTimedOut)
	assert.ErrorContains(t, err, "stuck-watcher")
}

func Test_Waiter_CanceledContext_SurfacesImmediately(t *testing.T) {
	bookmarks := bookmark.NewMemoryStore()

	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{staticSubscriber{name: "stuck-watcher"}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = waiter.WaitUntilProcessed(ctx, sequencedThingEvents())
	assert.ErrorIs(t, err, context.Canceled)
}
