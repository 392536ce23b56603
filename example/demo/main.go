// The demo wires the full runtime against the in-process engine: a command
// gateway writing thing events, a batched processor consuming them, a lag
// monitor reporting the processor's position, and a catch-up waiter blocking
// until the processor has seen everything the gateway just wrote.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/consistency"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore/memoryengine"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
	"github.com/sequentic/aggregate-streams-eventstore-go/example/thing"
	"github.com/sequentic/aggregate-streams-eventstore-go/gateway"
	"github.com/sequentic/aggregate-streams-eventstore-go/processor"
)

type thingWatcher struct {
	logger *slog.Logger
}

func (w *thingWatcher) Name() string { return "demo-thing-watcher" }

func (w *thingWatcher) EventTypes() []string {
	return []string{
		thing.ThingCreated{}.EventType(),
		thing.Tweaked{}.EventType(),
		thing.Bopped{}.EventType(),
		thing.Adjusted{}.EventType(),
	}
}

func (w *thingWatcher) Handle(
	_ context.Context,
	event eventstore.DomainEvent,
	aggregateID string,
	_ eventstore.Metadata,
	eventID uuid.UUID,
) error {

	w.logger.Info("event observed",
		"event_type", event.EventType(),
		"aggregate_id", aggregateID,
		"event_id", eventID.String())

	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	resolver, err := eventtype.NewResolver(eventtype.ShortNames, thing.Registration())
	if err != nil {
		logger.Error("building resolver failed", "error", err)
		os.Exit(1)
	}

	store, err := memoryengine.NewEventStore(eventtype.NewCodec(resolver))
	if err != nil {
		logger.Error("building event store failed", "error", err)
		os.Exit(1)
	}

	upcasts := eventtype.NewUpcastRegistry()
	thing.RegisterUpcasts(upcasts)

	commandGateway, err := gateway.NewCommandGateway(
		store,
		upcasts,
		[]gateway.Configuration{thing.Configuration()},
	)
	if err != nil {
		logger.Error("building command gateway failed", "error", err)
		os.Exit(1)
	}

	bookmarks := bookmark.NewMemoryStore()
	locks := bookmark.NewMemoryLockRegistry()

	watcher := &thingWatcher{logger: logger}

	batched, err := processor.NewBatchedProcessor(
		store,
		bookmarks,
		locks.NewSession(),
		watcher,
		processor.WithUpcasts(upcasts),
		processor.WithBatchSize(10),
	)
	if err != nil {
		logger.Error("building processor failed", "error", err)
		os.Exit(1)
	}

	driver, err := processor.NewDriver(processor.WithIdleWait(20 * time.Millisecond))
	if err != nil {
		logger.Error("building driver failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = driver.Run(ctx, batched.Task())
	}()

	metadata := eventstore.BuildMetadata(uuid.New(), uuid.New(), uuid.New(), uuid.New())
	thingID := uuid.New().String()

	commands := []gateway.Command{
		thing.CreateThing{ThingID: thingID},
		thing.Tweak{ThingID: thingID, Adjustment: "polish"},
		thing.Bop{ThingID: thingID},
	}

	for _, cmd := range commands {
		outcome, dispatchErr := commandGateway.Dispatch(ctx, cmd, metadata)
		if dispatchErr != nil {
			logger.Error("dispatch failed", "command", cmd.CommandType(), "error", dispatchErr)
			os.Exit(1)
		}

		logger.Info("command dispatched", "command", cmd.CommandType(), "outcome", outcome.String())
	}

	written, err := store.GetAfter(ctx, 0, nil, 100)
	if err != nil {
		logger.Error("reading written events failed", "error", err)
		os.Exit(1)
	}

	waiter, err := consistency.NewWaiter(
		bookmarks,
		[]consistency.Subscriber{watcher},
		consistency.WithTimeout(2*time.Second),
	)
	if err != nil {
		logger.Error("building waiter failed", "error", err)
		os.Exit(1)
	}

	if waitErr := waiter.WaitUntilProcessed(ctx, written); waitErr != nil {
		logger.Error("waiting for catch-up failed", "error", waitErr)
		os.Exit(1)
	}

	logger.Info("processor caught up", "events", len(written))

	monitor, err := consistency.NewLagMonitor(
		store,
		bookmarks,
		func(lag consistency.Lag) {
			logger.Info("processor lag",
				"processor", lag.Name,
				"bookmark", lag.BookmarkSequence,
				"head", lag.LastRelevantSequence,
				"behind", lag.Behind())
		},
		[]consistency.Subscriber{watcher},
	)
	if err != nil {
		logger.Error("building lag monitor failed", "error", err)
		os.Exit(1)
	}

	if collectErr := monitor.CollectOnce(ctx); collectErr != nil {
		logger.Error("collecting lag failed", "error", collectErr)
		os.Exit(1)
	}

	cancel()
	workers.Wait()
}
