package eventtype

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

const canonicalTagSeparator = "."

var (
	// ErrDuplicateEventTypes is returned when the short-name policy finds the
	// same unqualified event type registered for more than one aggregate.
	ErrDuplicateEventTypes = errors.New("duplicate event types registered")

	// ErrUnknownEventType is returned when a stored tag has no registration.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNoEventsRegistered is returned when a registration carries no factories.
	ErrNoEventsRegistered = errors.New("registration must contain at least one event factory")
)

// Factory produces a fresh instance of one domain-event type, ready to be
// unmarshaled into. Return a pointer to a zero struct, e.g.
// func() eventstore.DomainEvent { return &ThingCreated{} }.
type Factory func() eventstore.DomainEvent

// Registration declares the event types owned by one aggregate kind.
type Registration struct {
	AggregateType string
	Events        []Factory
}

// NamingPolicy selects how stored tags are formed.
type NamingPolicy int

const (
	// CanonicalNames stores tags qualified by the owning aggregate type,
	// e.g. "Thing.ThingCreated". Always collision-free.
	CanonicalNames NamingPolicy = iota

	// ShortNames stores the bare event type, e.g. "ThingCreated". Requires
	// global uniqueness across all registered aggregates; NewResolver fails
	// fast naming every duplicate otherwise.
	ShortNames
)

// Resolver maps a domain-event type to its stored string tag and back.
type Resolver struct {
	policy    NamingPolicy
	factories map[string]Factory
}

// NewResolver builds a Resolver from the given registrations.
func NewResolver(policy NamingPolicy, registrations ...Registration) (*Resolver, error) {
	r := &Resolver{
		policy:    policy,
		factories: make(map[string]Factory),
	}

	var duplicates []string

	for _, registration := range registrations {
		if len(registration.Events) == 0 {
			return nil, fmt.Errorf("%w: aggregate type %q", ErrNoEventsRegistered, registration.AggregateType)
		}

		for _, factory := range registration.Events {
			tag := r.tagFor(registration.AggregateType, factory().EventType())

			if _, exists := r.factories[tag]; exists {
				duplicates = append(duplicates, tag)
				continue
			}

			r.factories[tag] = factory
		}
	}

	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEventTypes, strings.Join(duplicates, ", "))
	}

	return r, nil
}

// Serialize returns the stored tag for the given event.
func (r *Resolver) Serialize(aggregateType string, event eventstore.DomainEvent) string {
	return r.tagFor(aggregateType, event.EventType())
}

// Deserialize returns a fresh zero value for the event type behind the given
// tag, to be unmarshaled into by the caller.
func (r *Resolver) Deserialize(aggregateType string, tag string) (eventstore.DomainEvent, error) {
	factory, exists := r.factories[tag]
	if !exists {
		return nil, fmt.Errorf("%w: aggregate type %q, tag %q", ErrUnknownEventType, aggregateType, tag)
	}

	return factory(), nil
}

func (r *Resolver) tagFor(aggregateType string, eventType string) string {
	if r.policy == CanonicalNames {
		return aggregateType + canonicalTagSeparator + eventType
	}

	return eventType
}
