package thing

import (
	"errors"
	"fmt"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
	"github.com/sequentic/aggregate-streams-eventstore-go/gateway"
)

// AggregateTypeName tags every event of this aggregate kind.
const AggregateTypeName = "Thing"

const maxBops = 3

// ErrEmptyAdjustment rejects tweaks that carry no adjustment.
var ErrEmptyAdjustment = errors.New("adjustment must not be empty")

// ErrWornOut rejects bops on a thing that has already been bopped maxBops times.
var ErrWornOut = errors.New("thing is worn out")

// Thing is the rehydrated aggregate state. Never persisted; folded from the
// event history on every dispatch.
type Thing struct {
	ID          string
	Adjustments []string
	Bops        int
}

// Configuration binds the thing aggregate into the command gateway.
func Configuration() gateway.Configuration {
	return gateway.Configuration{
		AggregateType:        AggregateTypeName,
		CreationCommandTypes: []string{CreateThing{}.CommandType()},
		UpdateCommandTypes:   []string{Tweak{}.CommandType(), Bop{}.CommandType()},
		Create:               create,
		Created:              created,
		Update:               update,
		Updated:              updated,
	}
}

// Registration declares the thing event types for the resolver, including
// the deprecated shape so old rows stay decodable.
func Registration() eventtype.Registration {
	return eventtype.Registration{
		AggregateType: AggregateTypeName,
		Events: []eventtype.Factory{
			func() eventstore.DomainEvent { return &ThingCreated{} },
			func() eventstore.DomainEvent { return &Tweaked{} },
			func() eventstore.DomainEvent { return &Bopped{} },
			func() eventstore.DomainEvent { return &Adjusted{} },
		},
	}
}

// RegisterUpcasts installs the Adjusted -> Tweaked rewrite.
func RegisterUpcasts(registry *eventtype.UpcastRegistry) {
	registry.Register(Adjusted{}.EventType(), func(old eventstore.DomainEvent, _ eventstore.Metadata) eventstore.DomainEvent {
		adjusted := asAdjusted(old)
		return Tweaked{Adjustment: adjusted.Value}
	})
}

func create(cmd gateway.CreationCommand, _ eventstore.Metadata) (eventstore.DomainEvents, error) {
	createThing, ok := cmd.(CreateThing)
	if !ok {
		return nil, fmt.Errorf("unexpected creation command %T", cmd)
	}

	return eventstore.DomainEvents{ThingCreated{ThingID: createThing.ThingID}}, nil
}

func created(event eventstore.DomainEvent) any {
	switch e := event.(type) {
	case ThingCreated:
		return Thing{ID: e.ThingID}
	case *ThingCreated:
		return Thing{ID: e.ThingID}
	default:
		return Thing{}
	}
}

func update(state any, cmd gateway.UpdateCommand, _ eventstore.Metadata) (eventstore.DomainEvents, error) {
	current, ok := state.(Thing)
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate state %T", state)
	}

	switch c := cmd.(type) {
	case Tweak:
		if c.Adjustment == "" {
			return nil, ErrEmptyAdjustment
		}

		return eventstore.DomainEvents{Tweaked{Adjustment: c.Adjustment}}, nil

	case Bop:
		if current.Bops >= maxBops {
			return nil, fmt.Errorf("%w: %s", ErrWornOut, current.ID)
		}

		return eventstore.DomainEvents{Bopped{}}, nil

	default:
		return nil, fmt.Errorf("unexpected update command %T", cmd)
	}
}

func updated(state any, event eventstore.DomainEvent) any {
	current, ok := state.(Thing)
	if !ok {
		return state
	}

	switch e := event.(type) {
	case Tweaked:
		current.Adjustments = append(current.Adjustments, e.Adjustment)
	case *Tweaked:
		current.Adjustments = append(current.Adjustments, e.Adjustment)
	case Bopped, *Bopped:
		current.Bops++
	}

	return current
}

func asAdjusted(event eventstore.DomainEvent) Adjusted {
	switch e := event.(type) {
	case Adjusted:
		return e
	case *Adjusted:
		return *e
	default:
		return Adjusted{}
	}
}
