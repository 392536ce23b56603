package gateway

import (
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// CreateFunc decides whether a creation command may start a new stream and
// returns the events recording the decision. Business-rule violations are
// returned as errors and surface to the dispatcher's caller unretried.
type CreateFunc func(cmd CreationCommand, metadata eventstore.Metadata) (eventstore.DomainEvents, error)

// CreatedFunc folds the creation event into the initial aggregate state.
type CreatedFunc func(event eventstore.DomainEvent) any

// UpdateFunc decides whether an update command may advance the stream, given
// the rehydrated state, and returns the events recording the decision.
type UpdateFunc func(state any, cmd UpdateCommand, metadata eventstore.Metadata) (eventstore.DomainEvents, error)

// UpdatedFunc folds one update event into the aggregate state.
type UpdatedFunc func(state any, event eventstore.DomainEvent) any

// Configuration statically binds one aggregate kind: its command types, its
// state-transition function pairs, and its aggregate type tag. Built once at
// startup by the owning aggregate module.
//
// Stateful aggregates close Create/Update over the folded state; stateless
// ones ignore it and consult an external read model instead (a
// name-uniqueness projection, for example). Both shapes fit these four
// function slots.
type Configuration struct {
	AggregateType string

	CreationCommandTypes []string
	UpdateCommandTypes   []string

	Create  CreateFunc
	Created CreatedFunc
	Update  UpdateFunc
	Updated UpdatedFunc
}
