package eventtype

import (
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// Upcast transforms a deprecated event representation into its current one.
// Stored rows are never rewritten; the transform runs at read time, on the
// async delivery path and on command-side rehydration.
type Upcast func(old eventstore.DomainEvent, metadata eventstore.Metadata) eventstore.DomainEvent

// UpcastRegistry holds the registered upcasts, keyed by the unqualified
// event type of the deprecated representation. Populated at startup by the
// owning aggregate modules; read-only afterwards.
type UpcastRegistry struct {
	upcasts map[string]Upcast
}

// NewUpcastRegistry creates an empty registry.
func NewUpcastRegistry() *UpcastRegistry {
	return &UpcastRegistry{
		upcasts: make(map[string]Upcast),
	}
}

// Register maps a deprecated event type to its transform. Registering the
// same old type twice keeps the last registration.
func (r *UpcastRegistry) Register(oldEventType string, upcast Upcast) {
	r.upcasts[oldEventType] = upcast
}

// Apply upgrades the given event to its current representation, following
// chained registrations (v1 -> v2 -> v3) until no mapping matches. Events
// without a registered upcast are returned unchanged.
func (r *UpcastRegistry) Apply(event eventstore.DomainEvent, metadata eventstore.Metadata) eventstore.DomainEvent {
	if r == nil {
		return event
	}

	for {
		upcast, exists := r.upcasts[event.EventType()]
		if !exists {
			return event
		}

		upcasted := upcast(event, metadata)
		if upcasted.EventType() == event.EventType() {
			// A transform that keeps the type would loop forever.
			return upcasted
		}

		event = upcasted
	}
}
