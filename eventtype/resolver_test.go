package eventtype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventtype"
)

type OrderPlaced struct {
	Total int `json:"total"`
}

func (e OrderPlaced) EventType() string { return "OrderPlaced" }

type OrderShipped struct{}

func (e OrderShipped) EventType() string { return "OrderShipped" }

// InvoicePlaced deliberately reuses the OrderPlaced tag under another
// aggregate via a colliding EventType.
type Placed struct{}

func (e Placed) EventType() string { return "OrderPlaced" }

func orderRegistration() eventtype.Registration {
	return eventtype.Registration{
		AggregateType: "Order",
		Events: []eventtype.Factory{
			func() eventstore.DomainEvent { return &OrderPlaced{} },
			func() eventstore.DomainEvent { return &OrderShipped{} },
		},
	}
}

func Test_NewResolver_ShortNames_FailsFastOnDuplicates(t *testing.T) {
	_, err := eventtype.NewResolver(eventtype.ShortNames,
		orderRegistration(),
		eventtype.Registration{
			AggregateType: "Invoice",
			Events: []eventtype.Factory{
				func() eventstore.DomainEvent { return &Placed{} },
			},
		},
	)

	require.ErrorIs(t, err, eventtype.ErrDuplicateEventTypes)
	assert.ErrorContains(t, err, "OrderPlaced")
}

func Test_NewResolver_CanonicalNames_DisambiguatesAcrossAggregates(t *testing.T) {
	resolver, err := eventtype.NewResolver(eventtype.CanonicalNames,
		orderRegistration(),
		eventtype.Registration{
			AggregateType: "Invoice",
			Events: []eventtype.Factory{
				func() eventstore.DomainEvent { return &Placed{} },
			},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, "Order.OrderPlaced", resolver.Serialize("Order", OrderPlaced{}))
	assert.Equal(t, "Invoice.OrderPlaced", resolver.Serialize("Invoice", Placed{}))
}

func Test_NewResolver_EmptyRegistration_Fails(t *testing.T) {
	_, err := eventtype.NewResolver(eventtype.ShortNames, eventtype.Registration{
		AggregateType: "Order",
	})

	assert.ErrorIs(t, err, eventtype.ErrNoEventsRegistered)
}

func Test_Resolver_Deserialize_UnknownTag_Fails(t *testing.T) {
	resolver, err := eventtype.NewResolver(eventtype.ShortNames, orderRegistration())
	require.NoError(t, err)

	_, err = resolver.Deserialize("Order", "NeverRegistered")
	assert.ErrorIs(t, err, eventtype.ErrUnknownEventType)
}

func Test_Codec_RoundTripsEventAndMetadata(t *testing.T) {
	resolver, err := eventtype.NewResolver(eventtype.ShortNames, orderRegistration())
	require.NoError(t, err)

	codec := eventtype.NewCodec(resolver)

	tag, payload, err := codec.Encode("Order", OrderPlaced{Total: 42})
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", tag)

	decoded, err := codec.Decode("Order", tag, payload)
	require.NoError(t, err)

	placed, ok := decoded.(*OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, 42, placed.Total)

	metadata := eventstore.Metadata{AccountID: "a", CorrelationID: "c"}
	encoded, err := eventtype.EncodeMetadata(metadata)
	require.NoError(t, err)

	roundTripped, err := eventtype.DecodeMetadata(encoded)
	require.NoError(t, err)
	assert.Equal(t, metadata, roundTripped)
}

func Test_Codec_Encode_UnregisteredEvent_Fails(t *testing.T) {
	resolver, err := eventtype.NewResolver(eventtype.ShortNames, orderRegistration())
	require.NoError(t, err)

	codec := eventtype.NewCodec(resolver)

	_, _, err = codec.Encode("Invoice", Placed{})
	assert.ErrorIs(t, err, eventstore.ErrSerializingEventFailed)
}

type legacyRenamed struct {
	NewName string `json:"newName"`
}

func (e legacyRenamed) EventType() string { return "Renamed" }

type nameChanged struct {
	Name string `json:"name"`
}

func (e nameChanged) EventType() string { return "NameChanged" }

type nameChangedV2 struct {
	Name    string `json:"name"`
	Changed bool   `json:"changed"`
}

func (e nameChangedV2) EventType() string { return "NameChangedV2" }

func Test_UpcastRegistry_AppliesChainedUpcasts(t *testing.T) {
	registry := eventtype.NewUpcastRegistry()

	registry.Register("Renamed", func(old eventstore.DomainEvent, _ eventstore.Metadata) eventstore.DomainEvent {
		renamed := old.(legacyRenamed)
		return nameChanged{Name: renamed.NewName}
	})
	registry.Register("NameChanged", func(old eventstore.DomainEvent, _ eventstore.Metadata) eventstore.DomainEvent {
		changed := old.(nameChanged)
		return nameChangedV2{Name: changed.Name, Changed: true}
	})

	result := registry.Apply(legacyRenamed{NewName: "zork"}, eventstore.Metadata{})

	final, ok := result.(nameChangedV2)
	require.True(t, ok)
	assert.Equal(t, "zork", final.Name)
	assert.True(t, final.Changed)
}

func Test_UpcastRegistry_EventWithoutUpcast_PassesThroughUnchanged(t *testing.T) {
	registry := eventtype.NewUpcastRegistry()

	event := nameChanged{Name: "same"}
	result := registry.Apply(event, eventstore.Metadata{})

	assert.Equal(t, event, result)
}

func Test_UpcastRegistry_NilRegistry_IsSafe(t *testing.T) {
	var registry *eventtype.UpcastRegistry

	event := nameChanged{Name: "same"}
	assert.Equal(t, event, registry.Apply(event, eventstore.Metadata{}))
}

func Test_UpcastRegistry_SameTypeTransform_DoesNotLoop(t *testing.T) {
	registry := eventtype.NewUpcastRegistry()

	registry.Register("NameChanged", func(old eventstore.DomainEvent, _ eventstore.Metadata) eventstore.DomainEvent {
		changed := old.(nameChanged)
		return nameChanged{Name: changed.Name + "!"}
	})

	result := registry.Apply(nameChanged{Name: "a"}, eventstore.Metadata{})

	final, ok := result.(nameChanged)
	require.True(t, ok)
	assert.Equal(t, "a!", final.Name)
}
