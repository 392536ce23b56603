package eventtype

import (
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// Codec turns domain events into (tag, payload) pairs and back, using the
// Resolver for tag mapping. All engines share it so that a payload which
// cannot round-trip is rejected before anything is committed.
type Codec struct {
	resolver *Resolver
}

// NewCodec creates a Codec on top of the given resolver.
func NewCodec(resolver *Resolver) *Codec {
	return &Codec{resolver: resolver}
}

// Encode serializes the event and verifies the round trip: the payload must
// be valid JSON and the tag must resolve back to a registered factory.
func (c *Codec) Encode(aggregateType string, event eventstore.DomainEvent) (string, []byte, error) {
	payload, marshalErr := jsoniter.ConfigFastest.Marshal(event)
	if marshalErr != nil {
		return "", nil, errors.Join(eventstore.ErrSerializingEventFailed, marshalErr)
	}

	if !json.Valid(payload) {
		return "", nil, eventstore.ErrSerializingEventFailed
	}

	tag := c.resolver.Serialize(aggregateType, event)

	if _, resolveErr := c.resolver.Deserialize(aggregateType, tag); resolveErr != nil {
		return "", nil, errors.Join(eventstore.ErrSerializingEventFailed, resolveErr)
	}

	return tag, payload, nil
}

// Decode deserializes a stored payload into a fresh instance of the event
// type behind the tag.
func (c *Codec) Decode(aggregateType string, tag string, payload []byte) (eventstore.DomainEvent, error) {
	event, resolveErr := c.resolver.Deserialize(aggregateType, tag)
	if resolveErr != nil {
		return nil, errors.Join(eventstore.ErrDeserializingEventFailed, resolveErr)
	}

	if unmarshalErr := jsoniter.ConfigFastest.Unmarshal(payload, event); unmarshalErr != nil {
		return nil, errors.Join(eventstore.ErrDeserializingEventFailed, unmarshalErr)
	}

	return event, nil
}

// EncodeMetadata serializes event metadata.
func EncodeMetadata(metadata eventstore.Metadata) ([]byte, error) {
	encoded, marshalErr := jsoniter.ConfigFastest.Marshal(metadata)
	if marshalErr != nil {
		return nil, errors.Join(eventstore.ErrSerializingEventFailed, marshalErr)
	}

	return encoded, nil
}

// DecodeMetadata deserializes event metadata.
func DecodeMetadata(encoded []byte) (eventstore.Metadata, error) {
	metadata := eventstore.Metadata{}
	if unmarshalErr := jsoniter.ConfigFastest.Unmarshal(encoded, &metadata); unmarshalErr != nil {
		return eventstore.Metadata{}, errors.Join(eventstore.ErrDeserializingEventFailed, unmarshalErr)
	}

	return metadata, nil
}
