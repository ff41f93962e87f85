package pubsub

import (
	"fmt"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/serializer"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

// TypedPublisher is a type-safe publisher for messages of type T. It wraps
// an untyped Publisher and serializes every message with the serializer it
// was constructed with; the serializer's metadata is announced on the topic.
type TypedPublisher[T any] struct {
	*Publisher
	ser serializer.IMessageSerializer[T]
}

// NewTypedPublisher creates a new typed publisher for the given topic.
// The function takes a transport, a topic name and the message serializer
// for T.
// It returns a *TypedPublisher[T] and an error if the transport rejects
// creation.
func NewTypedPublisher[T any](t transport.ITransport, topic string, ser serializer.IMessageSerializer[T]) (*TypedPublisher[T], error) {
	if ser == nil {
		return nil, fmt.Errorf("pubsub: serializer must not be nil")
	}

	pub, err := NewPublisher(t, topic, ser.DataType())
	if err != nil {
		return nil, err
	}

	return &TypedPublisher[T]{Publisher: pub, ser: ser}, nil
}

// Send serializes the message and delivers it to all subscribers of the
// topic.
func (p *TypedPublisher[T]) Send(msg T, ts common.Timestamp) error {
	data, err := p.ser.Serialize(msg)
	if err != nil {
		return fmt.Errorf("pubsub: serialize message for topic %q: %w", p.topic, err)
	}
	return p.Publisher.Send(data, ts)
}

// SendWriter bypasses the serializer entirely and performs a zero-copy send
// through the underlying publisher. Intended for raw payload types that
// fill the transport buffer themselves.
func (p *TypedPublisher[T]) SendWriter(w transport.PayloadWriter, ts common.Timestamp) error {
	return p.Publisher.SendWriter(w, ts)
}
