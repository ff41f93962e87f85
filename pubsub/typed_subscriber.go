package pubsub

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"github.com/genevanmeter/tbus/pubsub/serializer"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

// Received is a decoded message bundled with its delivery metadata. It is
// constructed fresh per delivery and handed to the user callback once.
type Received[T any] struct {
	// The deserialized payload of type T
	Payload T
	// The topic name this message was received on
	TopicName string
	// The declared encoding format (e.g. "proto", "raw")
	Encoding string
	// The declared type name for the message
	TypeName string
	// The publisher's send timestamp (microseconds since epoch)
	Timestamp int64
	// The publisher's logical clock at send time
	Clock int64
}

// TypedSubscriber is a type-safe subscriber for messages of type T. It
// wraps an untyped Subscriber and decodes every delivery with the
// serializer it was constructed with.
//
// Deliveries that fail to decode are dropped without invoking the user
// callback; each drop increments the tbus_decode_errors_total metric for
// the topic and is logged at debug level.
type TypedSubscriber[T any] struct {
	*Subscriber
	ser          serializer.IMessageSerializer[T]
	decodeErrors *metrics.Counter
}

// NewTypedSubscriber creates a new typed subscriber for the given topic.
// The function takes a transport, a topic name and the message serializer
// for T.
// It returns a *TypedSubscriber[T] and an error if the transport rejects
// creation.
//
// The subscriber starts without a user callback; deliveries are discarded
// until SetCallback installs one.
func NewTypedSubscriber[T any](t transport.ITransport, topic string, ser serializer.IMessageSerializer[T]) (*TypedSubscriber[T], error) {
	if ser == nil {
		return nil, fmt.Errorf("pubsub: serializer must not be nil")
	}

	sub, err := NewSubscriber(t, topic, ser.DataType())
	if err != nil {
		return nil, err
	}

	return &TypedSubscriber[T]{
		Subscriber:   sub,
		ser:          ser,
		decodeErrors: metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_decode_errors_total{topic=%q}`, topic)),
	}, nil
}

// SetCallback installs the function invoked with the decoded message for
// every delivery, replacing any previously installed one. Passing nil
// uninstalls the user callback.
//
// The callback runs on the transport's delivery goroutine. If T borrows
// from the wire buffer (see serializer.NewBytesSerializer), the payload is
// only valid for the duration of the callback.
func (s *TypedSubscriber[T]) SetCallback(cb func(msg Received[T])) {
	if cb == nil {
		s.Subscriber.SetCallback(nil)
		return
	}

	s.Subscriber.SetCallback(func(d transport.Delivery) {
		msg, err := s.ser.Deserialize(d.Payload)
		if err != nil {
			s.decodeErrors.Inc()
			Logger.Debugf("topic %q: dropped undecodable message (%d bytes): %v", d.TopicName, len(d.Payload), err)
			return
		}

		cb(Received[T]{
			Payload:   msg,
			TopicName: d.TopicName,
			Encoding:  d.DataType.Encoding,
			TypeName:  d.DataType.TypeName,
			Timestamp: d.Timestamp,
			Clock:     d.Clock,
		})
	})
}
