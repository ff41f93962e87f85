package transport

import (
	"errors"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrClosed is returned by operations on a closed endpoint or transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidTopic is returned when a topic name is empty or cannot be
	// represented by the transport.
	ErrInvalidTopic = errors.New("transport: invalid topic name")

	// ErrWriterSize is returned when a payload writer declares a negative size.
	ErrWriterSize = errors.New("transport: payload writer declared invalid size")

	// ErrWriterFailed is returned when a payload writer reports a failed write.
	// The send is aborted; nothing is published.
	ErrWriterFailed = errors.New("transport: payload writer failed")

	// ErrWriterBusy is returned when a zero-copy send is started on a
	// publication while another zero-copy send on the same publication has
	// not yet returned.
	ErrWriterBusy = errors.New("transport: zero-copy send already in progress")
)

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// Delivery carries one received message from a transport to the entry
// callback of a subscription.
//
// Payload is owned by the transport and is only valid for the duration of
// the callback invocation. A callback that needs the bytes afterwards must
// copy them.
type Delivery struct {
	// TopicName is the topic the message was published on
	TopicName string
	// Payload holds the message bytes (valid only during the callback)
	Payload []byte
	// DataType is the publisher's declared type metadata
	DataType common.DataTypeInfo
	// Timestamp is the send time in microseconds since the unix epoch
	Timestamp int64
	// Clock is the publisher's logical send counter (starts at 1)
	Clock int64
}

// ReceiveCallback is the entry point a subscription invokes for every
// delivery. A transport calls it from a goroutine it controls, one
// invocation at a time per subscription.
type ReceiveCallback func(d Delivery)

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// ITransport creates publications and subscriptions on named topics. A
// transport owns all resources behind its endpoints and releases them when
// the endpoints (or the transport itself) are closed.
type ITransport interface {
	// CreatePublication registers a new publishing endpoint for the topic.
	// The data type metadata is propagated to all matching subscriptions.
	CreatePublication(topic string, dt common.DataTypeInfo) (IPublication, error)

	// CreateSubscription registers a new receiving endpoint for the topic.
	// The entry callback is registered exactly once, here; callback
	// replacement is layered above the transport (see package pubsub).
	// After the returned subscription is closed the entry callback is
	// never invoked again.
	CreateSubscription(topic string, dt common.DataTypeInfo, entry ReceiveCallback) (ISubscription, error)

	// Close releases the transport and every endpoint created from it.
	// Safe to call more than once.
	Close() error
}

// IPublication is a transport-level publishing handle for one topic.
// Implementations must be safe for concurrent use.
type IPublication interface {
	// Send copies the payload into transport-managed buffers and delivers
	// it to all matching subscriptions.
	Send(payload []byte, ts common.Timestamp) error

	// SendWriter performs a zero-copy send: the writer fills a
	// transport-owned buffer in place. The writer callbacks run
	// synchronously on the calling goroutine before SendWriter returns.
	// Any failure reported by the writer aborts the send.
	SendWriter(w PayloadWriter, ts common.Timestamp) error

	// SubscriberCount returns the number of subscriptions currently
	// matched to this topic, with ok=false if the transport cannot tell.
	SubscriberCount() (n int, ok bool)

	// TopicID identifies this endpoint, with ok=false if unavailable.
	TopicID() (id common.TopicID, ok bool)

	// DataType returns the declared type metadata, with ok=false if
	// unavailable.
	DataType() (dt common.DataTypeInfo, ok bool)

	// Close releases the endpoint. Safe to call more than once.
	Close() error
}

// ISubscription is a transport-level receiving handle for one topic.
// Implementations must be safe for concurrent use.
type ISubscription interface {
	// PublisherCount returns the number of publications currently matched
	// to this topic, with ok=false if the transport cannot tell.
	PublisherCount() (n int, ok bool)

	// TopicID identifies this endpoint, with ok=false if unavailable.
	TopicID() (id common.TopicID, ok bool)

	// DataType returns the declared type metadata, with ok=false if
	// unavailable.
	DataType() (dt common.DataTypeInfo, ok bool)

	// Close removes the delivery registration and releases the endpoint.
	// When Close returns, no further entry callback invocations occur.
	// Safe to call more than once.
	Close() error
}
