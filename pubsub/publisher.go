package pubsub

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("pubsub")

// validateTopicName rejects names no transport encoding can represent.
// Topic names travel as C strings on interoperating buses, so an interior
// NUL is unrepresentable everywhere.
func validateTopicName(topic string) error {
	if topic == "" || strings.ContainsRune(topic, 0) {
		return transport.ErrInvalidTopic
	}
	return nil
}

// Publisher is the untyped sending endpoint for a single topic. It owns
// exactly one transport publication which is released exactly once on Close.
type Publisher struct {
	topic  string
	pub    transport.IPublication
	closed atomic.Bool
}

// NewPublisher creates a new publisher for the given topic.
// The function takes a transport, a topic name and the type metadata that
// will be announced for every message.
// It returns a *Publisher and an error if the transport rejects creation.
func NewPublisher(t transport.ITransport, topic string, dt common.DataTypeInfo) (*Publisher, error) {
	if t == nil {
		return nil, fmt.Errorf("pubsub: transport must not be nil")
	}
	if err := validateTopicName(topic); err != nil {
		return nil, fmt.Errorf("pubsub: topic name %q: %w", topic, err)
	}

	pub, err := t.CreatePublication(topic, dt)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create publication for topic %q: %w", topic, err)
	}

	Logger.Debugf("created publisher for topic %q (%s)", topic, dt.String())
	return &Publisher{topic: topic, pub: pub}, nil
}

// Send copies the payload into the transport and delivers it to all
// subscribers of the topic. The timestamp policy decides whether the send
// time is captured automatically or pinned by the caller.
func (p *Publisher) Send(payload []byte, ts common.Timestamp) error {
	return p.pub.Send(payload, ts)
}

// SendWriter performs a zero-copy send: the transport allocates (or reuses)
// the outgoing buffer and the writer fills it in place. See the transport
// package for the writer contract.
func (p *Publisher) SendWriter(w transport.PayloadWriter, ts common.Timestamp) error {
	return p.pub.SendWriter(w, ts)
}

// SubscriberCount returns the number of currently known subscribers.
// The second return value is false if the transport cannot supply the count.
func (p *Publisher) SubscriberCount() (int, bool) {
	return p.pub.SubscriberCount()
}

// TopicName returns the name of the topic this publisher is bound to.
// The second return value is false once the publisher is closed.
func (p *Publisher) TopicName() (string, bool) {
	if p.closed.Load() {
		return "", false
	}
	return p.topic, true
}

// TopicID returns the transport-assigned identity of this endpoint.
// The second return value is false if the transport cannot supply it.
func (p *Publisher) TopicID() (common.TopicID, bool) {
	return p.pub.TopicID()
}

// DataType returns the type metadata this publisher announces.
// The second return value is false if the transport cannot supply it.
func (p *Publisher) DataType() (common.DataTypeInfo, bool) {
	return p.pub.DataType()
}

// Close releases the transport publication. Close is idempotent; sends
// after Close fail with transport.ErrClosed.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	Logger.Debugf("closing publisher for topic %q", p.topic)
	return p.pub.Close()
}
