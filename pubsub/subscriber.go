package pubsub

import (
	"fmt"
	"sync/atomic"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

// noopCallback is installed while no user callback is registered, so the
// transport always has a valid entry point to deliver into.
var noopCallback transport.ReceiveCallback = func(transport.Delivery) {}

// Subscriber is the untyped receiving endpoint for a single topic. It owns
// exactly one transport subscription and one callback slot.
//
// The entry point registered with the transport is fixed for the lifetime
// of the subscription; SetCallback only swaps the function that entry point
// forwards to. A delivery already in flight when the callback is replaced
// completes against the callback it loaded, never against freed state.
type Subscriber struct {
	topic  string
	sub    transport.ISubscription
	cb     atomic.Pointer[transport.ReceiveCallback]
	closed atomic.Bool
}

// NewSubscriber creates a new subscriber for the given topic.
// The function takes a transport, a topic name and the type metadata this
// endpoint expects.
// It returns a *Subscriber and an error if the transport rejects creation.
//
// The subscriber starts without a user callback; deliveries are discarded
// until SetCallback installs one.
func NewSubscriber(t transport.ITransport, topic string, dt common.DataTypeInfo) (*Subscriber, error) {
	if t == nil {
		return nil, fmt.Errorf("pubsub: transport must not be nil")
	}
	if err := validateTopicName(topic); err != nil {
		return nil, fmt.Errorf("pubsub: topic name %q: %w", topic, err)
	}

	s := &Subscriber{topic: topic}
	s.cb.Store(&noopCallback)

	sub, err := t.CreateSubscription(topic, dt, s.dispatch)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create subscription for topic %q: %w", topic, err)
	}
	s.sub = sub

	Logger.Debugf("created subscriber for topic %q (%s)", topic, dt.String())
	return s, nil
}

// dispatch is the fixed entry point registered with the transport. It runs
// on the transport's delivery goroutine.
func (s *Subscriber) dispatch(d transport.Delivery) {
	(*s.cb.Load())(d)
}

// SetCallback installs the function invoked for every delivery, replacing
// any previously installed one. Passing nil uninstalls the user callback.
//
// The delivery payload is only valid for the duration of the callback and
// must be copied if it is retained.
func (s *Subscriber) SetCallback(cb transport.ReceiveCallback) {
	if cb == nil {
		s.cb.Store(&noopCallback)
		return
	}
	s.cb.Store(&cb)
}

// PublisherCount returns the number of currently known publishers.
// The second return value is false if the transport cannot supply the count.
func (s *Subscriber) PublisherCount() (int, bool) {
	return s.sub.PublisherCount()
}

// TopicName returns the name of the subscribed topic.
// The second return value is false once the subscriber is closed.
func (s *Subscriber) TopicName() (string, bool) {
	if s.closed.Load() {
		return "", false
	}
	return s.topic, true
}

// TopicID returns the transport-assigned identity of this endpoint.
// The second return value is false if the transport cannot supply it.
func (s *Subscriber) TopicID() (common.TopicID, bool) {
	return s.sub.TopicID()
}

// DataType returns the type metadata this subscriber expects.
// The second return value is false if the transport cannot supply it.
func (s *Subscriber) DataType() (common.DataTypeInfo, bool) {
	return s.sub.DataType()
}

// Close removes the subscription from the transport and then releases the
// callback. The order matters: the transport registration goes first, so a
// late delivery can never observe a released callback. Close is idempotent.
func (s *Subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	Logger.Debugf("closing subscriber for topic %q", s.topic)
	err := s.sub.Close()
	s.cb.Store(&noopCallback)
	return err
}
