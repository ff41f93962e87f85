package pubsub

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/serializer"
	"github.com/genevanmeter/tbus/pubsub/transport"
	"github.com/genevanmeter/tbus/pubsub/transport/local"
)

// testEvent is the message type used throughout the package tests
type testEvent struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// waitUntil polls cond until it holds or the timeout expires
func waitUntil(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

// TestPublishSubscribeJSON sends a JSON message end to end and checks the
// received envelope
func TestPublishSubscribeJSON(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	sub, err := NewTypedSubscriber[testEvent](tr, "t", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	var mu sync.Mutex
	var got []Received[testEvent]
	sub.SetCallback(func(msg Received[testEvent]) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	pub, err := NewTypedPublisher[testEvent](tr, "t", ser)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send(testEvent{Message: "hi", Count: 1}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	msg := got[0]
	mu.Unlock()

	if msg.Payload.Count != 1 {
		t.Errorf("expected count 1, got %d", msg.Payload.Count)
	}
	if msg.Payload.Message != "hi" {
		t.Errorf("expected message 'hi', got %q", msg.Payload.Message)
	}
	if msg.TopicName != "t" {
		t.Errorf("expected topic 't', got %q", msg.TopicName)
	}
	if msg.Encoding != "json" {
		t.Errorf("expected encoding 'json', got %q", msg.Encoding)
	}
	if msg.TypeName != "testEvent" {
		t.Errorf("expected type name 'testEvent', got %q", msg.TypeName)
	}
	if msg.Clock != 1 {
		t.Errorf("expected clock 1, got %d", msg.Clock)
	}
	if msg.Timestamp <= 0 {
		t.Errorf("expected a positive timestamp, got %d", msg.Timestamp)
	}
}

// TestUntypedPubSub exercises the raw byte endpoints and their metadata
func TestUntypedPubSub(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}

	sub, err := NewSubscriber(tr, "raw", dt)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Close()

	var mu sync.Mutex
	var deliveries []transport.Delivery
	sub.SetCallback(func(d transport.Delivery) {
		payload := make([]byte, len(d.Payload))
		copy(payload, d.Payload)
		d.Payload = payload

		mu.Lock()
		deliveries = append(deliveries, d)
		mu.Unlock()
	})

	pub, err := NewPublisher(tr, "raw", dt)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send([]byte{1, 2, 3}, common.TimestampAt(77)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deliveries) == 1
	})

	mu.Lock()
	d := deliveries[0]
	mu.Unlock()

	if !bytes.Equal(d.Payload, []byte{1, 2, 3}) {
		t.Errorf("payload mismatch: got %v", d.Payload)
	}
	if d.Timestamp != 77 {
		t.Errorf("expected pinned timestamp 77, got %d", d.Timestamp)
	}
	if !d.DataType.Equal(dt) {
		t.Errorf("metadata mismatch: got %v", d.DataType)
	}
}

// TestCallbackReplacement verifies that a replaced callback is never
// invoked again
func TestCallbackReplacement(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	sub, err := NewTypedSubscriber[testEvent](tr, "swap", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	pub, err := NewTypedPublisher[testEvent](tr, "swap", ser)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}
	defer pub.Close()

	var mu sync.Mutex
	var first, second []int

	sub.SetCallback(func(msg Received[testEvent]) {
		mu.Lock()
		first = append(first, msg.Payload.Count)
		mu.Unlock()
	})

	if err := pub.Send(testEvent{Count: 1}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1
	})

	sub.SetCallback(func(msg Received[testEvent]) {
		mu.Lock()
		second = append(second, msg.Payload.Count)
		mu.Unlock()
	})

	if err := pub.Send(testEvent{Count: 2}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(first) != 1 || first[0] != 1 {
		t.Errorf("old callback saw %v, want [1]", first)
	}
	if len(second) != 1 || second[0] != 2 {
		t.Errorf("new callback saw %v, want [2]", second)
	}
}

// TestNoCallbackInstalled verifies that deliveries before SetCallback are
// discarded without breaking the subscription
func TestNoCallbackInstalled(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	sub, err := NewTypedSubscriber[testEvent](tr, "late", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	pub, err := NewTypedPublisher[testEvent](tr, "late", ser)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}
	defer pub.Close()

	// no callback installed yet, the delivery lands in the placeholder
	if err := pub.Send(testEvent{Count: 1}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	var got []int
	sub.SetCallback(func(msg Received[testEvent]) {
		mu.Lock()
		got = append(got, msg.Payload.Count)
		mu.Unlock()
	})

	if err := pub.Send(testEvent{Count: 2}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != 2 {
		t.Errorf("expected only the post-install message, got %v", got)
	}
}

// TestCorruptPayloadDropped verifies that undecodable deliveries never
// reach the user callback and do not break the subscription
func TestCorruptPayloadDropped(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	sub, err := NewTypedSubscriber[testEvent](tr, "corrupt", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	var mu sync.Mutex
	var got []testEvent
	sub.SetCallback(func(msg Received[testEvent]) {
		mu.Lock()
		got = append(got, msg.Payload)
		mu.Unlock()
	})

	// an untyped publisher announcing the same metadata lets us inject
	// arbitrary bytes under the subscriber's expected type
	rawPub, err := NewPublisher(tr, "corrupt", ser.DataType())
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer rawPub.Close()

	for _, garbage := range [][]byte{
		[]byte("not json"),
		{0xFF, 0xFE, 0xFD},
		{},
	} {
		if err := rawPub.Send(garbage, common.TimestampAuto()); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	// a valid message after the garbage proves the subscription survived
	valid, err := ser.Serialize(testEvent{Message: "ok", Count: 9})
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if err := rawPub.Send(valid, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Count != 9 || got[0].Message != "ok" {
		t.Errorf("expected only the valid message, got %+v", got)
	}
}

// TestSubscriberTeardown verifies that no deliveries occur after Close
func TestSubscriberTeardown(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	sub, err := NewTypedSubscriber[testEvent](tr, "down", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}

	var mu sync.Mutex
	count := 0
	sub.SetCallback(func(Received[testEvent]) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	pub, err := NewTypedPublisher[testEvent](tr, "down", ser)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send(testEvent{Count: 1}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if name, ok := sub.TopicName(); ok {
		t.Errorf("TopicName after close = (%q, true), want absent", name)
	}

	if err := pub.Send(testEvent{Count: 2}, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected no deliveries after teardown, got %d extra", count-1)
	}
}

// TestTypedSendWriter verifies the zero-copy path through a typed publisher
func TestTypedSendWriter(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	bytesSer := serializer.NewBytesSerializer()

	sub, err := NewTypedSubscriber[[]byte](tr, "zc", bytesSer)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	var mu sync.Mutex
	var got []byte
	sub.SetCallback(func(msg Received[[]byte]) {
		// the borrowed payload is only valid inside the callback
		mu.Lock()
		got = append([]byte(nil), msg.Payload...)
		mu.Unlock()
	})

	pub, err := NewTypedPublisher[[]byte](tr, "zc", bytesSer)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}
	defer pub.Close()

	if err := pub.SendWriter(&constWriter{size: 16, fill: 0x2A}, common.TimestampAuto()); err != nil {
		t.Fatalf("SendWriter failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(got))
	}
	for i, b := range got {
		if b != 0x2A {
			t.Fatalf("byte %d: expected 0x2A, got 0x%02X", i, b)
		}
	}
}

// constWriter fills the transport buffer with a constant byte
type constWriter struct {
	size int
	fill byte
}

func (w *constWriter) GetSize() int { return w.size }

func (w *constWriter) WriteFull(buf []byte) bool {
	for i := range buf {
		buf[i] = w.fill
	}
	return true
}

// TestEndpointQueries verifies the metadata queries on open and closed
// endpoints
func TestEndpointQueries(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	ser := serializer.NewJSONSerializer[testEvent]()

	pub, err := NewTypedPublisher[testEvent](tr, "meta", ser)
	if err != nil {
		t.Fatalf("NewTypedPublisher failed: %v", err)
	}

	sub, err := NewTypedSubscriber[testEvent](tr, "meta", ser)
	if err != nil {
		t.Fatalf("NewTypedSubscriber failed: %v", err)
	}
	defer sub.Close()

	if name, ok := pub.TopicName(); !ok || name != "meta" {
		t.Errorf("TopicName = (%q, %v), want ('meta', true)", name, ok)
	}
	if dt, ok := pub.DataType(); !ok || !dt.Equal(ser.DataType()) {
		t.Errorf("DataType = (%v, %v), want announced metadata", dt, ok)
	}
	if id, ok := pub.TopicID(); !ok || id.EntityID == "" {
		t.Errorf("TopicID = (%v, %v), want a populated identity", id, ok)
	}
	if n, ok := pub.SubscriberCount(); !ok || n != 1 {
		t.Errorf("SubscriberCount = (%d, %v), want (1, true)", n, ok)
	}
	if n, ok := sub.PublisherCount(); !ok || n != 1 {
		t.Errorf("PublisherCount = (%d, %v), want (1, true)", n, ok)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := pub.TopicName(); ok {
		t.Error("TopicName available after close")
	}
	if _, ok := pub.DataType(); ok {
		t.Error("DataType available after close")
	}
}

// TestConstructorValidation verifies argument checks on the constructors
func TestConstructorValidation(t *testing.T) {
	tr := local.New(local.Options{})
	defer tr.Close()

	if _, err := NewTypedPublisher[testEvent](tr, "v", nil); err == nil {
		t.Error("NewTypedPublisher accepted a nil serializer")
	}
	if _, err := NewTypedSubscriber[testEvent](tr, "v", nil); err == nil {
		t.Error("NewTypedSubscriber accepted a nil serializer")
	}
	if _, err := NewPublisher(nil, "v", common.DataTypeInfo{}); err == nil {
		t.Error("NewPublisher accepted a nil transport")
	}
	if _, err := NewSubscriber(nil, "v", common.DataTypeInfo{}); err == nil {
		t.Error("NewSubscriber accepted a nil transport")
	}

	for _, topic := range []string{"", "with\x00nul"} {
		if _, err := NewPublisher(tr, topic, common.DataTypeInfo{}); !errors.Is(err, transport.ErrInvalidTopic) {
			t.Errorf("NewPublisher(%q): expected ErrInvalidTopic, got %v", topic, err)
		}
		if _, err := NewSubscriber(tr, topic, common.DataTypeInfo{}); !errors.Is(err, transport.ErrInvalidTopic) {
			t.Errorf("NewSubscriber(%q): expected ErrInvalidTopic, got %v", topic, err)
		}
	}
}
