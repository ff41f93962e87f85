package testing

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

// TransportFactory is a function that creates a fresh transport instance
// for a single test.
type TransportFactory func() transport.ITransport

// RunTransportTests runs the contract test suite for a transport
// implementation.
func RunTransportTests(t *testing.T, name string, factory TransportFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Delivery", func(t *testing.T) {
			testDelivery(t, factory())
		})

		t.Run("FanOut", func(t *testing.T) {
			testFanOut(t, factory())
		})

		t.Run("Ordering", func(t *testing.T) {
			testOrdering(t, factory())
		})

		t.Run("MetadataPropagation", func(t *testing.T) {
			testMetadataPropagation(t, factory())
		})

		t.Run("Counts", func(t *testing.T) {
			testCounts(t, factory())
		})

		t.Run("EmptyPayload", func(t *testing.T) {
			testEmptyPayload(t, factory())
		})

		t.Run("WriterFull", func(t *testing.T) {
			testWriterFull(t, factory())
		})

		t.Run("WriterModified", func(t *testing.T) {
			testWriterModified(t, factory())
		})

		t.Run("WriterFailure", func(t *testing.T) {
			testWriterFailure(t, factory())
		})

		t.Run("WriterSlotCleared", func(t *testing.T) {
			testWriterSlotCleared(t, factory())
		})

		t.Run("WriterBusy", func(t *testing.T) {
			testWriterBusy(t, factory())
		})

		t.Run("CloseStopsDeliveries", func(t *testing.T) {
			testCloseStopsDeliveries(t, factory())
		})

		t.Run("DoubleClose", func(t *testing.T) {
			testDoubleClose(t, factory())
		})

		t.Run("SendAfterClose", func(t *testing.T) {
			testSendAfterClose(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper types
// --------------------------------------------------------------------------

var testType = common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}

// collector records every delivery it receives. Payload bytes are copied
// because they are only valid during the callback.
type collector struct {
	mu    sync.Mutex
	items []transport.Delivery
}

func (c *collector) entry(d transport.Delivery) {
	payload := make([]byte, len(d.Payload))
	copy(payload, d.Payload)
	d.Payload = payload

	c.mu.Lock()
	c.items = append(c.items, d)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *collector) get(i int) transport.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[i]
}

// waitFor polls until the collector holds at least n deliveries or the
// timeout expires.
func (c *collector) waitFor(t testing.TB, n int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, got %d", n, c.count())
}

// settle gives in-flight deliveries time to arrive (or not arrive).
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// fillWriter fills the whole buffer with a constant byte.
type fillWriter struct {
	size      int
	fill      byte
	fullCalls int
	sizes     []int // buffer lengths observed by WriteFull
}

func (w *fillWriter) GetSize() int { return w.size }

func (w *fillWriter) WriteFull(buf []byte) bool {
	w.fullCalls++
	w.sizes = append(w.sizes, len(buf))
	for i := range buf {
		buf[i] = w.fill
	}
	return true
}

// seqWriter fills with a constant on WriteFull and stamps a sequence
// number into the first byte on WriteModified, touching nothing else.
type seqWriter struct {
	size      int
	seq       byte
	fullCalls int
	modCalls  int
}

func (w *seqWriter) GetSize() int { return w.size }

func (w *seqWriter) WriteFull(buf []byte) bool {
	w.fullCalls++
	for i := range buf {
		buf[i] = 0x2A
	}
	buf[0] = w.seq
	return true
}

func (w *seqWriter) WriteModified(buf []byte) bool {
	w.modCalls++
	buf[0] = w.seq
	return true
}

// failingWriter reports failure from the configured callback.
type failingWriter struct {
	size     int
	failFull bool
	failMod  bool
}

func (w *failingWriter) GetSize() int { return w.size }

func (w *failingWriter) WriteFull(buf []byte) bool {
	return !w.failFull
}

func (w *failingWriter) WriteModified(buf []byte) bool {
	return !w.failMod
}

// negativeSizeWriter violates the size contract.
type negativeSizeWriter struct{}

func (w *negativeSizeWriter) GetSize() int            { return -1 }
func (w *negativeSizeWriter) WriteFull(_ []byte) bool { return true }

// blockingWriter parks inside WriteFull until released.
type blockingWriter struct {
	size    int
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) GetSize() int { return w.size }

func (w *blockingWriter) WriteFull(buf []byte) bool {
	close(w.entered)
	<-w.release
	for i := range buf {
		buf[i] = 0x01
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testDelivery(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}

	sub, err := tr.CreateSubscription("t", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("t", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send([]byte("hello"), common.TimestampAt(42)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	col.waitFor(t, 1, 2*time.Second)

	d := col.get(0)
	if !bytes.Equal(d.Payload, []byte("hello")) {
		t.Errorf("payload mismatch: got %q", d.Payload)
	}
	if d.TopicName != "t" {
		t.Errorf("expected topic 't', got %q", d.TopicName)
	}
	if d.Timestamp != 42 {
		t.Errorf("expected pinned timestamp 42, got %d", d.Timestamp)
	}
	if d.Clock != 1 {
		t.Errorf("expected clock 1 on first send, got %d", d.Clock)
	}

	// second send with automatic timestamp
	before := time.Now().UnixMicro()
	if err := pub.Send([]byte("again"), common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	col.waitFor(t, 2, 2*time.Second)

	d = col.get(1)
	if d.Clock != 2 {
		t.Errorf("expected clock 2 on second send, got %d", d.Clock)
	}
	if d.Timestamp < before {
		t.Errorf("auto timestamp %d predates the send", d.Timestamp)
	}
}

func testFanOut(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	collectors := make([]*collector, 3)
	for i := range collectors {
		collectors[i] = &collector{}
		sub, err := tr.CreateSubscription("fan", testType, collectors[i].entry)
		if err != nil {
			t.Fatalf("CreateSubscription failed: %v", err)
		}
		defer sub.Close()
	}

	pub, err := tr.CreatePublication("fan", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send([]byte("broadcast"), common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for i, col := range collectors {
		col.waitFor(t, 1, 2*time.Second)
		if got := col.get(0).Payload; !bytes.Equal(got, []byte("broadcast")) {
			t.Errorf("subscriber %d: payload mismatch: got %q", i, got)
		}
	}
}

func testOrdering(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	const n = 50

	col := &collector{}
	sub, err := tr.CreateSubscription("ord", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("ord", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	for i := 0; i < n; i++ {
		if err := pub.Send([]byte{byte(i)}, common.TimestampAuto()); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	col.waitFor(t, n, 5*time.Second)

	for i := 0; i < n; i++ {
		d := col.get(i)
		if d.Clock != int64(i+1) {
			t.Fatalf("delivery %d: expected clock %d, got %d", i, i+1, d.Clock)
		}
		if d.Payload[0] != byte(i) {
			t.Fatalf("delivery %d: expected payload %d, got %d", i, i, d.Payload[0])
		}
	}
}

func testMetadataPropagation(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	dt := common.DataTypeInfo{
		Encoding:   "proto",
		TypeName:   "test.Message",
		Descriptor: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	col := &collector{}
	sub, err := tr.CreateSubscription("meta", dt, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("meta", dt)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	// endpoint queries report the declared type
	if got, ok := pub.DataType(); !ok || !got.Equal(dt) {
		t.Errorf("publication DataType = (%v, %v), want (%v, true)", got, ok, dt)
	}
	if got, ok := sub.DataType(); !ok || !got.Equal(dt) {
		t.Errorf("subscription DataType = (%v, %v), want (%v, true)", got, ok, dt)
	}

	if err := pub.Send([]byte("x"), common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	col.waitFor(t, 1, 2*time.Second)

	// the descriptor must round-trip unchanged through the transport
	if got := col.get(0).DataType; !got.Equal(dt) {
		t.Errorf("delivered DataType = %v, want %v", got, dt)
	}
}

func testCounts(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	pub, err := tr.CreatePublication("cnt", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	// a transport may report counts as unavailable, but if it claims to
	// know, the value must be right
	if n, ok := pub.SubscriberCount(); ok && n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}

	col := &collector{}
	sub, err := tr.CreateSubscription("cnt", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	if id, ok := sub.TopicID(); ok && id.EntityID == "" {
		t.Error("subscription TopicID has empty EntityID")
	}
	if id, ok := pub.TopicID(); ok && id.EntityID == "" {
		t.Error("publication TopicID has empty EntityID")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n, ok := pub.SubscriberCount(); ok && n != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", n)
	}
}

func testEmptyPayload(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("empty", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("empty", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send(nil, common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	col.waitFor(t, 1, 2*time.Second)

	if got := col.get(0).Payload; len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}

func testWriterFull(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("zc", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("zc", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	w := &fillWriter{size: 1024, fill: 0x2A}
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("SendWriter failed: %v", err)
	}

	if w.fullCalls != 1 {
		t.Errorf("expected 1 WriteFull call, got %d", w.fullCalls)
	}
	for _, size := range w.sizes {
		if size != 1024 {
			t.Errorf("WriteFull received a %d byte buffer, declared 1024", size)
		}
	}

	col.waitFor(t, 1, 2*time.Second)

	got := col.get(0).Payload
	if len(got) != 1024 {
		t.Fatalf("expected 1024 byte payload, got %d", len(got))
	}
	for i, b := range got {
		if b != 0x2A {
			t.Fatalf("byte %d: expected 0x2A, got 0x%02X", i, b)
		}
	}
}

func testWriterModified(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("zcm", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("zcm", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	w := &seqWriter{size: 64}

	w.seq = 1
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("first SendWriter failed: %v", err)
	}

	w.seq = 2
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("second SendWriter failed: %v", err)
	}

	if w.fullCalls != 1 {
		t.Errorf("expected 1 WriteFull call, got %d", w.fullCalls)
	}
	if w.modCalls != 1 {
		t.Errorf("expected 1 WriteModified call, got %d", w.modCalls)
	}

	col.waitFor(t, 2, 2*time.Second)

	first, second := col.get(0).Payload, col.get(1).Payload
	if first[0] != 1 || second[0] != 2 {
		t.Errorf("sequence bytes: got %d and %d, want 1 and 2", first[0], second[0])
	}
	for i := 1; i < 64; i++ {
		if second[i] != 0x2A {
			t.Fatalf("byte %d: modified send lost the previous contents", i)
		}
	}
}

func testWriterFailure(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("zcf", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("zcf", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	err = pub.SendWriter(&failingWriter{size: 16, failFull: true}, common.TimestampAuto())
	if !errors.Is(err, transport.ErrWriterFailed) {
		t.Errorf("expected ErrWriterFailed, got %v", err)
	}

	err = pub.SendWriter(&negativeSizeWriter{}, common.TimestampAuto())
	if !errors.Is(err, transport.ErrWriterSize) {
		t.Errorf("expected ErrWriterSize, got %v", err)
	}

	settle()
	if n := col.count(); n != 0 {
		t.Errorf("failed sends must not deliver, got %d deliveries", n)
	}
}

func testWriterSlotCleared(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("slot", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("slot", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	// a failing writer must not leave state behind that affects the next,
	// unrelated send on the same publication
	err = pub.SendWriter(&failingWriter{size: 128, failFull: true}, common.TimestampAuto())
	if !errors.Is(err, transport.ErrWriterFailed) {
		t.Fatalf("expected ErrWriterFailed, got %v", err)
	}

	w := &fillWriter{size: 32, fill: 0x7F}
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("send after failed writer: %v", err)
	}
	if w.fullCalls != 1 {
		t.Errorf("second writer: expected 1 WriteFull call, got %d", w.fullCalls)
	}

	col.waitFor(t, 1, 2*time.Second)

	got := col.get(0).Payload
	if len(got) != 32 {
		t.Fatalf("expected 32 byte payload, got %d", len(got))
	}
	for i, b := range got {
		if b != 0x7F {
			t.Fatalf("byte %d: expected 0x7F, got 0x%02X", i, b)
		}
	}
}

func testWriterBusy(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	pub, err := tr.CreatePublication("busy", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	w := &blockingWriter{
		size:    8,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- pub.SendWriter(w, common.TimestampAuto())
	}()

	<-w.entered

	// the first zero-copy send still occupies the slot
	err = pub.SendWriter(&fillWriter{size: 8, fill: 0x01}, common.TimestampAuto())
	if !errors.Is(err, transport.ErrWriterBusy) {
		t.Errorf("expected ErrWriterBusy, got %v", err)
	}

	close(w.release)
	if err := <-firstDone; err != nil {
		t.Errorf("blocked send failed: %v", err)
	}

	// with the slot released, sends work again
	if err := pub.SendWriter(&fillWriter{size: 8, fill: 0x02}, common.TimestampAuto()); err != nil {
		t.Errorf("send after release failed: %v", err)
	}
}

func testCloseStopsDeliveries(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	col := &collector{}
	sub, err := tr.CreateSubscription("stop", testType, col.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	pub, err := tr.CreatePublication("stop", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send([]byte("before"), common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	col.waitFor(t, 1, 2*time.Second)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := pub.Send([]byte("after"), common.TimestampAuto()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	settle()
	if n := col.count(); n != 1 {
		t.Errorf("expected no deliveries after close, got %d extra", n-1)
	}
}

func testDoubleClose(t *testing.T, tr transport.ITransport) {
	pub, err := tr.CreatePublication("dc", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}

	sub, err := tr.CreateSubscription("dc", testType, func(transport.Delivery) {})
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := pub.Close(); err != nil {
			t.Errorf("publication Close #%d: %v", i+1, err)
		}
		if err := sub.Close(); err != nil {
			t.Errorf("subscription Close #%d: %v", i+1, err)
		}
	}

	if err := tr.Close(); err != nil {
		t.Errorf("transport Close #1: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("transport Close #2: %v", err)
	}
}

func testSendAfterClose(t *testing.T, tr transport.ITransport) {
	defer tr.Close()

	pub, err := tr.CreatePublication("sac", testType)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := pub.Send([]byte("x"), common.TimestampAuto()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after close: expected ErrClosed, got %v", err)
	}
	if err := pub.SendWriter(&fillWriter{size: 1}, common.TimestampAuto()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("SendWriter after close: expected ErrClosed, got %v", err)
	}

	// creation on a closed transport must fail the same way
	if err := tr.Close(); err != nil {
		t.Fatalf("transport Close failed: %v", err)
	}
	if _, err := tr.CreatePublication("sac", testType); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("CreatePublication after close: expected ErrClosed, got %v", err)
	}
	if _, err := tr.CreateSubscription("sac", testType, func(transport.Delivery) {}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("CreateSubscription after close: expected ErrClosed, got %v", err)
	}
}
