package p2p

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

// newTestTransport creates a transport bound to the loopback interface and
// tears it down with the test.
func newTestTransport(t *testing.T) *Transport {
	t.Helper()

	tr, err := New(Options{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// deliveries collects callback invocations across goroutines.
type deliveries struct {
	mu    sync.Mutex
	items []transport.Delivery
}

func (c *deliveries) entry(d transport.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.Payload = append([]byte(nil), d.Payload...)
	c.items = append(c.items, d)
}

func (c *deliveries) waitFor(t *testing.T, n int, timeout time.Duration) []transport.Delivery {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.items) >= n {
			out := append([]transport.Delivery(nil), c.items...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries", n)
	return nil
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.withDefaults()

	if len(o.ListenAddrs) == 0 {
		t.Error("no default listen address")
	}
	if o.Rendezvous != DefaultRendezvous {
		t.Errorf("rendezvous: got %q, want %q", o.Rendezvous, DefaultRendezvous)
	}
	if o.QueueSize != DefaultQueueSize {
		t.Errorf("queue size: got %d, want %d", o.QueueSize, DefaultQueueSize)
	}
}

func TestOptionsString(t *testing.T) {
	o := Options{
		ListenAddrs:    []string{"/ip4/127.0.0.1/tcp/4001"},
		BootstrapPeers: []string{"/ip4/10.0.0.1/tcp/4001/p2p/QmPeer"},
		Rendezvous:     "sensors",
		QueueSize:      16,
	}

	s := o.String()
	for _, want := range []string{"Rendezvous", "sensors", "/ip4/127.0.0.1/tcp/4001", "Bootstrap"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestNewRejectsBadListenAddr(t *testing.T) {
	if _, err := New(Options{ListenAddrs: []string{"not-a-multiaddr"}}); err == nil {
		t.Fatal("New accepted an invalid listen address")
	}
}

func TestLoopbackDelivery(t *testing.T) {
	tr := newTestTransport(t)

	dt := common.DataTypeInfo{Encoding: "utf-8", TypeName: "string"}
	var got deliveries

	sub, err := tr.CreateSubscription("greetings", dt, got.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("greetings", dt)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Send([]byte("ping"), common.TimestampAt(5)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	items := got.waitFor(t, 1, 5*time.Second)
	d := items[0]

	if string(d.Payload) != "ping" {
		t.Errorf("payload: got %q, want %q", d.Payload, "ping")
	}
	if d.TopicName != "greetings" {
		t.Errorf("topic: got %q, want %q", d.TopicName, "greetings")
	}
	if !d.DataType.Equal(dt) {
		t.Errorf("data type: got %+v, want %+v", d.DataType, dt)
	}
	if d.Timestamp != 5 {
		t.Errorf("timestamp: got %d, want 5", d.Timestamp)
	}
	if d.Clock != 1 {
		t.Errorf("clock: got %d, want 1", d.Clock)
	}
}

// seqWriter writes a full buffer once, then stamps its first byte on the
// modified path.
type seqWriter struct {
	size int
	seq  byte
	full int
	mod  int
}

func (w *seqWriter) GetSize() int { return w.size }

func (w *seqWriter) WriteFull(buf []byte) bool {
	w.full++
	for i := range buf {
		buf[i] = 0x2a
	}
	buf[0] = w.seq
	return true
}

func (w *seqWriter) WriteModified(buf []byte) bool {
	w.mod++
	buf[0] = w.seq
	return true
}

func TestWriterLoopback(t *testing.T) {
	tr := newTestTransport(t)

	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
	var got deliveries

	sub, err := tr.CreateSubscription("frames", dt, got.entry)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	defer sub.Close()

	pub, err := tr.CreatePublication("frames", dt)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	defer pub.Close()

	w := &seqWriter{size: 32, seq: 1}
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("first SendWriter failed: %v", err)
	}
	got.waitFor(t, 1, 5*time.Second)

	w.seq = 2
	if err := pub.SendWriter(w, common.TimestampAuto()); err != nil {
		t.Fatalf("second SendWriter failed: %v", err)
	}
	items := got.waitFor(t, 2, 5*time.Second)

	if w.full != 1 || w.mod != 1 {
		t.Fatalf("writer calls: got full=%d mod=%d, want full=1 mod=1", w.full, w.mod)
	}

	want := bytes.Repeat([]byte{0x2a}, 32)
	want[0] = 1
	if !bytes.Equal(items[0].Payload, want) {
		t.Errorf("first payload mismatch: got %v", items[0].Payload)
	}
	want[0] = 2
	if !bytes.Equal(items[1].Payload, want) {
		t.Errorf("second payload mismatch: got %v", items[1].Payload)
	}
}

func TestEndpointMetadata(t *testing.T) {
	tr := newTestTransport(t)

	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
	pub, err := tr.CreatePublication("meta", dt)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}
	sub, err := tr.CreateSubscription("meta", dt, func(transport.Delivery) {})
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	if id, ok := pub.TopicID(); !ok || id.EntityID == "" || id.HostName == "" {
		t.Errorf("publication TopicID: got %+v, ok=%t", id, ok)
	}
	if got, ok := pub.DataType(); !ok || !got.Equal(dt) {
		t.Errorf("publication DataType: got %+v, ok=%t", got, ok)
	}
	if _, ok := sub.PublisherCount(); ok {
		t.Error("PublisherCount claims to be known in a gossip mesh")
	}
	if n, ok := pub.SubscriberCount(); !ok || n != 0 {
		t.Errorf("SubscriberCount: got %d, ok=%t, want 0 remote peers", n, ok)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("sub.Close failed: %v", err)
	}
	if _, ok := sub.TopicID(); ok {
		t.Error("TopicID still available after Close")
	}
}

func TestSendAfterTransportClose(t *testing.T) {
	tr, err := New(Options{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
	pub, err := tr.CreatePublication("closing", dt)
	if err != nil {
		t.Fatalf("CreatePublication failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := pub.Send([]byte("x"), common.TimestampAuto()); err != transport.ErrClosed {
		t.Errorf("Send after close: got %v, want %v", err, transport.ErrClosed)
	}
	if _, err := tr.CreatePublication("closing", dt); err != transport.ErrClosed {
		t.Errorf("CreatePublication after close: got %v, want %v", err, transport.ErrClosed)
	}
	if _, err := tr.CreateSubscription("closing", dt, func(transport.Delivery) {}); err != transport.ErrClosed {
		t.Errorf("CreateSubscription after close: got %v, want %v", err, transport.ErrClosed)
	}
}

func TestInvalidArguments(t *testing.T) {
	tr := newTestTransport(t)
	dt := common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}

	if _, err := tr.CreatePublication("", dt); err != transport.ErrInvalidTopic {
		t.Errorf("empty topic publication: got %v, want %v", err, transport.ErrInvalidTopic)
	}
	if _, err := tr.CreateSubscription("", dt, func(transport.Delivery) {}); err != transport.ErrInvalidTopic {
		t.Errorf("empty topic subscription: got %v, want %v", err, transport.ErrInvalidTopic)
	}
	if _, err := tr.CreateSubscription("t", dt, nil); err == nil {
		t.Error("nil entry callback accepted")
	}
}

func TestIdentityFilePersistence(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "keys", "identity")

	first, err := New(Options{
		ListenAddrs:  []string{"/ip4/127.0.0.1/tcp/0"},
		IdentityFile: keyFile,
	})
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	id := first.PeerID()
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := New(Options{
		ListenAddrs:  []string{"/ip4/127.0.0.1/tcp/0"},
		IdentityFile: keyFile,
	})
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	defer second.Close()

	if second.PeerID() != id {
		t.Errorf("peer identity not persistent: %s then %s", id, second.PeerID())
	}
	for _, addr := range second.ListenAddrs() {
		if !strings.Contains(addr, "/p2p/") {
			t.Errorf("listen addr %q missing peer component", addr)
		}
	}
}
