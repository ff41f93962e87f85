package local

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

var Logger = logger.GetLogger("transport/local")

// DefaultQueueSize bounds each subscription's delivery queue unless
// overridden in Options.
const DefaultQueueSize = 1024

// Options configures the in-process transport.
type Options struct {
	// QueueSize bounds each subscription's delivery queue. Deliveries
	// arriving while the queue is full are dropped and counted in the
	// tbus_local_dropped_total metric.
	QueueSize int
}

// New creates an in-process transport. Endpoints created from it exchange
// messages within the current process only.
func New(opts Options) transport.ITransport {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return &busTransport{
		opts:   opts,
		host:   host,
		topics: xsync.NewMapOf[string, *topicState](),
	}
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

type busTransport struct {
	opts Options
	host string

	// topic states are retained for the transport's lifetime once created;
	// the per-topic cost is two small maps, and keeping them avoids
	// create/remove races on busy topics
	topics *xsync.MapOf[string, *topicState]

	// lifecycle orders endpoint creation against Close
	lifecycle sync.RWMutex
	closed    atomic.Bool
}

// topicState tracks the endpoints attached to one topic name.
type topicState struct {
	mu   sync.RWMutex
	pubs map[*publication]struct{}
	subs map[*subscription]struct{}
}

func (t *busTransport) state(topic string) *topicState {
	state, _ := t.topics.LoadOrCompute(topic, func() *topicState {
		return &topicState{
			pubs: make(map[*publication]struct{}),
			subs: make(map[*subscription]struct{}),
		}
	})
	return state
}

func (t *busTransport) endpointID() common.TopicID {
	return common.TopicID{
		EntityID:  uuid.NewString(),
		HostName:  t.host,
		ProcessID: os.Getpid(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *busTransport) CreatePublication(topic string, dt common.DataTypeInfo) (transport.IPublication, error) {
	t.lifecycle.RLock()
	defer t.lifecycle.RUnlock()

	if t.closed.Load() {
		return nil, transport.ErrClosed
	}
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}

	state := t.state(topic)

	p := &publication{
		state: state,
		topic: topic,
		id:    t.endpointID(),
		dt:    dt,
		tc:    &t.closed,
		sent:  metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_local_sent_total{topic=%q}`, topic)),
	}

	state.mu.Lock()
	state.pubs[p] = struct{}{}
	state.mu.Unlock()

	Logger.Debugf("publication created (topic=%s, type=%s)", topic, dt.String())
	return p, nil
}

func (t *busTransport) CreateSubscription(topic string, dt common.DataTypeInfo, entry transport.ReceiveCallback) (transport.ISubscription, error) {
	t.lifecycle.RLock()
	defer t.lifecycle.RUnlock()

	if t.closed.Load() {
		return nil, transport.ErrClosed
	}
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}
	if entry == nil {
		return nil, fmt.Errorf("transport: nil entry callback for topic %q", topic)
	}

	state := t.state(topic)

	s := &subscription{
		state:     state,
		topic:     topic,
		id:        t.endpointID(),
		dt:        dt,
		entry:     entry,
		queue:     newMPSCQueue[delivery](t.opts.QueueSize),
		done:      make(chan struct{}),
		delivered: metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_local_delivered_total{topic=%q}`, topic)),
		dropped:   metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_local_dropped_total{topic=%q}`, topic)),
	}

	state.mu.Lock()
	state.subs[s] = struct{}{}
	state.mu.Unlock()

	go s.run()

	Logger.Debugf("subscription created (topic=%s, type=%s)", topic, dt.String())
	return s, nil
}

func (t *busTransport) Close() error {
	t.lifecycle.Lock()
	alreadyClosed := !t.closed.CompareAndSwap(false, true)
	t.lifecycle.Unlock()

	if alreadyClosed {
		return nil
	}

	// no new endpoints can be created now; release every existing one
	t.topics.Range(func(topic string, state *topicState) bool {
		state.mu.Lock()
		pubs := make([]*publication, 0, len(state.pubs))
		subs := make([]*subscription, 0, len(state.subs))
		for p := range state.pubs {
			pubs = append(pubs, p)
		}
		for s := range state.subs {
			subs = append(subs, s)
		}
		state.mu.Unlock()

		for _, p := range pubs {
			_ = p.Close()
		}
		for _, s := range subs {
			_ = s.Close()
		}
		return true
	})

	Logger.Debugf("transport closed")
	return nil
}

// --------------------------------------------------------------------------
// Payload buffers
// --------------------------------------------------------------------------

// Payload buffers are pooled and recycled right after each entry callback
// returns. This is what limits Delivery.Payload validity to the callback
// scope: a callback that keeps the slice will observe it being reused.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

func grabBuf(n int) []byte {
	bp := bufPool.Get().(*[]byte)
	if cap(*bp) < n {
		*bp = make([]byte, n)
	}
	return (*bp)[:n]
}

func releaseBuf(b []byte) {
	b = b[:0]
	bufPool.Put(&b)
}

// --------------------------------------------------------------------------
// Publication
// --------------------------------------------------------------------------

// delivery is one queued message on its way to a subscription.
type delivery struct {
	payload   []byte
	dt        common.DataTypeInfo
	timestamp int64
	clock     int64
}

type publication struct {
	state *topicState
	topic string
	id    common.TopicID
	dt    common.DataTypeInfo
	tc    *atomic.Bool // transport-level closed flag

	clock  atomic.Int64
	closed atomic.Bool

	// zero-copy state: writerBusy is the active-writer guard, writeBuf the
	// reusable buffer the writer fills in place. writerBusy doubles as the
	// mutex for writeBuf.
	writerBusy atomic.Bool
	writeBuf   []byte

	sent *metrics.Counter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IPublication)
// --------------------------------------------------------------------------

func (p *publication) Send(payload []byte, ts common.Timestamp) error {
	if p.closed.Load() || p.tc.Load() {
		return transport.ErrClosed
	}

	p.publish(payload, ts.Resolve(), p.clock.Add(1))
	return nil
}

func (p *publication) SendWriter(w transport.PayloadWriter, ts common.Timestamp) error {
	if p.closed.Load() || p.tc.Load() {
		return transport.ErrClosed
	}
	if w == nil {
		return transport.ErrWriterFailed
	}

	if !p.writerBusy.CompareAndSwap(false, true) {
		return transport.ErrWriterBusy
	}
	// the guard is released on every return path, a failed writer must not
	// leave the slot occupied for the next, unrelated send
	defer p.writerBusy.Store(false)

	size := w.GetSize()
	if size < 0 {
		return transport.ErrWriterSize
	}

	// reuse the previous buffer only when the size is unchanged, so the
	// writer never sees a buffer shorter (or longer) than it declared
	reuse := p.writeBuf != nil && len(p.writeBuf) == size
	if !reuse {
		p.writeBuf = make([]byte, size)
	}

	if !transport.FillBuffer(w, p.writeBuf, reuse) {
		return transport.ErrWriterFailed
	}

	p.publish(p.writeBuf, ts.Resolve(), p.clock.Add(1))
	return nil
}

// publish fans the payload out to every subscription on the topic. Each
// subscription gets its own pooled copy, so the caller's buffer (and the
// zero-copy write buffer in particular) is never shared with readers.
func (p *publication) publish(payload []byte, micros, clock int64) {
	p.sent.Inc()

	p.state.mu.RLock()
	defer p.state.mu.RUnlock()

	for s := range p.state.subs {
		buf := grabBuf(len(payload))
		copy(buf, payload)

		if !s.queue.Push(&delivery{payload: buf, dt: p.dt, timestamp: micros, clock: clock}) {
			releaseBuf(buf)
			s.dropped.Inc()
		}
	}
}

func (p *publication) SubscriberCount() (int, bool) {
	if p.closed.Load() {
		return 0, false
	}

	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	return len(p.state.subs), true
}

func (p *publication) TopicID() (common.TopicID, bool) {
	if p.closed.Load() {
		return common.TopicID{}, false
	}
	return p.id, true
}

func (p *publication) DataType() (common.DataTypeInfo, bool) {
	if p.closed.Load() {
		return common.DataTypeInfo{}, false
	}
	return p.dt, true
}

func (p *publication) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.state.mu.Lock()
	delete(p.state.pubs, p)
	p.state.mu.Unlock()

	Logger.Debugf("publication closed (topic=%s)", p.topic)
	return nil
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

type subscription struct {
	state *topicState
	topic string
	id    common.TopicID
	dt    common.DataTypeInfo

	entry transport.ReceiveCallback
	queue *mpscQueue[delivery]
	done  chan struct{}

	closed atomic.Bool

	delivered *metrics.Counter
	dropped   *metrics.Counter
}

// run is the subscription's delivery goroutine. It invokes the entry
// callback one delivery at a time and recycles the payload buffer as soon
// as the callback returns.
func (s *subscription) run() {
	defer close(s.done)

	for {
		d, ok := s.queue.Pop()
		if !ok {
			return
		}

		s.entry(transport.Delivery{
			TopicName: s.topic,
			Payload:   d.payload,
			DataType:  d.dt,
			Timestamp: d.timestamp,
			Clock:     d.clock,
		})

		s.delivered.Inc()
		releaseBuf(d.payload)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ISubscription)
// --------------------------------------------------------------------------

func (s *subscription) PublisherCount() (int, bool) {
	if s.closed.Load() {
		return 0, false
	}

	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return len(s.state.pubs), true
}

func (s *subscription) TopicID() (common.TopicID, bool) {
	if s.closed.Load() {
		return common.TopicID{}, false
	}
	return s.id, true
}

func (s *subscription) DataType() (common.DataTypeInfo, bool) {
	if s.closed.Load() {
		return common.DataTypeInfo{}, false
	}
	return s.dt, true
}

func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// unregister first so no new deliveries are queued, then wake the
	// consumer and wait for an in-flight callback to finish
	s.state.mu.Lock()
	delete(s.state.subs, s)
	s.state.mu.Unlock()

	s.queue.Close()
	<-s.done

	Logger.Debugf("subscription closed (topic=%s)", s.topic)
	return nil
}
