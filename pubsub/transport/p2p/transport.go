package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/multiformats/go-multiaddr"

	"github.com/genevanmeter/tbus/pubsub/common"
	"github.com/genevanmeter/tbus/pubsub/transport"
)

var Logger = logger.GetLogger("transport/p2p")

const (
	// DefaultQueueSize is the per-subscription delivery buffer used when
	// Options.QueueSize is zero.
	DefaultQueueSize = 64

	// DefaultRendezvous is the mDNS service name used when
	// Options.Rendezvous is empty.
	DefaultRendezvous = "tbus"
)

// Options configures the gossip transport.
type Options struct {
	// ListenAddrs are the multiaddrs to listen on. Defaults to an OS
	// assigned TCP port on all interfaces.
	ListenAddrs []string
	// BootstrapPeers are full peer multiaddrs dialed at startup.
	BootstrapPeers []string
	// Rendezvous is the service name announced via mDNS discovery.
	Rendezvous string
	// EnableMDNS turns on peer discovery on the local network.
	EnableMDNS bool
	// IdentityFile is the path of the persistent identity key. The key is
	// created on first use. Empty means a fresh identity per run.
	IdentityFile string
	// QueueSize bounds the per-subscription delivery buffer. Deliveries
	// drop for a subscription whose buffer is full.
	QueueSize int
}

// String returns a formatted string representation of the configuration
func (o Options) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("P2P Transport")
	addField("Rendezvous", o.Rendezvous)
	addField("mDNS", fmt.Sprintf("%t", o.EnableMDNS))
	addField("Identity File", o.IdentityFile)
	addField("Queue Size", strconv.Itoa(o.QueueSize))

	addSection("Listen Addresses")
	for i, addr := range o.ListenAddrs {
		addField(strconv.Itoa(i), addr)
	}

	if len(o.BootstrapPeers) > 0 {
		addSection("Bootstrap Peers")
		for i, addr := range o.BootstrapPeers {
			addField(strconv.Itoa(i), addr)
		}
	}

	return sb.String()
}

// withDefaults fills in the zero values.
func (o *Options) withDefaults() {
	if len(o.ListenAddrs) == 0 {
		o.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if o.Rendezvous == "" {
		o.Rendezvous = DefaultRendezvous
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

// Transport moves messages between processes over libp2p gossipsub. Every
// topic maps to one gossipsub topic; frames carry the type metadata,
// timestamp and clock alongside the payload (see frame.go).
//
// A publication's messages loop back to subscriptions of the same topic on
// the same transport instance, matching the in-process transport.
type Transport struct {
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
	host     host.Host
	ps       *pubsub.PubSub
	hostname string

	// guards topics, subs and the closed check during endpoint creation
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[*subscription]struct{}

	closed atomic.Bool
}

// New creates a gossip transport and starts listening. The returned
// transport is ready for endpoint creation; peers appear as discovery and
// bootstrapping progress.
func New(opts Options) (*Transport, error) {
	opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("p2p: invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("p2p: load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	t := &Transport{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		host:     h,
		ps:       ps,
		hostname: hostname,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[*subscription]struct{}),
	}

	Logger.Infof("p2p transport up, peer %s", h.ID())
	for _, addr := range t.ListenAddrs() {
		Logger.Infof("listening on %s", addr)
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{ctx: ctx, host: h})
		if err := service.Start(); err != nil {
			Logger.Warningf("mdns start error: %v", err)
		}
	}

	for _, raw := range opts.BootstrapPeers {
		if raw == "" {
			continue
		}
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			Logger.Warningf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			Logger.Warningf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			Logger.Warningf("bootstrap connect failed %s: %v", info.ID, err)
		} else {
			Logger.Infof("connected bootstrap peer %s", info.ID)
		}
	}

	return t, nil
}

// PeerID returns the libp2p identity of this transport.
func (t *Transport) PeerID() string {
	return t.host.ID().String()
}

// ListenAddrs returns the full peer multiaddrs this transport listens on,
// suitable as bootstrap addresses for other processes.
func (t *Transport) ListenAddrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, addr := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), t.host.ID().String()))
	}
	return out
}

// endpointID mints the identity for a new endpoint.
func (t *Transport) endpointID() common.TopicID {
	return common.TopicID{
		EntityID:  uuid.NewString(),
		HostName:  t.hostname,
		ProcessID: os.Getpid(),
	}
}

// joinTopic returns the gossipsub topic handle, joining on first use.
// Callers must hold t.mu.
func (t *Transport) joinTopic(name string) (*pubsub.Topic, error) {
	if tp, ok := t.topics[name]; ok {
		return tp, nil
	}
	tp, err := t.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("p2p: join topic %q: %w", name, err)
	}
	t.topics[name] = tp
	return tp, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *Transport) CreatePublication(topic string, dt common.DataTypeInfo) (transport.IPublication, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}

	prefix, err := framePrefix(dt)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, transport.ErrClosed
	}

	tp, err := t.joinTopic(topic)
	if err != nil {
		return nil, err
	}

	p := &publication{
		t:      t,
		topic:  tp,
		name:   topic,
		id:     t.endpointID(),
		dt:     dt,
		prefix: prefix,
		sent:   metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_p2p_sent_total{topic=%q}`, topic)),
	}

	Logger.Debugf("publication %s on topic %q", p.id.EntityID, topic)
	return p, nil
}

func (t *Transport) CreateSubscription(topic string, dt common.DataTypeInfo, entry transport.ReceiveCallback) (transport.ISubscription, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}
	if entry == nil {
		return nil, fmt.Errorf("p2p: entry callback must not be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, transport.ErrClosed
	}

	tp, err := t.joinTopic(topic)
	if err != nil {
		return nil, err
	}

	sub, err := tp.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("p2p: subscribe to topic %q: %w", topic, err)
	}

	subCtx, subCancel := context.WithCancel(t.ctx)
	s := &subscription{
		name:      topic,
		id:        t.endpointID(),
		dt:        dt,
		entry:     entry,
		sub:       sub,
		cancel:    subCancel,
		queue:     make(chan transport.Delivery, t.opts.QueueSize),
		done:      make(chan struct{}),
		delivered: metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_p2p_delivered_total{topic=%q}`, topic)),
		dropped:   metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_p2p_dropped_total{topic=%q}`, topic)),
		badFrames: metrics.GetOrCreateCounter(fmt.Sprintf(`tbus_p2p_frame_errors_total{topic=%q}`, topic)),
	}
	s.unregister = func() {
		t.mu.Lock()
		delete(t.subs, s)
		t.mu.Unlock()
	}
	t.subs[s] = struct{}{}

	go s.read(subCtx)
	go s.run()

	Logger.Debugf("subscription %s on topic %q", s.id.EntityID, topic)
	return s, nil
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	Logger.Infof("closing p2p transport, peer %s", t.host.ID())

	// collect under the lock, close outside it: subscription Close waits
	// for the consumer goroutine, which may be inside a user callback
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}

	t.cancel()

	t.mu.Lock()
	for name, tp := range t.topics {
		// fails for topics that still have other local references, which
		// is fine at teardown
		_ = tp.Close()
		delete(t.topics, name)
	}
	t.mu.Unlock()

	return t.host.Close()
}

// --------------------------------------------------------------------------
// Publication
// --------------------------------------------------------------------------

// publication is the sending endpoint for one topic. The frame prefix is
// rendered once at creation; the scratch buffer backs the zero-copy writer
// path across sends.
type publication struct {
	t      *Transport
	topic  *pubsub.Topic
	name   string
	id     common.TopicID
	dt     common.DataTypeInfo
	prefix []byte

	clock      atomic.Int64
	writerBusy atomic.Bool
	scratch    []byte

	closed atomic.Bool
	sent   *metrics.Counter
}

// Interface Methods (docu see transport.IPublication)

func (p *publication) Send(payload []byte, ts common.Timestamp) error {
	if p.closed.Load() || p.t.closed.Load() {
		return transport.ErrClosed
	}
	return p.publish(payload, ts.Resolve(), p.clock.Add(1))
}

func (p *publication) SendWriter(w transport.PayloadWriter, ts common.Timestamp) error {
	if p.closed.Load() || p.t.closed.Load() {
		return transport.ErrClosed
	}
	if w == nil {
		return transport.ErrWriterFailed
	}

	// one writer at a time per publication; the slot is always released,
	// whatever the outcome
	if !p.writerBusy.CompareAndSwap(false, true) {
		return transport.ErrWriterBusy
	}
	defer p.writerBusy.Store(false)

	size := w.GetSize()
	if size < 0 {
		return transport.ErrWriterSize
	}

	// the scratch buffer persists across sends so WriteModified sees its
	// previous contents; the published frame is still rendered fresh per
	// send because the router may hold on to published buffers
	reuse := p.scratch != nil && len(p.scratch) == size
	if !reuse {
		p.scratch = make([]byte, size)
	}
	if !transport.FillBuffer(w, p.scratch, reuse) {
		return transport.ErrWriterFailed
	}

	return p.publish(p.scratch, ts.Resolve(), p.clock.Add(1))
}

func (p *publication) publish(payload []byte, micros, clock int64) error {
	buf, err := encodeFrame(p.prefix, micros, clock, payload)
	if err != nil {
		return err
	}
	if err := p.topic.Publish(p.t.ctx, buf); err != nil {
		return fmt.Errorf("p2p: publish on topic %q: %w", p.name, err)
	}
	p.sent.Inc()
	return nil
}

// SubscriberCount reports the remote peers currently subscribed to the
// topic. Subscriptions on this transport instance are not included.
func (p *publication) SubscriberCount() (int, bool) {
	if p.closed.Load() || p.t.closed.Load() {
		return 0, false
	}
	return len(p.topic.ListPeers()), true
}

func (p *publication) TopicID() (common.TopicID, bool) {
	if p.closed.Load() || p.t.closed.Load() {
		return common.TopicID{}, false
	}
	return p.id, true
}

func (p *publication) DataType() (common.DataTypeInfo, bool) {
	if p.closed.Load() || p.t.closed.Load() {
		return common.DataTypeInfo{}, false
	}
	return p.dt, true
}

func (p *publication) Close() error {
	// the topic handle stays joined, other endpoints may share it
	p.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// subscription is the receiving endpoint for one topic. A reader goroutine
// drains gossipsub and decodes frames into a bounded buffer; a consumer
// goroutine invokes the entry callback serially. A full buffer drops
// deliveries for this subscription instead of backpressuring the mesh.
type subscription struct {
	name       string
	id         common.TopicID
	dt         common.DataTypeInfo
	entry      transport.ReceiveCallback
	sub        *pubsub.Subscription
	cancel     context.CancelFunc
	unregister func()

	queue chan transport.Delivery
	done  chan struct{}

	closed    atomic.Bool
	delivered *metrics.Counter
	dropped   *metrics.Counter
	badFrames *metrics.Counter
}

// read drains the gossipsub subscription until the context is canceled.
// It is the only sender on s.queue and closes it on exit.
func (s *subscription) read(ctx context.Context) {
	defer close(s.queue)

	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			// context canceled or subscription canceled
			return
		}

		f, err := decodeFrame(msg.Data)
		if err != nil {
			s.badFrames.Inc()
			Logger.Debugf("topic %q: dropping message from %s: %v", s.name, msg.ReceivedFrom, err)
			continue
		}

		d := transport.Delivery{
			TopicName: s.name,
			Payload:   f.payload,
			DataType:  f.dt,
			Timestamp: f.timestamp,
			Clock:     f.clock,
		}

		select {
		case s.queue <- d:
		default:
			s.dropped.Inc()
		}
	}
}

// run invokes the entry callback for queued deliveries, one at a time.
func (s *subscription) run() {
	defer close(s.done)

	for d := range s.queue {
		s.entry(d)
		s.delivered.Inc()
	}
}

// Interface Methods (docu see transport.ISubscription)

// PublisherCount is not observable in a gossip mesh; peers announce
// subscriptions, not publications.
func (s *subscription) PublisherCount() (int, bool) {
	return 0, false
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

	s.unregister()
	s.cancel()
	s.sub.Cancel()

	// the reader has closed the queue by now or will shortly; wait for the
	// consumer so no callback runs after Close returns
	<-s.done
	return nil
}

// --------------------------------------------------------------------------
// Discovery helpers
// --------------------------------------------------------------------------

// mdnsNotifee dials every peer mDNS finds on the local network.
type mdnsNotifee struct {
	ctx  context.Context
	host host.Host
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if err := n.host.Connect(n.ctx, info); err != nil {
		Logger.Debugf("mdns connect failed %s: %v", info.ID, err)
		return
	}
	Logger.Debugf("mdns connected peer %s", info.ID)
}

// loadOrCreateIdentityKey reads the persistent libp2p identity, creating a
// fresh ed25519 key on first use.
func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}

	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
