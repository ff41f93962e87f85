// Package p2p provides a transport that carries topics between processes
// over a libp2p gossipsub mesh. Processes find each other through mDNS on
// the local network, through explicit bootstrap peers, or both; no central
// broker is involved.
//
// Key Components:
//
//   - Transport: one libp2p host plus one gossipsub router. Topics are
//     joined lazily and shared by all endpoints of the transport.
//   - publication: renders payloads into wire frames (frame.go) and hands
//     them to the router. Supports the zero-copy writer path with a
//     persistent scratch buffer.
//   - subscription: drains the mesh on a reader goroutine and runs the
//     entry callback serially on a consumer goroutine, decoupled by a
//     bounded buffer.
//
// Delivery Semantics:
//
// Published messages reach remote subscribers and loop back to
// subscriptions on the same transport instance, so topology is transparent
// to callers. Delivery is best effort. A subscription whose buffer is full
// drops messages (counted in tbus_p2p_dropped_total), and frames that fail
// to decode are dropped as well (tbus_p2p_frame_errors_total). Payload
// slices passed to the entry callback are owned by the callee and remain
// valid after the callback returns.
//
// Peer counts are what the mesh can see: SubscriberCount reports remote
// subscribed peers only, and PublisherCount always reports not known.
//
// Thread Safety:
//
// The transport and all endpoints are safe for concurrent use. Close on a
// subscription waits for an in-flight callback to return and therefore must
// not be called from inside that callback.
//
// Usage:
//
//	tr, err := p2p.New(p2p.Options{
//		EnableMDNS: true,
//		Rendezvous: "sensors",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tr.Close()
//
//	pub, err := tr.CreatePublication("telemetry", dt)
package p2p
