// Package local implements the in-process transport. Publications and
// subscriptions within the same transport instance are matched by exact
// topic name, and payloads never leave the process.
//
// Key Components:
//
//   - busTransport: topic registry shared by all endpoints of one instance.
//     Created via New(), endpoints via CreatePublication/CreateSubscription.
//   - publication: sending endpoint. Owns a per-publication send clock and
//     the reusable zero-copy write buffer.
//   - subscription: receiving endpoint. Owns a bounded delivery queue and a
//     single consumer goroutine that invokes the entry callback.
//   - mpscQueue: lock-free multi-producer single-consumer queue used as the
//     per-subscription delivery buffer.
//
// Delivery Semantics:
//
// Send copies the payload once per matching subscription into pooled
// buffers and enqueues them. Each subscription's consumer goroutine pops
// deliveries in order and invokes the entry callback serially, so callbacks
// for one subscription never run concurrently. The payload passed to the
// callback is recycled when the callback returns and must not be retained.
//
// When a subscription's queue is full the delivery is dropped for that
// subscription only; other subscriptions and the sender are unaffected. The
// drop is counted in the tbus_local_dropped_total metric.
//
// Thread Safety:
//
// All exported methods are safe for concurrent use. Close on any endpoint
// may be called from any goroutine except the subscription's own entry
// callback, since Close waits for the in-flight callback to return.
package local
