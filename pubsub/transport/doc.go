// Package transport defines the interfaces and abstractions the typed bus
// builds on. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic messaging.
//
// The package focuses on:
//   - Defining clear interfaces for publishing and subscribing endpoints
//   - Specifying the zero-copy payload writer contract
//   - Enabling multiple transport implementations (in-process, libp2p)
//
// Key Components:
//
//   - ITransport: Factory for topic endpoints. Implementations own every
//     resource behind their endpoints and release them on Close.
//
//   - IPublication / ISubscription: Transport-level topic handles with
//     byte-oriented send and side-effect-free metadata queries. Queries
//     use comma-ok returns; a transport that cannot supply a value
//     reports ok=false instead of failing the endpoint.
//
//   - PayloadWriter / ModifyingWriter: The zero-copy write contract. The
//     transport allocates, the writer fills in place. FillBuffer
//     implements the rule that WriteModified falls back to WriteFull for
//     writers that do not support partial updates.
//
//   - Delivery / ReceiveCallback: The receive-side handoff. Payload bytes
//     are owned by the transport and are only valid during the callback
//     invocation.
//
// Delivery ordering: a transport serializes callback invocations per
// subscription. In-process delivery preserves the publish order of any
// single publication; meshed transports preserve it best effort, and the
// per-publication Clock exposes gaps and reordering to the receiver. No
// ordering holds across distinct subscriptions or publications.
package transport
