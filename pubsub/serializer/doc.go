// Package serializer provides typed message serialization for the publish
// subscribe system. It defines a common generic interface and multiple
// implementations for converting Go values to wire payloads and back, each
// announcing the type metadata that travels with every message.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Deriving the announced type metadata from the Go type itself
//   - Letting publishers and subscribers agree on a format by construction,
//     since both sides share the same serializer type
//
// Key Components:
//
//   - IMessageSerializer[T]: Core generic interface that all serializer
//     implementations must satisfy. DataType() announces the encoding, type
//     name and optional descriptor for T.
//
//   - bytesSerializerImpl / ownedBytesSerializerImpl: Raw pass-through for
//     []byte payloads. The plain variant borrows the wire buffer on receive
//     and is only valid inside the receive callback; the owned variant
//     copies.
//
//   - stringSerializerImpl: Plain text with UTF-8 validation on receive.
//
//   - jsonSerializerImpl: JSON encoding, human readable and interoperable
//     with peers in any language.
//
//   - gobSerializerImpl: Go's gob encoding. Compact for Go-to-Go traffic
//     but unreadable for non-Go peers.
//
//   - cborSerializerImpl: CBOR (RFC 8949) via fxamacker/cbor, a compact
//     binary encoding with the JSON data model.
//
//   - msgpackSerializerImpl: MessagePack via vmihailenco/msgpack, another
//     compact binary encoding with wide cross-language support.
//
//   - protoSerializerImpl: Protocol Buffers. Announces the message's full
//     protobuf name and a serialized FileDescriptorSet so peers can decode
//     the type dynamically.
//
// Thread Safety:
//
//	All serializer implementations are stateless after construction and safe
//	for concurrent use across multiple goroutines without additional
//	synchronization.
//
// Usage:
//
//	Serializers are typically created once and handed to the typed endpoint
//	that uses them:
//
//	  ser := serializer.NewJSONSerializer[SensorReading]()
//	  data, err := ser.Serialize(reading)
//	  // ... send data ...
//	  received, err := ser.Deserialize(data)
package serializer
