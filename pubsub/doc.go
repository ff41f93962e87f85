// Package pubsub implements the typed publish subscribe layer on top of a
// pluggable transport. Applications exchange strongly typed messages over
// named topics; serialization, type metadata and delivery dispatch are
// handled here, while the byte movement itself is delegated to a transport
// implementation (see the transport subpackages).
//
// Key Components:
//
//   - Publisher / Subscriber: Untyped endpoints owning exactly one
//     transport handle each. They expose byte-oriented send, the zero-copy
//     writer path, metadata queries and the callback slot.
//
//   - TypedPublisher[T] / TypedSubscriber[T]: Generic wrappers binding a
//     message type T to a serializer. The publisher serializes on every
//     send, the subscriber decodes every delivery and invokes the user
//     callback with a Received[T] envelope.
//
//   - Received[T]: The decoded payload plus delivery metadata (topic name,
//     encoding, type name, send timestamp, send clock).
//
// Sending:
//
//	tr := local.New(local.Options{})
//	defer tr.Close()
//
//	pub, err := pubsub.NewTypedPublisher[SensorReading](tr, "readings",
//		serializer.NewJSONSerializer[SensorReading]())
//	if err != nil { ... }
//	defer pub.Close()
//
//	err = pub.Send(SensorReading{Celsius: 21.5}, common.TimestampAuto())
//
// Receiving:
//
//	sub, err := pubsub.NewTypedSubscriber[SensorReading](tr, "readings",
//		serializer.NewJSONSerializer[SensorReading]())
//	if err != nil { ... }
//	defer sub.Close()
//
//	sub.SetCallback(func(msg pubsub.Received[SensorReading]) {
//		fmt.Printf("%s: %.1f°C\n", msg.TopicName, msg.Payload.Celsius)
//	})
//
// Thread Safety:
//
// All endpoint methods are safe for concurrent use. User callbacks run
// serially per subscriber on the transport's delivery goroutine, never
// concurrently with themselves. Close must not be called from within the
// subscriber's own callback.
package pubsub
