// Package common provides the value types and utilities shared across the
// bus: message type metadata, send timestamps, endpoint identity and the
// logging facade used by every other package.
//
// Key Components:
//
//   - DataTypeInfo: Describes the wire format of a topic's messages
//     (encoding tag, type name, optional schema descriptor). Created once
//     per message type by a serializer and propagated unchanged through
//     the transport to the receive side.
//
//   - Timestamp: Send-time selector. The zero value assigns the current
//     time at send; TimestampAt pins an explicit microsecond value.
//
//   - TopicID: Identity of a single endpoint instance on a topic.
//
//   - Logger: Custom logging implementation that integrates with
//     Dragonboat's logging system while providing consistent formatting
//     across the application. InitLoggers installs the factory and sets
//     all component levels.
package common
