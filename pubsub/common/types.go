package common

import (
	"bytes"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Data type metadata
// --------------------------------------------------------------------------

// DataTypeInfo describes the wire format of the messages on a topic.
// Encoding is a short stable tag identifying the serializer (e.g. "raw",
// "json", "proto"), TypeName names the message type within that encoding
// and Descriptor carries an optional serializer-specific schema blob
// (empty for simple formats, a serialized schema for self-describing ones).
//
// A DataTypeInfo is produced once per message type and must not be mutated
// after an endpoint has been created with it. Transports propagate it
// unchanged to the receive side.
type DataTypeInfo struct {
	Encoding   string
	TypeName   string
	Descriptor []byte
}

// Equal reports whether two DataTypeInfo values describe the same format.
func (d DataTypeInfo) Equal(other DataTypeInfo) bool {
	return d.Encoding == other.Encoding &&
		d.TypeName == other.TypeName &&
		bytes.Equal(d.Descriptor, other.Descriptor)
}

// String returns a compact representation such as "json/Point" for logging.
func (d DataTypeInfo) String() string {
	if len(d.Descriptor) == 0 {
		return fmt.Sprintf("%s/%s", d.Encoding, d.TypeName)
	}
	return fmt.Sprintf("%s/%s (descriptor %d B)", d.Encoding, d.TypeName, len(d.Descriptor))
}

// --------------------------------------------------------------------------
// Send timestamps
// --------------------------------------------------------------------------

// Timestamp selects the send time stamped onto an outgoing message. The
// zero value lets the transport assign the current time at send; use
// TimestampAt to pin an explicit value.
type Timestamp struct {
	micros int64
	set    bool
}

// TimestampAuto returns a Timestamp that assigns the current time at send.
func TimestampAuto() Timestamp { return Timestamp{} }

// TimestampAt returns a Timestamp pinned to the given value in microseconds
// since the unix epoch.
func TimestampAt(micros int64) Timestamp { return Timestamp{micros: micros, set: true} }

// IsAuto reports whether the transport assigns the send time.
func (t Timestamp) IsAuto() bool { return !t.set }

// Resolve returns the effective send time in microseconds since the unix
// epoch. The decision is constant-time: either the pinned value or the
// current clock reading.
func (t Timestamp) Resolve() int64 {
	if t.set {
		return t.micros
	}
	return time.Now().UnixMicro()
}

// --------------------------------------------------------------------------
// Endpoint identity
// --------------------------------------------------------------------------

// TopicID identifies a single endpoint instance on a topic. EntityID is
// unique per endpoint, HostName and ProcessID locate the owning process
// (transports may repurpose HostName for their own node identity, e.g. a
// peer ID).
type TopicID struct {
	EntityID  string
	HostName  string
	ProcessID int
}

// String returns the canonical "entity@host/pid" form.
func (id TopicID) String() string {
	return fmt.Sprintf("%s@%s/%d", id.EntityID, id.HostName, id.ProcessID)
}
