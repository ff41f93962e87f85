package serializer

import (
	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewBytesSerializer creates a pass-through serializer for raw binary
// payloads. Deserialize returns the wire buffer itself without copying, so
// the result is only valid for the duration of the receive callback.
func NewBytesSerializer() IMessageSerializer[[]byte] {
	return &bytesSerializerImpl{}
}

// NewOwnedBytesSerializer creates a serializer for raw binary payloads that
// copies on receive. The result stays valid after the receive callback
// returns, at the cost of one allocation per message.
func NewOwnedBytesSerializer() IMessageSerializer[[]byte] {
	return &ownedBytesSerializerImpl{}
}

// bytesSerializerImpl implements the IMessageSerializer interface as a
// zero-copy pass-through
type bytesSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s bytesSerializerImpl) DataType() common.DataTypeInfo {
	return common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
}

func (s bytesSerializerImpl) Serialize(msg []byte) ([]byte, error) {
	return msg, nil
}

func (s bytesSerializerImpl) Deserialize(b []byte) ([]byte, error) {
	return b, nil
}

// ownedBytesSerializerImpl implements the IMessageSerializer interface for
// raw payloads, copying on receive
type ownedBytesSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s ownedBytesSerializerImpl) DataType() common.DataTypeInfo {
	return common.DataTypeInfo{Encoding: "raw", TypeName: "bytes"}
}

func (s ownedBytesSerializerImpl) Serialize(msg []byte) ([]byte, error) {
	return msg, nil
}

func (s ownedBytesSerializerImpl) Deserialize(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
