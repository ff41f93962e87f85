package serializer

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewMsgpackSerializer creates a new serializer using the MessagePack
// format
func NewMsgpackSerializer[T any]() IMessageSerializer[T] {
	return &msgpackSerializerImpl[T]{
		dt: common.DataTypeInfo{Encoding: "msgpack", TypeName: goTypeName[T]()},
	}
}

// msgpackSerializerImpl implements the IMessageSerializer interface using
// msgpack encoding
type msgpackSerializerImpl[T any] struct {
	dt common.DataTypeInfo
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl[T]) DataType() common.DataTypeInfo {
	return m.dt
}

func (m msgpackSerializerImpl[T]) Serialize(msg T) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (m msgpackSerializerImpl[T]) Deserialize(b []byte) (T, error) {
	var msg T
	err := msgpack.Unmarshal(b, &msg)
	return msg, err
}
