package serializer

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewCBORSerializer creates a new serializer using CBOR (RFC 8949), a
// compact binary alternative to json with the same data model
func NewCBORSerializer[T any]() IMessageSerializer[T] {
	return &cborSerializerImpl[T]{
		dt: common.DataTypeInfo{Encoding: "cbor", TypeName: goTypeName[T]()},
	}
}

// cborSerializerImpl implements the IMessageSerializer interface using cbor
// encoding
type cborSerializerImpl[T any] struct {
	dt common.DataTypeInfo
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (c cborSerializerImpl[T]) DataType() common.DataTypeInfo {
	return c.dt
}

func (c cborSerializerImpl[T]) Serialize(msg T) ([]byte, error) {
	return cbor.Marshal(msg)
}

func (c cborSerializerImpl[T]) Deserialize(b []byte) (T, error) {
	var msg T
	err := cbor.Unmarshal(b, &msg)
	return msg, err
}
