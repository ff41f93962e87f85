package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Gob is Go-specific, so this serializer only interoperates with Go peers.
func NewGOBSerializer[T any]() IMessageSerializer[T] {
	return &gobSerializerImpl[T]{
		dt: common.DataTypeInfo{Encoding: "gob", TypeName: goTypeName[T]()},
	}
}

// gobSerializerImpl implements the IMessageSerializer interface using gob
// encoding
type gobSerializerImpl[T any] struct {
	dt common.DataTypeInfo
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl[T]) DataType() common.DataTypeInfo {
	return g.dt
}

func (g gobSerializerImpl[T]) Serialize(msg T) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl[T]) Deserialize(b []byte) (T, error) {
	var msg T
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	err := dec.Decode(&msg)
	return msg, err
}
