package serializer

import (
	"encoding/json"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer[T any]() IMessageSerializer[T] {
	return &jsonSerializerImpl[T]{
		dt: common.DataTypeInfo{Encoding: "json", TypeName: goTypeName[T]()},
	}
}

// jsonSerializerImpl implements the IMessageSerializer interface using json
// encoding
type jsonSerializerImpl[T any] struct {
	dt common.DataTypeInfo
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl[T]) DataType() common.DataTypeInfo {
	return j.dt
}

func (j jsonSerializerImpl[T]) Serialize(msg T) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl[T]) Deserialize(b []byte) (T, error) {
	var msg T
	err := json.Unmarshal(b, &msg)
	return msg, err
}
