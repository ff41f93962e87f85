package serializer

import (
	"reflect"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// IMessageSerializer is the interface for all typed message serializers.
// A serializer converts between the message type T and the wire payload and
// announces the type metadata that travels with every message.
type IMessageSerializer[T any] interface {
	// DataType returns the type metadata for T
	// The same metadata is announced by publishers and expected by subscribers
	DataType() common.DataTypeInfo
	// Serialize serializes a message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg T) ([]byte, error)
	// Deserialize deserializes a byte array into a message
	// It returns the decoded message and an error if any
	Deserialize(b []byte) (T, error)
}

// goTypeName returns the bare name of T without its package qualifier, so
// the announced type name matches what peers written in other languages
// announce for the same message.
func goTypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if name := t.Name(); name != "" {
		return name
	}
	// unnamed types (slices, maps, pointers) only have a structural name
	return t.String()
}
