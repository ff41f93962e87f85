package serializer

import (
	"fmt"
	"unicode/utf8"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewStringSerializer creates a serializer for UTF-8 text messages
func NewStringSerializer() IMessageSerializer[string] {
	return &stringSerializerImpl{}
}

// stringSerializerImpl implements the IMessageSerializer interface for
// plain text payloads
type stringSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s stringSerializerImpl) DataType() common.DataTypeInfo {
	return common.DataTypeInfo{Encoding: "utf-8", TypeName: "string"}
}

func (s stringSerializerImpl) Serialize(msg string) ([]byte, error) {
	return []byte(msg), nil
}

func (s stringSerializerImpl) Deserialize(b []byte) (string, error) {
	// peers announce utf-8, so enforce it instead of passing garbage on
	if !utf8.Valid(b) {
		return "", fmt.Errorf("serializer: payload is not valid utf-8")
	}
	return string(b), nil
}
