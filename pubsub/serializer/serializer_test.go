package serializer

import (
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// testMessage is the struct used to exercise the structured serializers
type testMessage struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IMessageSerializer[testMessage]{
	"JSON":    NewJSONSerializer[testMessage],
	"GOB":     NewGOBSerializer[testMessage],
	"CBOR":    NewCBORSerializer[testMessage],
	"Msgpack": NewMsgpackSerializer[testMessage],
}

// expectedEncodings maps serializer name to the encoding it must announce
var expectedEncodings = map[string]string{
	"JSON":    "json",
	"GOB":     "gob",
	"CBOR":    "cbor",
	"Msgpack": "msgpack",
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []testMessage {
	return []testMessage{
		{},
		{Message: "hi", Count: 1},
		{Message: "only text"},
		{Count: -42},
		{Message: "large count", Count: 1 << 40},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and
// deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				result, err := serializer.Deserialize(data)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestSerializerDataType tests the announced type metadata of every
// serializer
func TestSerializerDataType(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			dt := factory().DataType()

			if dt.Encoding != expectedEncodings[name] {
				t.Errorf("Expected encoding %q, got %q", expectedEncodings[name], dt.Encoding)
			}
			if dt.TypeName != "testMessage" {
				t.Errorf("Expected type name 'testMessage', got %q", dt.TypeName)
			}
			if len(dt.Descriptor) != 0 {
				t.Errorf("Expected no descriptor, got %d bytes", len(dt.Descriptor))
			}
		})
	}
}

// TestInvalidData tests how the structured serializers handle corrupt or
// truncated data
func TestInvalidData(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// a valid message, cut off halfway
			valid, err := serializer.Serialize(testMessage{Message: "truncate me", Count: 7})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			testCases := []struct {
				name string
				data []byte
			}{
				{name: "Empty data", data: []byte{}},
				{name: "Plain text", data: []byte("abc")},
				{name: "Random bytes", data: []byte{0xFF, 0xFE, 0xFD}},
				{name: "Truncated message", data: valid[:len(valid)/2]},
			}

			for _, tc := range testCases {
				t.Run(tc.name, func(t *testing.T) {
					if _, err := serializer.Deserialize(tc.data); err == nil {
						t.Errorf("Expected error for %s but got none", tc.name)
					}
				})
			}
		})
	}
}

// TestBytesSerializers tests the raw pass-through and the owning variant
func TestBytesSerializers(t *testing.T) {
	payload := []byte{1, 2, 3, 4}

	t.Run("Borrowed", func(t *testing.T) {
		serializer := NewBytesSerializer()

		dt := serializer.DataType()
		if dt.Encoding != "raw" || dt.TypeName != "bytes" {
			t.Errorf("Unexpected metadata: %v", dt)
		}

		out, err := serializer.Deserialize(payload)
		if err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}

		// the borrowed variant aliases the wire buffer
		payload[0] = 99
		if out[0] != 99 {
			t.Error("Expected the result to alias the input buffer")
		}
		payload[0] = 1
	})

	t.Run("Owned", func(t *testing.T) {
		serializer := NewOwnedBytesSerializer()

		out, err := serializer.Deserialize(payload)
		if err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		if !reflect.DeepEqual(out, payload) {
			t.Errorf("Expected %v, got %v", payload, out)
		}

		// the owning variant is detached from the wire buffer
		payload[0] = 99
		if out[0] == 99 {
			t.Error("Expected the result to be a copy, not an alias")
		}
		payload[0] = 1
	})
}

// TestStringSerializer tests text round trips and UTF-8 enforcement
func TestStringSerializer(t *testing.T) {
	serializer := NewStringSerializer()

	dt := serializer.DataType()
	if dt.Encoding != "utf-8" || dt.TypeName != "string" {
		t.Errorf("Unexpected metadata: %v", dt)
	}

	for _, text := range []string{"", "hello", "grüße", "日本語"} {
		data, err := serializer.Serialize(text)
		if err != nil {
			t.Fatalf("Failed to serialize %q: %v", text, err)
		}

		result, err := serializer.Deserialize(data)
		if err != nil {
			t.Fatalf("Failed to deserialize %q: %v", text, err)
		}
		if result != text {
			t.Errorf("Expected %q, got %q", text, result)
		}
	}

	// invalid utf-8 must be rejected, not passed through
	if _, err := serializer.Deserialize([]byte{0xFF, 0xFE}); err == nil {
		t.Error("Expected error for invalid utf-8 but got none")
	}
}

// TestProtoSerializer tests protobuf round trips and the descriptor
// metadata
func TestProtoSerializer(t *testing.T) {
	serializer := NewProtoSerializer[*timestamppb.Timestamp]()

	dt := serializer.DataType()
	if dt.Encoding != "proto" {
		t.Errorf("Expected encoding 'proto', got %q", dt.Encoding)
	}
	if dt.TypeName != "google.protobuf.Timestamp" {
		t.Errorf("Expected full protobuf name, got %q", dt.TypeName)
	}
	if len(dt.Descriptor) == 0 {
		t.Fatal("Expected a serialized descriptor, got none")
	}

	// the descriptor must parse as a FileDescriptorSet containing the
	// message's file
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(dt.Descriptor, &set); err != nil {
		t.Fatalf("Descriptor doesn't parse as a FileDescriptorSet: %v", err)
	}
	found := false
	for _, file := range set.File {
		if file.GetName() == "google/protobuf/timestamp.proto" {
			found = true
		}
	}
	if !found {
		t.Error("FileDescriptorSet doesn't contain the message's file")
	}

	// round trip
	original := timestamppb.New(time.Unix(1234567, 89000))
	data, err := serializer.Serialize(original)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	result, err := serializer.Deserialize(data)
	if err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if !proto.Equal(original, result) {
		t.Errorf("Message doesn't match after round trip:\nOriginal: %v\nResult: %v", original, result)
	}

	// corrupt data must fail, not produce a message
	if _, err := serializer.Deserialize([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Error("Expected error for corrupt data but got none")
	}
}

// TestGoTypeName tests the type name derivation for generic serializers
func TestGoTypeName(t *testing.T) {
	if got := NewJSONSerializer[testMessage]().DataType().TypeName; got != "testMessage" {
		t.Errorf("Expected 'testMessage', got %q", got)
	}
	if got := NewJSONSerializer[map[string]int]().DataType().TypeName; got != "map[string]int" {
		t.Errorf("Expected 'map[string]int', got %q", got)
	}
	if got := NewJSONSerializer[int64]().DataType().TypeName; got != "int64" {
		t.Errorf("Expected 'int64', got %q", got)
	}
}
