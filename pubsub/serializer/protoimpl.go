package serializer

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// NewProtoSerializer creates a new serializer for protobuf messages. The
// announced metadata carries the message's full protobuf name and a
// serialized FileDescriptorSet covering the message's file and all its
// imports, so peers can decode the type dynamically without linking the
// generated code.
func NewProtoSerializer[T proto.Message]() IMessageSerializer[T] {
	var zero T
	md := zero.ProtoReflect().Descriptor()

	return &protoSerializerImpl[T]{
		dt: common.DataTypeInfo{
			Encoding:   "proto",
			TypeName:   string(md.FullName()),
			Descriptor: encodeFileDescriptorSet(md.ParentFile()),
		},
	}
}

// encodeFileDescriptorSet serializes the descriptor of fd and its transitive
// imports, dependencies first, the way protoc emits descriptor sets.
func encodeFileDescriptorSet(fd protoreflect.FileDescriptor) []byte {
	set := &descriptorpb.FileDescriptorSet{}
	appendFileDescriptor(set, fd, map[string]bool{})

	raw, err := proto.Marshal(set)
	if err != nil {
		return nil
	}
	return raw
}

func appendFileDescriptor(set *descriptorpb.FileDescriptorSet, fd protoreflect.FileDescriptor, seen map[string]bool) {
	if seen[fd.Path()] {
		return
	}
	seen[fd.Path()] = true

	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		appendFileDescriptor(set, imports.Get(i).FileDescriptor, seen)
	}
	set.File = append(set.File, protodesc.ToFileDescriptorProto(fd))
}

// protoSerializerImpl implements the IMessageSerializer interface for
// protobuf messages
type protoSerializerImpl[T proto.Message] struct {
	dt common.DataTypeInfo
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (p *protoSerializerImpl[T]) DataType() common.DataTypeInfo {
	return p.dt
}

func (p *protoSerializerImpl[T]) Serialize(msg T) ([]byte, error) {
	return proto.Marshal(msg)
}

func (p *protoSerializerImpl[T]) Deserialize(b []byte) (T, error) {
	var zero T

	// allocate a fresh message of the concrete type behind T
	msg := zero.ProtoReflect().New().Interface()
	if err := proto.Unmarshal(b, msg); err != nil {
		return zero, err
	}
	return msg.(T), nil
}
