package p2p

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/genevanmeter/tbus/pubsub/common"
)

// Every gossipsub message carries one frame: the publication's type
// metadata, the send timestamp and clock, and the payload. Peers need the
// metadata per message because gossipsub itself only moves opaque bytes.
//
// Layout, all integers big-endian:
//
//	1  byte   frame version
//	2  bytes  encoding length, followed by the encoding
//	2  bytes  type name length, followed by the type name
//	4  bytes  descriptor length, followed by the descriptor
//	8  bytes  send timestamp (microseconds since epoch)
//	8  bytes  send clock
//	4  bytes  payload length, followed by the payload
const frameVersion = 1

// frame is the decoded wire representation of one message. The payload
// slice aliases the wire buffer it was decoded from.
type frame struct {
	dt        common.DataTypeInfo
	timestamp int64
	clock     int64
	payload   []byte
}

// framePrefix renders the constant leading part of a frame for the given
// type metadata. The prefix is fixed per publication, so publications
// render it once and reuse it for every send.
func framePrefix(dt common.DataTypeInfo) ([]byte, error) {
	if len(dt.Encoding) > math.MaxUint16 {
		return nil, fmt.Errorf("p2p: encoding tag exceeds %d bytes", math.MaxUint16)
	}
	if len(dt.TypeName) > math.MaxUint16 {
		return nil, fmt.Errorf("p2p: type name exceeds %d bytes", math.MaxUint16)
	}
	if len(dt.Descriptor) > math.MaxUint32 {
		return nil, fmt.Errorf("p2p: descriptor exceeds %d bytes", math.MaxUint32)
	}

	buf := make([]byte, 0, 1+2+len(dt.Encoding)+2+len(dt.TypeName)+4+len(dt.Descriptor))
	buf = append(buf, frameVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(dt.Encoding)))
	buf = append(buf, dt.Encoding...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(dt.TypeName)))
	buf = append(buf, dt.TypeName...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(dt.Descriptor)))
	buf = append(buf, dt.Descriptor...)
	return buf, nil
}

// encodeFrame renders a complete frame from a prepared prefix and the
// per-message fields.
func encodeFrame(prefix []byte, timestamp, clock int64, payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint32 {
		return nil, fmt.Errorf("p2p: payload exceeds %d bytes", math.MaxUint32)
	}

	buf := make([]byte, 0, len(prefix)+8+8+4+len(payload))
	buf = append(buf, prefix...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	buf = binary.BigEndian.AppendUint64(buf, uint64(clock))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

// decodeFrame parses a wire frame. The returned payload and descriptor
// alias data; callers that retain them must copy.
func decodeFrame(data []byte) (frame, error) {
	var f frame

	if len(data) < 1 {
		return f, fmt.Errorf("p2p: empty frame")
	}
	if data[0] != frameVersion {
		return f, fmt.Errorf("p2p: unsupported frame version %d", data[0])
	}
	rest := data[1:]

	encoding, rest, err := readBytes16(rest, "encoding")
	if err != nil {
		return f, err
	}
	typeName, rest, err := readBytes16(rest, "type name")
	if err != nil {
		return f, err
	}
	descriptor, rest, err := readBytes32(rest, "descriptor")
	if err != nil {
		return f, err
	}

	if len(rest) < 16 {
		return f, fmt.Errorf("p2p: frame truncated reading timestamp and clock")
	}
	f.timestamp = int64(binary.BigEndian.Uint64(rest))
	f.clock = int64(binary.BigEndian.Uint64(rest[8:]))
	rest = rest[16:]

	payload, rest, err := readBytes32(rest, "payload")
	if err != nil {
		return f, err
	}
	if len(rest) != 0 {
		return f, fmt.Errorf("p2p: %d trailing bytes after frame", len(rest))
	}

	f.dt = common.DataTypeInfo{
		Encoding: string(encoding),
		TypeName: string(typeName),
	}
	if len(descriptor) > 0 {
		f.dt.Descriptor = descriptor
	}
	f.payload = payload
	return f, nil
}

// readBytes16 consumes a 2 byte length followed by that many bytes.
func readBytes16(data []byte, field string) ([]byte, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("p2p: frame truncated reading %s length", field)
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("p2p: frame truncated reading %s (%d of %d bytes)", field, len(data), n)
	}
	return data[:n], data[n:], nil
}

// readBytes32 consumes a 4 byte length followed by that many bytes.
func readBytes32(data []byte, field string) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("p2p: frame truncated reading %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("p2p: frame truncated reading %s (%d of %d bytes)", field, len(data), n)
	}
	return data[:n], data[n:], nil
}
