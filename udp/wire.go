package udp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/opd-ai/edgenet/limits"
)

// HeaderSize is the length of the id header on every datagram.
const HeaderSize = limits.UDPHeaderSize

// ControlCode identifies a control datagram.
type ControlCode int32

const (
	// ControlEdgeClosed tells the peer the addressed edge is gone
	ControlEdgeClosed ControlCode = 1
	// ControlEdgeDataAnnounce carries the sender's view of the edge endpoints
	ControlEdgeDataAnnounce ControlCode = 2
	// ControlNull does nothing; it wakes the receive loop
	ControlNull ControlCode = 3
)

func (c ControlCode) String() string {
	switch c {
	case ControlEdgeClosed:
		return "EdgeClosed"
	case ControlEdgeDataAnnounce:
		return "EdgeDataAnnounce"
	case ControlNull:
		return "Null"
	default:
		return fmt.Sprintf("ControlCode(%d)", int32(c))
	}
}

// Keys of the EdgeDataAnnounce dictionary.
const (
	announceRemoteTA = "RemoteTA"
	announceLocalTA  = "LocalTA"
)

var errShortControl = errors.New("control payload too short")

// header is the decoded id header. For control datagrams Recipient holds
// the complemented id as it appears on the wire.
type header struct {
	Recipient int32
	Sender    int32
}

func (h header) isControl() bool { return h.Recipient < 0 }

// localID returns the addressed local id with the control bit removed.
func (h header) localID() int32 {
	if h.isControl() {
		return ^h.Recipient
	}
	return h.Recipient
}

func parseHeader(data []byte) (header, bool) {
	if len(data) < HeaderSize {
		return header{}, false
	}
	return header{
		Recipient: int32(binary.BigEndian.Uint32(data[0:4])),
		Sender:    int32(binary.BigEndian.Uint32(data[4:8])),
	}, true
}

// encodeDatagram builds [recipient][sender][payload].
func encodeDatagram(recipient, sender int32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(recipient))
	binary.BigEndian.PutUint32(buf[4:8], uint32(sender))
	copy(buf[HeaderSize:], payload)
	return buf
}

// controlRecipient turns a local id into its on-wire control form.
func controlRecipient(id int32) int32 { return ^id }

// encodeControl builds a control body: a 4 byte code followed, when dict
// is non-empty, by a protobuf encoded Struct of string values.
func encodeControl(code ControlCode, dict map[string]string) ([]byte, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(code))
	if len(dict) == 0 {
		return body, nil
	}
	fields := make(map[string]any, len(dict))
	for k, v := range dict {
		fields[k] = v
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode control dictionary: %w", err)
	}
	enc, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode control dictionary: %w", err)
	}
	body = append(body, enc...)
	if err := limits.ValidateControlPayload(body); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeControl splits a control body into its code and dictionary.
func decodeControl(body []byte) (ControlCode, map[string]string, error) {
	if len(body) < 4 {
		return 0, nil, errShortControl
	}
	code := ControlCode(int32(binary.BigEndian.Uint32(body[0:4])))
	if len(body) == 4 {
		return code, nil, nil
	}
	var s structpb.Struct
	if err := proto.Unmarshal(body[4:], &s); err != nil {
		return code, nil, fmt.Errorf("decode control dictionary: %w", err)
	}
	dict := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		dict[k] = v.GetStringValue()
	}
	return code, dict, nil
}

// nullDatagram is the wake-up packet, a Null control addressed to id 0.
func nullDatagram() []byte {
	body, _ := encodeControl(ControlNull, nil)
	return encodeDatagram(controlRecipient(0), 0, body)
}
