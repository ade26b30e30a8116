package discovery

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/opd-ai/edgenet/limits"
)

// magicCookie prefixes every discovery datagram.
var magicCookie = []byte{0x50, 0x87, 0xbd, 0x29}

var (
	// ErrNotDiscovery indicates a datagram without the discovery cookie
	ErrNotDiscovery = errors.New("not a discovery message")
	// ErrBadMessage indicates a discovery datagram that could not be decoded
	ErrBadMessage = errors.New("malformed discovery message")
)

type messageKind string

const (
	kindQuery messageKind = "query"
	kindReply messageKind = "reply"
)

// message is a query for, or reply with, the TAs of nodes in a namespace.
// Queries carry the sender's TAs too so responders learn about the
// querier without a second round.
type message struct {
	Kind      messageKind
	Namespace string
	Instance  string
	TAs       []string
}

func (m *message) marshal() ([]byte, error) {
	tas := make([]any, len(m.TAs))
	for i, ta := range m.TAs {
		tas[i] = ta
	}
	s, err := structpb.NewStruct(map[string]any{
		"type":      string(m.Kind),
		"namespace": m.Namespace,
		"instance":  m.Instance,
		"tas":       tas,
	})
	if err != nil {
		return nil, fmt.Errorf("encode discovery message: %w", err)
	}
	body, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode discovery message: %w", err)
	}
	data := append(append(make([]byte, 0, len(magicCookie)+len(body)), magicCookie...), body...)
	if err := limits.ValidateDiscoveryMessage(data); err != nil {
		return nil, err
	}
	return data, nil
}

func unmarshalMessage(data []byte) (*message, error) {
	if !bytes.HasPrefix(data, magicCookie) {
		return nil, ErrNotDiscovery
	}
	if err := limits.ValidateDiscoveryMessage(data); err != nil {
		return nil, err
	}
	var s structpb.Struct
	if err := proto.Unmarshal(data[len(magicCookie):], &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	f := s.GetFields()
	m := &message{
		Kind:      messageKind(f["type"].GetStringValue()),
		Namespace: f["namespace"].GetStringValue(),
		Instance:  f["instance"].GetStringValue(),
	}
	if m.Kind != kindQuery && m.Kind != kindReply {
		return nil, fmt.Errorf("%w: type %q", ErrBadMessage, m.Kind)
	}
	if m.Instance == "" {
		return nil, fmt.Errorf("%w: missing instance", ErrBadMessage)
	}
	for _, v := range f["tas"].GetListValue().GetValues() {
		if ta := v.GetStringValue(); ta != "" {
			m.TAs = append(m.TAs, ta)
		}
	}
	return m, nil
}
