package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	kindRequest = "req"
	kindReply   = "rep"
)

// ErrMalformedFrame indicates a frame that does not decode to a request or
// reply.
var ErrMalformedFrame = errors.New("malformed rpc frame")

// frame is a decoded request or reply. Requests carry Method and Args;
// replies carry OK and either Result or Error.
type frame struct {
	Kind   string
	ID     string
	Method string
	Args   []any
	OK     bool
	Result any
	Error  string
}

// encodeRequest builds ["req", id, method, [args...]].
func encodeRequest(id, method string, args []any) ([]byte, error) {
	list, err := structpb.NewList([]any{kindRequest, id, method, args})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request %s: %w", method, err)
	}
	return proto.Marshal(list)
}

// encodeReply builds ["rep", id, true, result] or ["rep", id, false, message].
func encodeReply(id string, result any, callErr error) ([]byte, error) {
	var items []any
	if callErr != nil {
		items = []any{kindReply, id, false, callErr.Error()}
	} else {
		items = []any{kindReply, id, true, result}
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, fmt.Errorf("encode rpc reply: %w", err)
	}
	return proto.Marshal(list)
}

func decodeFrame(data []byte) (*frame, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	vals := list.GetValues()
	if len(vals) < 3 {
		return nil, fmt.Errorf("%w: %d items", ErrMalformedFrame, len(vals))
	}
	f := &frame{
		Kind: vals[0].GetStringValue(),
		ID:   vals[1].GetStringValue(),
	}
	if f.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedFrame)
	}
	switch f.Kind {
	case kindRequest:
		f.Method = vals[2].GetStringValue()
		if f.Method == "" {
			return nil, fmt.Errorf("%w: missing method", ErrMalformedFrame)
		}
		if len(vals) > 3 {
			if args := vals[3].GetListValue(); args != nil {
				f.Args = args.AsSlice()
			}
		}
	case kindReply:
		f.OK = vals[2].GetBoolValue()
		if len(vals) > 3 {
			if f.OK {
				f.Result = vals[3].AsInterface()
			} else {
				f.Error = vals[3].GetStringValue()
			}
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrMalformedFrame, f.Kind)
	}
	return f, nil
}
