package pathing

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/opd-ai/edgenet/limits"
)

// frameCode tags a frame on a shared physical edge. Tagged frames start
// with a zero byte followed by the varint code; anything else is legacy
// root data.
type frameCode uint64

const (
	codePathing frameCode = 1
	codeRPC     frameCode = 2
	codeData    frameCode = 3
	codeClose   frameCode = 4
)

func (c frameCode) String() string {
	switch c {
	case codePathing:
		return "pathing"
	case codeRPC:
		return "rpc"
	case codeData:
		return "data"
	case codeClose:
		return "close"
	default:
		return fmt.Sprintf("frameCode(%d)", uint64(c))
	}
}

const frameLead = 0x00

var errShortFrame = errors.New("truncated pathing frame")

// tag returns the prefix for frames of code c.
func tag(c frameCode) []byte {
	return append([]byte{frameLead}, varint.ToUvarint(uint64(c))...)
}

// parseTag splits a tagged frame. ok is false for legacy frames.
func parseTag(data []byte) (code frameCode, rest []byte, ok bool, err error) {
	if len(data) == 0 || data[0] != frameLead {
		return 0, data, false, nil
	}
	v, n, err := varint.FromUvarint(data[1:])
	if err != nil {
		return 0, nil, true, fmt.Errorf("pathing frame tag: %w", err)
	}
	return frameCode(v), data[1+n:], true, nil
}

// encodeAddressed builds a data or close frame:
// tag, varint len(src), src, varint len(dst), dst, payload.
func encodeAddressed(c frameCode, src, dst string, payload []byte) ([]byte, error) {
	if err := limits.ValidatePath(src); err != nil {
		return nil, err
	}
	if err := limits.ValidatePath(dst); err != nil {
		return nil, err
	}
	t := tag(c)
	size := len(t) + varint.UvarintSize(uint64(len(src))) + len(src) +
		varint.UvarintSize(uint64(len(dst))) + len(dst) + len(payload)
	buf := make([]byte, 0, size)
	buf = append(buf, t...)
	buf = append(buf, varint.ToUvarint(uint64(len(src)))...)
	buf = append(buf, src...)
	buf = append(buf, varint.ToUvarint(uint64(len(dst)))...)
	buf = append(buf, dst...)
	return append(buf, payload...), nil
}

// decodeAddressed reverses encodeAddressed on the bytes after the tag.
func decodeAddressed(data []byte) (src, dst string, payload []byte, err error) {
	src, data, err = readString(data)
	if err != nil {
		return "", "", nil, err
	}
	dst, data, err = readString(data)
	if err != nil {
		return "", "", nil, err
	}
	return src, dst, data, nil
}

func readString(data []byte) (string, []byte, error) {
	l, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("pathing frame length: %w", err)
	}
	if l > limits.MaxPathLength || uint64(len(data)-n) < l {
		return "", nil, errShortFrame
	}
	end := n + int(l)
	return string(data[n:end]), data[end:], nil
}
