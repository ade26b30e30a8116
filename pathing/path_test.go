package pathing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/edgenet/limits"
	"github.com/opd-ai/edgenet/transport"
)

func TestSplitPath_Literals(t *testing.T) {
	tests := []struct {
		in   string
		base string
		path string
	}{
		{"brunet.udp://127.0.0.1:9", "brunet.udp://127.0.0.1:9", "/"},
		{"brunet.udp:///127.0.0.1:9/Path", "brunet.udp://127.0.0.1:9", "/Path"},
		{"brunet.udp://127.0.0.1:9//Path", "brunet.udp://127.0.0.1:9", "/Path"},
		{"brunet.udp://127.0.0.1:9/a/b", "brunet.udp://127.0.0.1:9", "/a/b"},
		{"b.s://7/chat", "b.s://7", "/chat"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, path := SplitPath(transport.MustParseTA(tt.in))
			assert.Equal(t, tt.base, base.String())
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestJoinSplit_RoundTrip(t *testing.T) {
	bases := []*transport.TransportAddress{
		transport.MustParseTA("brunet.udp://127.0.0.1:9"),
		transport.MustParseTA("brunet.function://localhost:3"),
		transport.NewSimulationTA(transport.TATypeSimulation, 12),
	}
	for _, base := range bases {
		for _, p := range []string{"/", "/foo", "/foo/bar"} {
			t.Run(base.String()+p, func(t *testing.T) {
				joined := JoinPath(base, p)
				gotBase, gotPath := SplitPath(joined)
				assert.True(t, gotBase.Equal(base))
				assert.Equal(t, p, gotPath)
			})
		}
	}
}

func TestJoinPath_Forms(t *testing.T) {
	base := transport.MustParseTA("brunet.udp://127.0.0.1:9")
	assert.True(t, base.Equal(JoinPath(base, Root)))
	assert.Equal(t, "brunet.udp://127.0.0.1:9/x", JoinPath(base, "x").String())
	assert.Equal(t, "brunet.udp://127.0.0.1:9/x", JoinPath(base, "//x").String())
}

func TestFrameCodec(t *testing.T) {
	frame, err := encodeAddressed(codeData, "/a", "/bb", []byte("payload"))
	require.NoError(t, err)

	code, rest, tagged, err := parseTag(frame)
	require.NoError(t, err)
	require.True(t, tagged)
	assert.Equal(t, codeData, code)

	src, dst, payload, err := decodeAddressed(rest)
	require.NoError(t, err)
	assert.Equal(t, "/a", src)
	assert.Equal(t, "/bb", dst)
	assert.Equal(t, []byte("payload"), payload)
}

func TestParseTag_Legacy(t *testing.T) {
	for _, data := range [][]byte{nil, {}, []byte("hello"), {0x7f, 0}} {
		_, rest, tagged, err := parseTag(data)
		require.NoError(t, err)
		assert.False(t, tagged)
		assert.Equal(t, data, rest)
	}
}

func TestFrameCodec_Errors(t *testing.T) {
	frame, err := encodeAddressed(codeClose, "/a", "/b", nil)
	require.NoError(t, err)
	_, rest, _, err := parseTag(frame)
	require.NoError(t, err)

	_, _, _, err = decodeAddressed(rest[:len(rest)-1])
	assert.ErrorIs(t, err, errShortFrame)

	_, _, _, err = parseTag([]byte{frameLead})
	assert.Error(t, err)

	long := make([]byte, limits.MaxPathLength+1)
	_, err = encodeAddressed(codeData, string(long), "/", nil)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestFrameCode_String(t *testing.T) {
	assert.Equal(t, "pathing", codePathing.String())
	assert.Equal(t, "rpc", codeRPC.String())
	assert.Equal(t, "data", codeData.String())
	assert.Equal(t, "close", codeClose.String())
	assert.Equal(t, "frameCode(9)", frameCode(9).String())
}
