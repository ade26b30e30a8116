package transport

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTAType_String(t *testing.T) {
	tests := []struct {
		name     string
		taType   TAType
		expected string
	}{
		{"TCP", TATypeTCP, "tcp"},
		{"UDP", TATypeUDP, "udp"},
		{"Function", TATypeFunction, "function"},
		{"Simulation", TATypeSimulation, "s"},
		{"SimulationOther", TATypeSimulationOther, "so"},
		{"Tunnel", TATypeTunnel, "tunnel"},
		{"Subring", TATypeSubring, "subring"},
		{"TLS", TATypeTLS, "tls"},
		{"TLSTest", TATypeTLSTest, "tlstest"},
		{"XMPP", TATypeXMPP, "xmpp"},
		{"Unknown", TATypeUnknown, "unknown"},
		{"Invalid", TAType(99), "TAType(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.taType.String())
		})
	}
}

func TestParseTAType_RelayAlias(t *testing.T) {
	assert.Equal(t, TATypeTunnel, ParseTAType("relay"))
	assert.Equal(t, TATypeTunnel, ParseTAType("tunnel"))
	assert.Equal(t, TATypeUDP, ParseTAType("UDP"))
	assert.Equal(t, TATypeUnknown, ParseTAType("carrier-pigeon"))
}

func TestParseTA(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		taType    TAType
		host      string
		port      int
		path      string
		canonical string
	}{
		{
			name:      "udp",
			input:     "brunet.udp://127.0.0.1:9",
			taType:    TATypeUDP,
			host:      "127.0.0.1",
			port:      9,
			canonical: "brunet.udp://127.0.0.1:9",
		},
		{
			name:      "tcp with path",
			input:     "brunet.tcp://10.0.0.1:4000/foo/bar",
			taType:    TATypeTCP,
			host:      "10.0.0.1",
			port:      4000,
			path:      "/foo/bar",
			canonical: "brunet.tcp://10.0.0.1:4000/foo/bar",
		},
		{
			name:      "triple slash",
			input:     "brunet.udp:///127.0.0.1:9/Path",
			taType:    TATypeUDP,
			host:      "127.0.0.1",
			port:      9,
			path:      "/Path",
			canonical: "brunet.udp://127.0.0.1:9/Path",
		},
		{
			name:      "double slash path",
			input:     "brunet.udp://127.0.0.1:9//Path",
			taType:    TATypeUDP,
			host:      "127.0.0.1",
			port:      9,
			path:      "/Path",
			canonical: "brunet.udp://127.0.0.1:9/Path",
		},
		{
			name:      "ipv6",
			input:     "brunet.udp://[::1]:5000",
			taType:    TATypeUDP,
			host:      "::1",
			port:      5000,
			canonical: "brunet.udp://[::1]:5000",
		},
		{
			name:      "function",
			input:     "brunet.function://localhost:3",
			taType:    TATypeFunction,
			host:      "localhost",
			port:      3,
			canonical: "brunet.function://localhost:3",
		},
		{
			name:      "relay alias",
			input:     "brunet.relay://node42",
			taType:    TATypeTunnel,
			host:      "node42",
			canonical: "brunet.tunnel://node42",
		},
		{
			name:      "trailing root slash",
			input:     "brunet.udp://127.0.0.1:9/",
			taType:    TATypeUDP,
			host:      "127.0.0.1",
			port:      9,
			canonical: "brunet.udp://127.0.0.1:9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta, err := ParseTA(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.taType, ta.Type())
			assert.Equal(t, tt.host, ta.Host())
			assert.Equal(t, tt.port, ta.Port())
			assert.Equal(t, tt.path, ta.Path())
			assert.Equal(t, tt.canonical, ta.String())

			again, err := ParseTA(ta.String())
			require.NoError(t, err)
			assert.True(t, ta.Equal(again), "canonical form must round-trip")
		})
	}
}

func TestParseTA_Simulation(t *testing.T) {
	ta, err := ParseTA("b.s://234580")
	require.NoError(t, err)
	assert.Equal(t, TATypeSimulation, ta.Type())
	assert.Equal(t, 234580, ta.SimulationID())
	assert.Equal(t, "b.s://234580", ta.String())

	assert.True(t, ta.Equal(NewSimulationTA(TATypeSimulation, 234580)))
}

func TestParseTA_Errors(t *testing.T) {
	inputs := []string{
		"",
		"udp://127.0.0.1:9",
		"brunet.udp",
		"foo.udp://127.0.0.1:9",
		"brunet.bogus://127.0.0.1:9",
		"brunet.udp://127.0.0.1",
		"brunet.udp://127.0.0.1:notaport",
		"brunet.udp://127.0.0.1:70000",
		"b.s://abc",
		"brunet.udp://",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTA(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTA))
		})
	}
}

func TestTAFactory_CacheIdentity(t *testing.T) {
	f := NewTAFactory(16)

	a, err := f.Parse("brunet.function://localhost:3")
	require.NoError(t, err)
	b, err := f.Parse("brunet.function://localhost:3")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Same(t, a, b)

	// A different spelling of the same address resolves to the same instance.
	c, err := f.Parse("brunet.function:///localhost:3")
	require.NoError(t, err)
	assert.Same(t, a, c)

	assert.Same(t, a, f.New(TATypeFunction, "localhost", 3))
}

func TestTAFactory_NoCache(t *testing.T) {
	f := NewTAFactory(0)

	a, err := f.Parse("brunet.udp://127.0.0.1:9")
	require.NoError(t, err)
	b, err := f.Parse("brunet.udp://127.0.0.1:9")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.NotSame(t, a, b)
}

func TestTransportAddress_Equal(t *testing.T) {
	a := NewTA(TATypeUDP, "127.0.0.1", 9)
	b := MustParseTA("brunet.udp://127.0.0.1:9")
	c := NewTA(TATypeUDP, "127.0.0.1", 10)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	var nilTA *TransportAddress
	assert.True(t, nilTA.Equal(nil))
	assert.Equal(t, "<nil>", nilTA.String())
}

func TestWithPath(t *testing.T) {
	base := NewTA(TATypeUDP, "127.0.0.1", 9)

	withPath := WithPath(base, "foo")
	assert.Equal(t, "/foo", withPath.Path())
	assert.Equal(t, "brunet.udp://127.0.0.1:9/foo", withPath.String())

	root := WithPath(withPath, "/")
	assert.Equal(t, "", root.Path())
	assert.True(t, root.Equal(base))
}

func TestNewUDPTA(t *testing.T) {
	ta := NewUDPTA(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 2), Port: 4000})
	assert.Equal(t, "brunet.udp://192.168.1.2:4000", ta.String())

	addr, err := ta.UDPAddr()
	require.NoError(t, err)
	assert.Equal(t, 4000, addr.Port)
	assert.True(t, addr.IP.Equal(net.IPv4(192, 168, 1, 2)))
}

func TestTAStrings(t *testing.T) {
	tas := ParseTAList([]string{
		"brunet.udp://127.0.0.1:1",
		"not an address",
		"brunet.udp://127.0.0.1:2",
		"brunet.udp://127.0.0.1:3",
	})
	require.Len(t, tas, 3)

	assert.Equal(t, []string{"brunet.udp://127.0.0.1:1", "brunet.udp://127.0.0.1:2"}, TAStrings(tas, 2))
	assert.Len(t, TAStrings(tas, 0), 3)
}
