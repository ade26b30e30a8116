package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TAType identifies the transport scheme of a TransportAddress.
type TAType uint8

const (
	// TATypeUnknown is used for addresses whose scheme is not recognised
	TATypeUnknown TAType = iota
	// TATypeTCP represents brunet.tcp addresses
	TATypeTCP
	// TATypeUDP represents brunet.udp addresses
	TATypeUDP
	// TATypeFunction represents in-process function edges
	TATypeFunction
	// TATypeSimulation represents simulator edges (b.s)
	TATypeSimulation
	// TATypeSimulationOther represents the secondary simulator transport (b.so)
	TATypeSimulationOther
	// TATypeTunnel represents relayed edges (tunnel, alias relay)
	TATypeTunnel
	// TATypeSubring represents edges into a subring overlay
	TATypeSubring
	// TATypeTLS represents TLS wrapped edges
	TATypeTLS
	// TATypeTLSTest represents the TLS test transport
	TATypeTLSTest
	// TATypeXMPP represents XMPP relayed edges
	TATypeXMPP
)

var taTypeSchemes = map[TAType]string{
	TATypeTCP:             "tcp",
	TATypeUDP:             "udp",
	TATypeFunction:        "function",
	TATypeSimulation:      "s",
	TATypeSimulationOther: "so",
	TATypeTunnel:          "tunnel",
	TATypeSubring:         "subring",
	TATypeTLS:             "tls",
	TATypeTLSTest:         "tlstest",
	TATypeXMPP:            "xmpp",
}

// String returns the scheme name used in the address grammar.
func (t TAType) String() string {
	if s, ok := taTypeSchemes[t]; ok {
		return s
	}
	if t == TATypeUnknown {
		return "unknown"
	}
	return fmt.Sprintf("TAType(%d)", uint8(t))
}

// ParseTAType maps a scheme name back to its TAType.
// "relay" is accepted as an alias of "tunnel".
func ParseTAType(scheme string) TAType {
	scheme = strings.ToLower(scheme)
	if scheme == "relay" {
		return TATypeTunnel
	}
	for t, s := range taTypeSchemes {
		if s == scheme {
			return t
		}
	}
	return TATypeUnknown
}

// isSimulation reports whether addresses of this type carry a numeric id
// instead of host:port.
func (t TAType) isSimulation() bool {
	return t == TATypeSimulation || t == TATypeSimulationOther
}

// requiresHostPort reports whether the first segment must be host:port.
func (t TAType) requiresHostPort() bool {
	switch t {
	case TATypeTCP, TATypeUDP, TATypeFunction, TATypeTLS, TATypeTLSTest:
		return true
	default:
		return false
	}
}

// TransportAddress is an immutable endpoint identifier of the form
// brunet.<scheme>://<host>:<port>[/<path>...]. Two addresses are equal
// when their canonical strings are equal.
type TransportAddress struct {
	canonical string
	typ       TAType
	host      string
	port      int
	simID     int
	path      string
}

// parseTA does the actual parsing work; callers normally go through a
// TAFactory so repeated strings are not parsed again.
func parseTA(s string) (*TransportAddress, error) {
	sep := strings.Index(s, "://")
	if sep < 0 {
		return nil, fmt.Errorf("%w: %q has no scheme separator", ErrInvalidTA, s)
	}
	prefix := s[:sep]
	dot := strings.LastIndex(prefix, ".")
	if dot < 0 {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidTA, s)
	}
	ns := prefix[:dot]
	if ns != "brunet" && ns != "b" {
		return nil, fmt.Errorf("%w: unknown namespace %q", ErrInvalidTA, ns)
	}

	ta := &TransportAddress{typ: ParseTAType(prefix[dot+1:])}
	if ta.typ == TATypeUnknown {
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidTA, prefix[dot+1:])
	}

	rest := strings.TrimLeft(s[sep+3:], "/")
	authority := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		authority = rest[:slash]
		ta.path = normalizePath(rest[slash:])
	}
	if authority == "" {
		return nil, fmt.Errorf("%w: %q has an empty authority", ErrInvalidTA, s)
	}

	switch {
	case ta.typ.isSimulation():
		id, err := strconv.Atoi(authority)
		if err != nil {
			return nil, fmt.Errorf("%w: simulation id %q: %v", ErrInvalidTA, authority, err)
		}
		ta.simID = id
	case ta.typ.requiresHostPort():
		host, portStr, err := net.SplitHostPort(authority)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTA, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidTA, portStr)
		}
		ta.host, ta.port = host, port
	default:
		if host, portStr, err := net.SplitHostPort(authority); err == nil {
			if port, perr := strconv.Atoi(portStr); perr == nil {
				ta.host, ta.port = host, port
				break
			}
		}
		ta.host = authority
	}

	ta.canonical = ta.render()
	return ta, nil
}

// normalizePath collapses any run of leading slashes into one and drops a
// lone "/" so that the root path is represented by the empty string.
func normalizePath(p string) string {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func (ta *TransportAddress) render() string {
	var b strings.Builder
	if ta.typ.isSimulation() {
		b.WriteString("b.")
		b.WriteString(ta.typ.String())
		b.WriteString("://")
		b.WriteString(strconv.Itoa(ta.simID))
	} else {
		b.WriteString("brunet.")
		b.WriteString(ta.typ.String())
		b.WriteString("://")
		if ta.typ.requiresHostPort() || ta.port != 0 {
			b.WriteString(net.JoinHostPort(ta.host, strconv.Itoa(ta.port)))
		} else {
			b.WriteString(ta.host)
		}
	}
	b.WriteString(ta.path)
	return b.String()
}

// withPath returns a copy of ta carrying the given path suffix.
func (ta *TransportAddress) withPath(path string) *TransportAddress {
	c := *ta
	c.path = normalizePath(path)
	c.canonical = c.render()
	return &c
}

// String returns the canonical form, which always parses back to an
// equal address.
func (ta *TransportAddress) String() string {
	if ta == nil {
		return "<nil>"
	}
	return ta.canonical
}

// Type returns the transport scheme.
func (ta *TransportAddress) Type() TAType { return ta.typ }

// Host returns the host part, empty for simulation addresses.
func (ta *TransportAddress) Host() string { return ta.host }

// Port returns the port, 0 when the address has none.
func (ta *TransportAddress) Port() int { return ta.port }

// SimulationID returns the node id of a b.s or b.so address.
func (ta *TransportAddress) SimulationID() int { return ta.simID }

// Path returns the path suffix ("" for the root path).
func (ta *TransportAddress) Path() string { return ta.path }

// Equal compares canonical strings. Two nil addresses are equal.
func (ta *TransportAddress) Equal(other *TransportAddress) bool {
	if ta == nil || other == nil {
		return ta == other
	}
	return ta == other || ta.canonical == other.canonical
}

// IP returns the host as an IP when it is a literal address.
func (ta *TransportAddress) IP() net.IP {
	return net.ParseIP(ta.host)
}

// UDPAddr resolves the host:port part of the address.
func (ta *TransportAddress) UDPAddr() (*net.UDPAddr, error) {
	if ip := ta.IP(); ip != nil {
		return &net.UDPAddr{IP: ip, Port: ta.port}, nil
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ta.host, strconv.Itoa(ta.port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ta, err)
	}
	return addr, nil
}
