package transport

import (
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DefaultTACacheSize is the number of parsed addresses kept by the
// package-level factory.
const DefaultTACacheSize = 1024

// TAFactory parses and constructs TransportAddresses, reusing previously
// parsed instances so that hot paths do not reparse the same strings.
type TAFactory struct {
	cache *lru.Cache[string, *TransportAddress]
}

// NewTAFactory creates a factory with an LRU cache of the given size.
// A size of 0 disables caching.
func NewTAFactory(size int) *TAFactory {
	f := &TAFactory{}
	if size <= 0 {
		return f
	}
	cache, err := lru.New[string, *TransportAddress](size)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewTAFactory",
			"size":     size,
			"error":    err.Error(),
		}).Warn("TA cache disabled")
		return f
	}
	f.cache = cache
	return f
}

// Parse returns the TransportAddress for s. When caching is enabled the
// same string (or any spelling with the same canonical form) yields the
// same pointer.
func (f *TAFactory) Parse(s string) (*TransportAddress, error) {
	if f.cache != nil {
		if ta, ok := f.cache.Get(s); ok {
			return ta, nil
		}
	}
	ta, err := parseTA(s)
	if err != nil {
		return nil, err
	}
	return f.intern(s, ta), nil
}

// New builds brunet.<scheme>://host:port for host based transports.
func (f *TAFactory) New(t TAType, host string, port int) *TransportAddress {
	ta := &TransportAddress{typ: t, host: host, port: port}
	ta.canonical = ta.render()
	return f.intern(ta.canonical, ta)
}

// NewFromUDPAddr builds a UDP address from a socket endpoint.
func (f *TAFactory) NewFromUDPAddr(addr *net.UDPAddr) *TransportAddress {
	ip := addr.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return f.New(TATypeUDP, ip.String(), addr.Port)
}

// NewSimulation builds b.<scheme>://<id> for simulation transports.
func (f *TAFactory) NewSimulation(t TAType, id int) *TransportAddress {
	ta := &TransportAddress{typ: t, simID: id}
	ta.canonical = ta.render()
	return f.intern(ta.canonical, ta)
}

// WithPath returns base with its path replaced.
func (f *TAFactory) WithPath(base *TransportAddress, path string) *TransportAddress {
	ta := base.withPath(path)
	return f.intern(ta.canonical, ta)
}

func (f *TAFactory) intern(key string, ta *TransportAddress) *TransportAddress {
	if f.cache == nil {
		return ta
	}
	if existing, ok := f.cache.Get(ta.canonical); ok {
		ta = existing
	} else {
		f.cache.Add(ta.canonical, ta)
	}
	if key != ta.canonical {
		f.cache.Add(key, ta)
	}
	return ta
}

var defaultTAFactory = NewTAFactory(DefaultTACacheSize)

// ParseTA parses s through the package-level factory.
func ParseTA(s string) (*TransportAddress, error) {
	return defaultTAFactory.Parse(s)
}

// MustParseTA is like ParseTA but panics on error. Intended for constants
// and tests.
func MustParseTA(s string) *TransportAddress {
	ta, err := ParseTA(s)
	if err != nil {
		panic(err)
	}
	return ta
}

// NewTA builds a host based address through the package-level factory.
func NewTA(t TAType, host string, port int) *TransportAddress {
	return defaultTAFactory.New(t, host, port)
}

// NewUDPTA builds a brunet.udp address for a socket endpoint.
func NewUDPTA(addr *net.UDPAddr) *TransportAddress {
	return defaultTAFactory.NewFromUDPAddr(addr)
}

// NewSimulationTA builds a b.s or b.so address.
func NewSimulationTA(t TAType, id int) *TransportAddress {
	return defaultTAFactory.NewSimulation(t, id)
}

// WithPath returns ta with the given path suffix.
func WithPath(ta *TransportAddress, path string) *TransportAddress {
	return defaultTAFactory.WithPath(ta, path)
}

// FunctionTA builds the address of an in-process function listener.
func FunctionTA(id int) *TransportAddress {
	return NewTA(TATypeFunction, "localhost", id)
}

// ParseTAList parses each string, skipping and logging invalid entries.
func ParseTAList(list []string) []*TransportAddress {
	out := make([]*TransportAddress, 0, len(list))
	for _, s := range list {
		ta, err := ParseTA(s)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ParseTAList",
				"ta":       s,
				"error":    err.Error(),
			}).Debug("Skipping unparsable transport address")
			continue
		}
		out = append(out, ta)
	}
	return out
}

// TAStrings renders addresses, keeping at most limit entries (limit <= 0 means all).
func TAStrings(tas []*TransportAddress, limit int) []string {
	if limit <= 0 || limit > len(tas) {
		limit = len(tas)
	}
	out := make([]string, 0, limit)
	for _, ta := range tas[:limit] {
		out = append(out, ta.String())
	}
	return out
}
