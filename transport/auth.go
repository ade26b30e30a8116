package transport

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
)

// Decision is the verdict of an Authorizer.
type Decision uint8

const (
	// DecisionNone means the authorizer has no opinion
	DecisionNone Decision = iota
	// DecisionAllow explicitly allows the address
	DecisionAllow
	// DecisionDeny explicitly denies the address
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "None"
	case DecisionAllow:
		return "Allow"
	case DecisionDeny:
		return "Deny"
	default:
		return fmt.Sprintf("Decision(%d)", uint8(d))
	}
}

// Authorizer decides whether edges to or from a transport address are
// acceptable.
type Authorizer interface {
	Authorize(ta *TransportAddress) Decision
}

// IsNotDenied is true unless a is non-nil and denies ta.
func IsNotDenied(a Authorizer, ta *TransportAddress) bool {
	if a == nil {
		return true
	}
	return a.Authorize(ta) != DecisionDeny
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ta *TransportAddress) Decision

// Authorize calls f(ta).
func (f AuthorizerFunc) Authorize(ta *TransportAddress) Decision { return f(ta) }

// ConstantAuthorizer returns the same decision for every address.
type ConstantAuthorizer struct {
	Decision Decision
}

// Authorize implements Authorizer.
func (c ConstantAuthorizer) Authorize(*TransportAddress) Decision { return c.Decision }

// SeriesAuthorizer consults each authorizer in turn and returns the first
// decision that is not None.
type SeriesAuthorizer []Authorizer

// Authorize implements Authorizer.
func (s SeriesAuthorizer) Authorize(ta *TransportAddress) Decision {
	for _, a := range s {
		if d := a.Authorize(ta); d != DecisionNone {
			return d
		}
	}
	return DecisionNone
}

// PortAuthorizer denies a single port and has no opinion on the rest.
type PortAuthorizer struct {
	Port int
}

// Authorize implements Authorizer.
func (p PortAuthorizer) Authorize(ta *TransportAddress) Decision {
	if ta.Port() == p.Port {
		return DecisionDeny
	}
	return DecisionNone
}

// RandomAuthorizer denies each address with a fixed probability. Once an
// address is denied it stays denied. Used to simulate flaky networks.
type RandomAuthorizer struct {
	DenyProb float64

	mu     sync.Mutex
	denied map[string]bool
}

// NewRandomAuthorizer creates a RandomAuthorizer.
func NewRandomAuthorizer(denyProb float64) *RandomAuthorizer {
	return &RandomAuthorizer{DenyProb: denyProb, denied: make(map[string]bool)}
}

// Authorize implements Authorizer.
func (r *RandomAuthorizer) Authorize(ta *TransportAddress) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.denied[ta.String()] {
		return DecisionDeny
	}
	if rand.Float64() < r.DenyProb {
		r.denied[ta.String()] = true
		return DecisionDeny
	}
	return DecisionAllow
}

// NetmaskAuthorizer matches the address host against a network.
type NetmaskAuthorizer struct {
	Network    *net.IPNet
	OnMatch    Decision
	OnMismatch Decision
}

// NewNetmaskAuthorizer parses a CIDR such as "10.128.0.0/9".
func NewNetmaskAuthorizer(cidr string, onMatch, onMismatch Decision) (*NetmaskAuthorizer, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("netmask authorizer: %w", err)
	}
	return &NetmaskAuthorizer{Network: network, OnMatch: onMatch, OnMismatch: onMismatch}, nil
}

// Authorize implements Authorizer. Addresses without a literal IP get
// the mismatch decision.
func (n *NetmaskAuthorizer) Authorize(ta *TransportAddress) Decision {
	ip := ta.IP()
	if ip != nil && n.Network.Contains(ip) {
		return n.OnMatch
	}
	return n.OnMismatch
}
