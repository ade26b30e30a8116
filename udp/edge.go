package udp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/edgenet/transport"
)

// Edge is a logical connection multiplexed over a listener's socket. It
// is addressed on the wire by its local id and the peer's id for it.
type Edge struct {
	transport.BaseEdge
	listener *EdgeListener
	id       int32
	remoteID atomic.Int32
	localTA  *transport.TransportAddress

	mu                sync.Mutex
	end               *net.UDPAddr
	remoteTA          *transport.TransportAddress
	peerViewOfLocalTA *transport.TransportAddress
}

func newEdge(l *EdgeListener, id, remoteID int32, end *net.UDPAddr) *Edge {
	e := &Edge{
		listener: l,
		id:       id,
		localTA:  l.guessLocalTA(),
		end:      end,
		remoteTA: transport.NewUDPTA(end),
	}
	e.remoteID.Store(remoteID)
	e.Init(e, l, remoteID != 0, l.opts.Registry, l.clock)
	return e
}

// ID returns the local id peers address this edge by.
func (e *Edge) ID() int32 { return e.id }

// RemoteID returns the peer's id for this edge, 0 until known.
func (e *Edge) RemoteID() int32 { return e.remoteID.Load() }

// SetRemoteID records the peer's id. It fails with ErrRemoteIDMismatch
// when a different id was already recorded.
func (e *Edge) SetRemoteID(id int32) error {
	if prev := e.TrySetRemoteID(id); prev != 0 && prev != id {
		return transport.NewEdgeError("set remote id", e.RemoteTA(), transport.ErrRemoteIDMismatch)
	}
	return nil
}

// TrySetRemoteID records id if no remote id is set yet. It returns the
// value seen before the call: 0 when id was just recorded, id when it was
// already recorded, and any other value on a mismatch, in which case the
// recorded id is unchanged.
func (e *Edge) TrySetRemoteID(id int32) int32 {
	if cur := e.remoteID.Load(); cur == id {
		return cur
	}
	if e.remoteID.CompareAndSwap(0, id) {
		return 0
	}
	return e.remoteID.Load()
}

// End returns the socket endpoint packets are currently sent to.
func (e *Edge) End() *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.end
}

func (e *Edge) setEnd(end *net.UDPAddr) {
	ta := transport.NewUDPTA(end)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.end = end
	e.remoteTA = ta
}

// PeerViewOfLocalTA returns our address as the peer last announced it.
func (e *Edge) PeerViewOfLocalTA() *transport.TransportAddress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerViewOfLocalTA
}

// setPeerViewOfLocalTA stores ta and reports whether it changed.
func (e *Edge) setPeerViewOfLocalTA(ta *transport.TransportAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ta.Equal(e.peerViewOfLocalTA) {
		return false
	}
	e.peerViewOfLocalTA = ta
	return true
}

// LocalTA returns the listener address this edge was created on.
func (e *Edge) LocalTA() *transport.TransportAddress { return e.localTA }

// RemoteTA returns the current remote address, which follows NAT remaps.
func (e *Edge) RemoteTA() *transport.TransportAddress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteTA
}

// TAType is always TATypeUDP.
func (e *Edge) TAType() transport.TAType { return transport.TATypeUDP }

// LocalTANotEphemeral is true: the listener port is fixed.
func (e *Edge) LocalTANotEphemeral() bool { return true }

// RemoteTANotEphemeral is true: the peer's socket is its listener socket.
func (e *Edge) RemoteTANotEphemeral() bool { return true }

func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
