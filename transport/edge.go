package transport

import (
	"cmp"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// DataHandler receives packets delivered on an edge.
type DataHandler interface {
	HandleData(e Edge, payload []byte)
}

// DataHandlerFunc adapts a function to the DataHandler interface.
type DataHandlerFunc func(e Edge, payload []byte)

// HandleData calls f(e, payload).
func (f DataHandlerFunc) HandleData(e Edge, payload []byte) { f(e, payload) }

// SendHandler puts an edge's outbound packets on the wire.
type SendHandler interface {
	HandleEdgeSend(e Edge, payload []byte) error
}

// Edge is an unreliable, bidirectional packet connection to one remote
// endpoint.
type Edge interface {
	// Number is unique among live edges in the process.
	Number() int
	LocalTA() *TransportAddress
	RemoteTA() *TransportAddress
	TAType() TAType
	// IsInbound is true when the remote side initiated the edge.
	IsInbound() bool
	IsClosed() bool

	// Send fails with ErrEdgeClosed after Close.
	Send(payload []byte) error
	// Close returns true only for the call that closed the edge.
	Close() bool
	// OnClose registers h to run once when the edge closes. It returns
	// ErrAlreadyFired if the edge has already closed.
	OnClose(h func(Edge)) error
	// Subscribe replaces the single data subscriber. nil unsubscribes.
	Subscribe(h DataHandler)
	// ReceivedPacket is called by the owning transport for each packet.
	// It fails with ErrEdgeClosed after Close.
	ReceivedPacket(payload []byte) error

	CreatedAt() time.Time
	LastInTime() time.Time
	LastOutTime() time.Time
	LocalTANotEphemeral() bool
	RemoteTANotEphemeral() bool
	String() string
}

type subscription struct {
	h DataHandler
}

// BaseEdge implements the transport independent part of Edge. Concrete
// edges embed it, provide LocalTA, RemoteTA and TAType, and call Init
// from their constructor.
type BaseEdge struct {
	self     Edge
	sender   SendHandler
	inbound  bool
	registry *Registry
	clock    clock.Clock

	num        int
	closed     atomic.Bool
	closeEvent FireOnce
	sub        atomic.Pointer[subscription]
	created    time.Time
	lastIn     atomic.Int64
	lastOut    atomic.Int64
}

// Init registers the edge and must be called before the edge is shared.
// self is the outer edge value, sender receives every Send. A nil
// registry or clock selects the defaults.
func (b *BaseEdge) Init(self Edge, sender SendHandler, inbound bool, reg *Registry, clk clock.Clock) {
	if reg == nil {
		reg = DefaultRegistry
	}
	if clk == nil {
		clk = clock.New()
	}
	b.self = self
	b.sender = sender
	b.inbound = inbound
	b.registry = reg
	b.clock = clk
	b.created = clk.Now()
	b.lastIn.Store(b.created.UnixNano())
	b.lastOut.Store(b.created.UnixNano())
	b.num = reg.Alloc(self)
}

// Number returns the process unique edge number.
func (b *BaseEdge) Number() int { return b.num }

// IsInbound reports whether the remote side created the edge.
func (b *BaseEdge) IsInbound() bool { return b.inbound }

// IsClosed reports whether Close has succeeded.
func (b *BaseEdge) IsClosed() bool { return b.closed.Load() }

// Clock returns the clock used for the edge timestamps.
func (b *BaseEdge) Clock() clock.Clock { return b.clock }

// Send hands payload to the edge's SendHandler.
func (b *BaseEdge) Send(payload []byte) error {
	if b.closed.Load() {
		return NewEdgeError("send", b.self.RemoteTA(), ErrEdgeClosed)
	}
	if err := b.sender.HandleEdgeSend(b.self, payload); err != nil {
		return err
	}
	b.lastOut.Store(b.clock.Now().UnixNano())
	return nil
}

// Close marks the edge closed, releases its number and fires the close
// handlers. Only the first call returns true.
func (b *BaseEdge) Close() bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.registry.Release(b.num)

	logrus.WithFields(logrus.Fields{
		"function": "BaseEdge.Close",
		"edge":     b.self.String(),
	}).Debug("Edge closed")

	b.closeEvent.Fire()
	return true
}

// OnClose registers h to run when the edge closes.
func (b *BaseEdge) OnClose(h func(Edge)) error {
	return b.closeEvent.Add(func() { h(b.self) })
}

// Subscribe replaces the current data subscriber.
func (b *BaseEdge) Subscribe(h DataHandler) {
	if h == nil {
		b.sub.Store(nil)
		return
	}
	b.sub.Store(&subscription{h: h})
}

// Subscriber returns the current data subscriber or nil.
func (b *BaseEdge) Subscriber() DataHandler {
	if s := b.sub.Load(); s != nil {
		return s.h
	}
	return nil
}

// ReceivedPacket forwards payload to the subscriber. Packets arriving
// while nobody is subscribed are dropped without error.
func (b *BaseEdge) ReceivedPacket(payload []byte) error {
	if b.closed.Load() {
		return NewEdgeError("receive", b.self.RemoteTA(), ErrEdgeClosed)
	}
	s := b.sub.Load()
	if s == nil {
		return nil
	}
	s.h.HandleData(b.self, payload)
	b.lastIn.Store(b.clock.Now().UnixNano())
	return nil
}

// CreatedAt returns the construction time.
func (b *BaseEdge) CreatedAt() time.Time { return b.created }

// LastInTime returns when a packet was last delivered.
func (b *BaseEdge) LastInTime() time.Time { return time.Unix(0, b.lastIn.Load()) }

// LastOutTime returns when a packet was last sent.
func (b *BaseEdge) LastOutTime() time.Time { return time.Unix(0, b.lastOut.Load()) }

// LocalTANotEphemeral is false unless the transport knows better.
func (b *BaseEdge) LocalTANotEphemeral() bool { return false }

// RemoteTANotEphemeral is false unless the transport knows better.
func (b *BaseEdge) RemoteTANotEphemeral() bool { return false }

// String describes the edge direction and endpoints.
func (b *BaseEdge) String() string {
	arrow := "->"
	if b.inbound {
		arrow = "<-"
	}
	return fmt.Sprintf("local: %s %s remote: %s, num: %d",
		b.self.LocalTA(), arrow, b.self.RemoteTA(), b.num)
}

// CompareEdges orders edges by number.
func CompareEdges(a, b Edge) int {
	return cmp.Compare(a.Number(), b.Number())
}
