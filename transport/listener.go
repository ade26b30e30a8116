package transport

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CreationCallback reports the outcome of CreateEdgeTo. It is called
// exactly once.
type CreationCallback func(success bool, e Edge, err error)

// EdgeListener accepts inbound edges and creates outbound edges for one
// transport type.
type EdgeListener interface {
	TAType() TAType
	// LocalTAs is a snapshot safe to use while the listener changes.
	LocalTAs() []*TransportAddress
	IsStarted() bool
	// Count returns the number of live edges.
	Count() int

	// Start fails if the listener was started before.
	Start() error
	// Stop closes every edge. Calling it again is a no-op.
	Stop() error

	// CreateEdgeTo never reports failure other than through cb.
	CreateEdgeTo(ta *TransportAddress, cb CreationCallback)

	// OnEdge sets the handler for newly accepted edges.
	OnEdge(h func(Edge))
	// OnCloseRequest sets the handler that decides how to close edges the
	// listener wants gone.
	OnCloseRequest(h func(e Edge, reason string))
	RequestClose(e Edge, reason string)

	Authorizer() Authorizer
	SetAuthorizer(a Authorizer)

	// UpdateLocalTAs records the remote peer's view of our address.
	UpdateLocalTAs(e Edge, peerView *TransportAddress)
	// UpdateRemoteTAs moves ta to the front of list when e confirms it.
	UpdateRemoteTAs(list []*TransportAddress, e Edge, ta *TransportAddress) []*TransportAddress
}

// BaseListener holds the handler and authorizer plumbing shared by all
// listeners. Concrete listeners embed it and call InitListener.
type BaseListener struct {
	mu              sync.RWMutex
	taType          TAType
	auth            Authorizer
	edgeHandler     func(Edge)
	closeReqHandler func(Edge, string)
}

// InitListener sets the transport type and initial authorizer.
func (l *BaseListener) InitListener(t TAType, auth Authorizer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taType = t
	l.auth = auth
}

// TAType returns the listener's transport type.
func (l *BaseListener) TAType() TAType {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.taType
}

// Authorizer returns the current authorizer, possibly nil.
func (l *BaseListener) Authorizer() Authorizer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.auth
}

// SetAuthorizer replaces the authorizer.
func (l *BaseListener) SetAuthorizer(a Authorizer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.auth = a
}

// OnEdge sets the new edge handler.
func (l *BaseListener) OnEdge(h func(Edge)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edgeHandler = h
}

// OnCloseRequest sets the close request handler.
func (l *BaseListener) OnCloseRequest(h func(Edge, string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeReqHandler = h
}

// SendEdgeEvent announces a new inbound edge.
func (l *BaseListener) SendEdgeEvent(e Edge) {
	l.mu.RLock()
	h := l.edgeHandler
	l.mu.RUnlock()

	if h == nil {
		logrus.WithFields(logrus.Fields{
			"function": "BaseListener.SendEdgeEvent",
			"edge":     e.String(),
		}).Debug("No edge handler registered")
		return
	}
	h(e)
}

// RequestClose asks the close request handler to close e, or closes it
// directly when nobody is listening.
func (l *BaseListener) RequestClose(e Edge, reason string) {
	l.mu.RLock()
	h := l.closeReqHandler
	l.mu.RUnlock()

	if h == nil {
		e.Close()
		return
	}
	h(e, reason)
}

// ClearHandlers drops both handlers, used when a listener stops.
func (l *BaseListener) ClearHandlers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edgeHandler = nil
	l.closeReqHandler = nil
}

// UpdateLocalTAs does nothing for transports without NAT tracking.
func (l *BaseListener) UpdateLocalTAs(Edge, *TransportAddress) {}

// UpdateRemoteTAs promotes ta when it matches a non ephemeral remote
// address of e.
func (l *BaseListener) UpdateRemoteTAs(list []*TransportAddress, e Edge, ta *TransportAddress) []*TransportAddress {
	return PromoteRemoteTA(l.TAType(), list, e, ta)
}

// PromoteRemoteTA returns list with ta first when ta is of type t and e
// confirms it as its non ephemeral remote address. Otherwise list is
// returned unchanged.
func PromoteRemoteTA(t TAType, list []*TransportAddress, e Edge, ta *TransportAddress) []*TransportAddress {
	if ta == nil || ta.Type() != t || !e.RemoteTANotEphemeral() || !ta.Equal(e.RemoteTA()) {
		return list
	}
	out := make([]*TransportAddress, 0, len(list)+1)
	out = append(out, ta)
	for _, other := range list {
		if !other.Equal(ta) {
			out = append(out, other)
		}
	}
	return out
}
