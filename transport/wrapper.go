package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// WrapperEdge decorates another edge. Sends go to the wrapped edge,
// packets received by the wrapped edge are re-delivered through the
// wrapper, and closing either one closes both.
type WrapperEdge struct {
	BaseEdge
	wrapped Edge
}

// NewWrapperEdge wraps e and subscribes to it.
func NewWrapperEdge(e Edge) *WrapperEdge {
	w := &WrapperEdge{wrapped: e}
	w.Init(w, w, e.IsInbound(), nil, nil)
	e.Subscribe(w)
	if err := e.OnClose(func(Edge) { w.Close() }); err != nil {
		w.Close()
	}
	return w
}

// Wrapped returns the underlying edge.
func (w *WrapperEdge) Wrapped() Edge { return w.wrapped }

// HandleEdgeSend forwards outbound packets to the wrapped edge.
func (w *WrapperEdge) HandleEdgeSend(_ Edge, payload []byte) error {
	return w.wrapped.Send(payload)
}

// HandleData re-delivers packets arriving on the wrapped edge.
func (w *WrapperEdge) HandleData(_ Edge, payload []byte) {
	if err := w.ReceivedPacket(payload); errors.Is(err, ErrEdgeClosed) {
		w.wrapped.Close()
	}
}

// Close closes the wrapper and the wrapped edge.
func (w *WrapperEdge) Close() bool {
	closed := w.BaseEdge.Close()
	w.wrapped.Close()
	return closed
}

// LocalTA returns the wrapped edge's local address.
func (w *WrapperEdge) LocalTA() *TransportAddress { return w.wrapped.LocalTA() }

// RemoteTA returns the wrapped edge's remote address.
func (w *WrapperEdge) RemoteTA() *TransportAddress { return w.wrapped.RemoteTA() }

// TAType returns the wrapped edge's transport type.
func (w *WrapperEdge) TAType() TAType { return w.wrapped.TAType() }

// LocalTANotEphemeral follows the wrapped edge.
func (w *WrapperEdge) LocalTANotEphemeral() bool { return w.wrapped.LocalTANotEphemeral() }

// RemoteTANotEphemeral follows the wrapped edge.
func (w *WrapperEdge) RemoteTANotEphemeral() bool { return w.wrapped.RemoteTANotEphemeral() }

// EdgeCreationWrapper sits between a listener's CreateEdgeTo and the
// caller's callback, wrapping the created edge. The caller's callback
// runs exactly once.
type EdgeCreationWrapper struct {
	TA     *TransportAddress
	cb     CreationCallback
	wrap   func(Edge) Edge
	called atomic.Bool
}

// NewEdgeCreationWrapper creates a wrapper that passes successful edges
// through wrap before handing them to cb.
func NewEdgeCreationWrapper(ta *TransportAddress, cb CreationCallback, wrap func(Edge) Edge) *EdgeCreationWrapper {
	return &EdgeCreationWrapper{TA: ta, cb: cb, wrap: wrap}
}

// Callback is handed to the underlying listener.
func (c *EdgeCreationWrapper) Callback(success bool, e Edge, err error) {
	if !c.called.CompareAndSwap(false, true) {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeCreationWrapper.Callback",
			"ta":       c.TA.String(),
		}).Warn("Creation callback invoked more than once")
		return
	}
	if !success {
		c.cb(false, nil, err)
		return
	}
	c.cb(true, c.wrap(e), nil)
}

// WrapperEdgeListener decorates an EdgeListener so that every edge it
// produces, inbound or outbound, is wrapped.
type WrapperEdgeListener struct {
	BaseListener
	el   EdgeListener
	wrap func(Edge) Edge

	mu       sync.Mutex
	wrappers map[Edge]Edge
}

// NewWrapperEdgeListener wraps el. A nil wrap uses NewWrapperEdge.
func NewWrapperEdgeListener(el EdgeListener, wrap func(Edge) Edge) *WrapperEdgeListener {
	if wrap == nil {
		wrap = func(e Edge) Edge { return NewWrapperEdge(e) }
	}
	w := &WrapperEdgeListener{
		el:       el,
		wrap:     wrap,
		wrappers: make(map[Edge]Edge),
	}
	w.InitListener(el.TAType(), nil)
	el.OnEdge(w.handleEdge)
	el.OnCloseRequest(w.handleCloseRequest)
	return w
}

// Underlying returns the wrapped listener.
func (w *WrapperEdgeListener) Underlying() EdgeListener { return w.el }

func (w *WrapperEdgeListener) handleEdge(e Edge) {
	w.SendEdgeEvent(w.addEdge(e))
}

func (w *WrapperEdgeListener) handleCloseRequest(e Edge, reason string) {
	w.mu.Lock()
	wrapper, ok := w.wrappers[e]
	w.mu.Unlock()
	if !ok {
		e.Close()
		return
	}
	w.RequestClose(wrapper, reason)
}

// addEdge wraps e and tracks the pair until the underlying edge closes.
func (w *WrapperEdgeListener) addEdge(e Edge) Edge {
	wrapper := w.wrap(e)
	w.mu.Lock()
	w.wrappers[e] = wrapper
	w.mu.Unlock()

	if err := e.OnClose(w.removeEdge); err != nil {
		w.removeEdge(e)
		wrapper.Close()
	}
	return wrapper
}

func (w *WrapperEdgeListener) removeEdge(e Edge) {
	w.mu.Lock()
	wrapper, ok := w.wrappers[e]
	delete(w.wrappers, e)
	w.mu.Unlock()
	if ok {
		wrapper.Close()
	}
}

// CreateEdgeTo creates an edge through the underlying listener and wraps it.
func (w *WrapperEdgeListener) CreateEdgeTo(ta *TransportAddress, cb CreationCallback) {
	ecw := NewEdgeCreationWrapper(ta, cb, w.addEdge)
	w.el.CreateEdgeTo(ta, ecw.Callback)
}

// Count returns the number of live wrapped edges.
func (w *WrapperEdgeListener) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.wrappers)
}

// LocalTAs follows the underlying listener.
func (w *WrapperEdgeListener) LocalTAs() []*TransportAddress { return w.el.LocalTAs() }

// IsStarted follows the underlying listener.
func (w *WrapperEdgeListener) IsStarted() bool { return w.el.IsStarted() }

// Start starts the underlying listener.
func (w *WrapperEdgeListener) Start() error { return w.el.Start() }

// Stop stops the underlying listener.
func (w *WrapperEdgeListener) Stop() error {
	err := w.el.Stop()
	w.ClearHandlers()
	return err
}

// Authorizer follows the underlying listener.
func (w *WrapperEdgeListener) Authorizer() Authorizer { return w.el.Authorizer() }

// SetAuthorizer sets the underlying listener's authorizer.
func (w *WrapperEdgeListener) SetAuthorizer(a Authorizer) { w.el.SetAuthorizer(a) }

// UpdateLocalTAs forwards to the underlying listener with the unwrapped edge.
func (w *WrapperEdgeListener) UpdateLocalTAs(e Edge, peerView *TransportAddress) {
	w.el.UpdateLocalTAs(unwrap(e), peerView)
}

// UpdateRemoteTAs forwards to the underlying listener with the unwrapped edge.
func (w *WrapperEdgeListener) UpdateRemoteTAs(list []*TransportAddress, e Edge, ta *TransportAddress) []*TransportAddress {
	return w.el.UpdateRemoteTAs(list, unwrap(e), ta)
}

func unwrap(e Edge) Edge {
	if we, ok := e.(interface{ Wrapped() Edge }); ok {
		return we.Wrapped()
	}
	return e
}
