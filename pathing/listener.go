package pathing

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/edgenet/transport"
)

const (
	listenerNew int32 = iota
	listenerRunning
	listenerStopped
)

// Listener is the EdgeListener for one path. Its edges share the
// Manager's underlying listener.
type Listener struct {
	transport.BaseListener
	m     *Manager
	path  string
	state atomic.Int32
	count atomic.Int64
}

func newListener(m *Manager, path string) *Listener {
	l := &Listener{m: m, path: path}
	l.InitListener(m.el.TAType(), nil)
	return l
}

// Path returns the listener's path.
func (l *Listener) Path() string { return l.path }

// LocalTAs joins the path onto every underlying local address.
func (l *Listener) LocalTAs() []*transport.TransportAddress {
	base := l.m.el.LocalTAs()
	out := make([]*transport.TransportAddress, 0, len(base))
	for _, ta := range base {
		out = append(out, JoinPath(ta, l.path))
	}
	return out
}

// IsStarted reports whether the listener accepts and creates edges.
func (l *Listener) IsStarted() bool { return l.state.Load() == listenerRunning }

// Count returns the number of live path edges.
func (l *Listener) Count() int { return int(l.count.Load()) }

// Start may be called once.
func (l *Listener) Start() error {
	if !l.state.CompareAndSwap(listenerNew, listenerRunning) {
		return &transport.EdgeError{Op: "start", Addr: l.path, Err: transport.ErrAlreadyStarted}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Listener.Start",
		"path":     l.path,
	}).Info("Path listener started")
	return nil
}

// Stop unregisters the path. Live edges stay open.
func (l *Listener) Stop() error {
	if !l.state.CompareAndSwap(listenerRunning, listenerStopped) {
		l.state.CompareAndSwap(listenerNew, listenerStopped)
		return nil
	}
	l.m.RemovePath(l.path)
	l.ClearHandlers()
	logrus.WithFields(logrus.Fields{
		"function": "Listener.Stop",
		"path":     l.path,
	}).Info("Path listener stopped")
	return nil
}

// CreateEdgeTo connects to the path carried by ta. Root to Root
// connections skip the handshake and use a dedicated physical edge;
// everything else shares the physical edge to ta's base address.
func (l *Listener) CreateEdgeTo(ta *transport.TransportAddress, cb transport.CreationCallback) {
	if !l.IsStarted() {
		cb(false, nil, transport.NewEdgeError("create", ta, transport.ErrNotStarted))
		return
	}
	if !transport.IsNotDenied(l.Authorizer(), ta) {
		cb(false, nil, transport.NewEdgeError("create", ta, transport.ErrTADenied))
		return
	}
	base, remotePath := SplitPath(ta)
	if l.path == Root && remotePath == Root {
		l.m.createRoot(l, base, cb)
		return
	}
	l.m.createPath(l, ta, base, remotePath, cb)
}

// announce hands an inbound edge to the owner.
func (l *Listener) announce(e *Edge) error {
	if !l.IsStarted() {
		return transport.NewEdgeError("announce", e.LocalTA(), transport.ErrNotStarted)
	}
	l.track(e)
	l.SendEdgeEvent(e)
	return nil
}

// track counts e until it closes.
func (l *Listener) track(e *Edge) {
	l.count.Add(1)
	if err := e.OnClose(func(transport.Edge) { l.count.Add(-1) }); err != nil {
		l.count.Add(-1)
	}
}

// UpdateLocalTAs forwards the peer's view, without the path, to the
// underlying listener.
func (l *Listener) UpdateLocalTAs(e transport.Edge, peerView *transport.TransportAddress) {
	pe, ok := e.(*Edge)
	if !ok || peerView == nil {
		return
	}
	base, _ := SplitPath(peerView)
	l.m.el.UpdateLocalTAs(pe.Physical(), base)
}

var _ transport.EdgeListener = (*Listener)(nil)
