package udp

import (
	"net"
	"sync/atomic"

	"github.com/opd-ai/edgenet/transport"
)

// action is work that must run on the receive goroutine, the only
// goroutine allowed to touch the id tables. owner is false when the
// receive goroutine has exited and a late caller drains the stack; table
// mutations are skipped then.
type action interface {
	run(l *EdgeListener, owner bool)
}

type actionNode struct {
	a    action
	next *actionNode
}

// actionStack is a lock-free multi-producer stack drained whole by a
// single consumer.
type actionStack struct {
	head atomic.Pointer[actionNode]
}

func (s *actionStack) push(a action) {
	n := &actionNode{a: a}
	for {
		old := s.head.Load()
		n.next = old
		if s.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// drain removes every pending action and returns them oldest first.
func (s *actionStack) drain() []action {
	n := s.head.Swap(nil)
	var out []action
	for ; n != nil; n = n.next {
		out = append(out, n.a)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type createAction struct {
	ta  *transport.TransportAddress
	end *net.UDPAddr
	cb  transport.CreationCallback
}

func (a createAction) run(l *EdgeListener, owner bool) {
	if !owner || !l.IsStarted() {
		a.cb(false, nil, transport.NewEdgeError("create", a.ta, transport.ErrNotStarted))
		return
	}
	e := l.createEdge(0, a.end)
	a.cb(true, e, nil)
}

type closeAction struct {
	e *Edge
}

func (a closeAction) run(l *EdgeListener, owner bool) {
	if !owner {
		return
	}
	if l.removeEdge(a.e) {
		l.sendControl(a.e, ControlEdgeClosed, nil)
	}
}

type setAuthAction struct {
	auth transport.Authorizer
}

func (a setAuthAction) run(l *EdgeListener, owner bool) {
	l.BaseListener.SetAuthorizer(a.auth)
	if !owner {
		return
	}
	for _, e := range l.edgeList() {
		if transport.IsNotDenied(a.auth, e.RemoteTA()) {
			continue
		}
		l.removeEdge(e)
		l.sendControl(e, ControlEdgeClosed, nil)
		e.Close()
	}
}
