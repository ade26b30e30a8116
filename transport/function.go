package transport

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultFunctionQueueSize bounds each function listener's delivery queue.
const DefaultFunctionQueueSize = 1024

// FunctionWorld is the namespace in which function listeners find each
// other. Independent worlds never exchange packets.
type FunctionWorld struct {
	mu        sync.RWMutex
	listeners map[int]*FunctionEdgeListener
	registry  *Registry
}

// NewFunctionWorld creates an empty world whose edges are numbered in reg
// (nil selects DefaultRegistry).
func NewFunctionWorld(reg *Registry) *FunctionWorld {
	return &FunctionWorld{listeners: make(map[int]*FunctionEdgeListener), registry: reg}
}

func (w *FunctionWorld) lookup(id int) *FunctionEdgeListener {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.listeners[id]
}

// FunctionEdge is one side of an in-process edge.
type FunctionEdge struct {
	BaseEdge
	listener *FunctionEdgeListener
	local    *TransportAddress
	remote   *TransportAddress
	partner  atomic.Pointer[FunctionEdge]
}

func newFunctionEdge(l *FunctionEdgeListener, remote *TransportAddress, inbound bool) *FunctionEdge {
	e := &FunctionEdge{listener: l, local: l.ta, remote: remote}
	e.Init(e, l, inbound, l.world.registry, nil)
	return e
}

// LocalTA returns the owning listener's address.
func (e *FunctionEdge) LocalTA() *TransportAddress { return e.local }

// RemoteTA returns the partner listener's address.
func (e *FunctionEdge) RemoteTA() *TransportAddress { return e.remote }

// TAType is always TATypeFunction.
func (e *FunctionEdge) TAType() TAType { return TATypeFunction }

// Close closes both sides of the edge.
func (e *FunctionEdge) Close() bool {
	if !e.BaseEdge.Close() {
		return false
	}
	if p := e.partner.Load(); p != nil {
		p.Close()
	}
	return true
}

type functionDelivery struct {
	to      *FunctionEdge
	payload []byte
}

// FunctionEdgeListener connects edges through direct calls between
// listeners of one FunctionWorld. Packets are queued on the receiving
// listener and delivered by its own goroutine, dropping a fraction of
// them to imitate a lossy network.
type FunctionEdgeListener struct {
	BaseListener
	world    *FunctionWorld
	id       int
	ta       *TransportAddress
	lossProb float64

	started atomic.Int32 // 0 new, 1 running, 2 stopped
	queue   chan functionDelivery
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	edges map[*FunctionEdge]struct{}
	rng   *rand.Rand
}

// NewFunctionEdgeListener creates a listener with the given id in world.
func NewFunctionEdgeListener(world *FunctionWorld, id int, lossProb float64, auth Authorizer) *FunctionEdgeListener {
	if auth == nil {
		auth = ConstantAuthorizer{Decision: DecisionAllow}
	}
	l := &FunctionEdgeListener{
		world:    world,
		id:       id,
		ta:       FunctionTA(id),
		lossProb: lossProb,
		queue:    make(chan functionDelivery, DefaultFunctionQueueSize),
		stopCh:   make(chan struct{}),
		edges:    make(map[*FunctionEdge]struct{}),
		rng:      rand.New(rand.NewPCG(uint64(id), rand.Uint64())),
	}
	l.InitListener(TATypeFunction, auth)
	return l
}

// LocalTAs returns brunet.function://localhost:<id>.
func (l *FunctionEdgeListener) LocalTAs() []*TransportAddress {
	return []*TransportAddress{l.ta}
}

// IsStarted reports whether the listener is running.
func (l *FunctionEdgeListener) IsStarted() bool { return l.started.Load() == 1 }

// Count returns the number of live edges.
func (l *FunctionEdgeListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.edges)
}

// Start registers the listener in its world and starts delivery.
func (l *FunctionEdgeListener) Start() error {
	if !l.started.CompareAndSwap(0, 1) {
		return NewEdgeError("start", l.ta, ErrAlreadyStarted)
	}
	l.world.mu.Lock()
	l.world.listeners[l.id] = l
	l.world.mu.Unlock()

	l.wg.Add(1)
	go l.deliverLoop()

	logrus.WithFields(logrus.Fields{
		"function": "FunctionEdgeListener.Start",
		"ta":       l.ta.String(),
	}).Debug("Function listener started")
	return nil
}

// Stop unregisters the listener and closes all its edges.
func (l *FunctionEdgeListener) Stop() error {
	if !l.started.CompareAndSwap(1, 2) {
		l.started.CompareAndSwap(0, 2)
		return nil
	}
	l.world.mu.Lock()
	if l.world.listeners[l.id] == l {
		delete(l.world.listeners, l.id)
	}
	l.world.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()

	l.mu.Lock()
	edges := make([]*FunctionEdge, 0, len(l.edges))
	for e := range l.edges {
		edges = append(edges, e)
	}
	l.mu.Unlock()
	for _, e := range edges {
		e.Close()
	}
	l.ClearHandlers()
	return nil
}

// CreateEdgeTo pairs a new local edge with a new inbound edge on the
// listener at ta. Without a listener at ta the edge leads nowhere, the
// way a UDP edge to a silent host does.
func (l *FunctionEdgeListener) CreateEdgeTo(ta *TransportAddress, cb CreationCallback) {
	if !l.IsStarted() {
		cb(false, nil, NewEdgeError("create", ta, ErrNotStarted))
		return
	}
	if ta.Type() != TATypeFunction {
		cb(false, nil, NewEdgeError("create", ta, ErrTATypeMismatch))
		return
	}
	if !IsNotDenied(l.Authorizer(), ta) {
		cb(false, nil, NewEdgeError("create", ta, ErrTADenied))
		return
	}

	local := newFunctionEdge(l, FunctionTA(ta.Port()), false)
	remote := l.world.lookup(ta.Port())
	if remote != nil && remote.IsStarted() {
		if !IsNotDenied(remote.Authorizer(), l.ta) {
			local.Close()
			cb(false, nil, NewEdgeError("create", l.ta, ErrTADenied))
			return
		}
		peer := newFunctionEdge(remote, l.ta, true)
		local.partner.Store(peer)
		peer.partner.Store(local)
		remote.addEdge(peer)
		l.addEdge(local)
		remote.SendEdgeEvent(peer)
	} else {
		l.addEdge(local)
	}
	cb(true, local, nil)
}

func (l *FunctionEdgeListener) addEdge(e *FunctionEdge) {
	l.mu.Lock()
	l.edges[e] = struct{}{}
	l.mu.Unlock()
	if err := e.OnClose(func(Edge) {
		l.mu.Lock()
		delete(l.edges, e)
		l.mu.Unlock()
	}); err != nil {
		l.mu.Lock()
		delete(l.edges, e)
		l.mu.Unlock()
	}
}

// HandleEdgeSend queues payload on the partner's listener.
func (l *FunctionEdgeListener) HandleEdgeSend(from Edge, payload []byte) error {
	fe, ok := from.(*FunctionEdge)
	if !ok {
		return &SendError{Err: ErrTATypeMismatch}
	}
	to := fe.partner.Load()
	if to == nil {
		return nil
	}
	data := append([]byte(nil), payload...)
	select {
	case to.listener.queue <- functionDelivery{to: to, payload: data}:
		return nil
	default:
		return &SendError{Transient: true, Err: ErrQueueFull}
	}
}

func (l *FunctionEdgeListener) deliverLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		case d := <-l.queue:
			if l.dropped() {
				continue
			}
			if err := d.to.ReceivedPacket(d.payload); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "FunctionEdgeListener.deliverLoop",
					"edge":     d.to.String(),
					"error":    err.Error(),
				}).Debug("Dropping packet for closed edge")
			}
		}
	}
}

func (l *FunctionEdgeListener) dropped() bool {
	if l.lossProb <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.lossProb
}
