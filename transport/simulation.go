package transport

import (
	"container/heap"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SimulationWorld is a single threaded, virtual time network of
// simulation listeners. Nothing happens until the owner calls Step or
// RunUntilIdle, and all callbacks run on that caller's goroutine.
type SimulationWorld struct {
	mu        sync.Mutex
	listeners map[int]*SimulationEdgeListener
	latency   map[[2]int]time.Duration
	registry  *Registry
	rng       *rand.Rand

	// DefaultLatency applies to pairs without an explicit latency.
	DefaultLatency time.Duration

	now    time.Duration
	seq    uint64
	events eventQueue
}

// NewSimulationWorld creates a world whose random choices derive from seed.
func NewSimulationWorld(seed uint64, reg *Registry) *SimulationWorld {
	return &SimulationWorld{
		listeners: make(map[int]*SimulationEdgeListener),
		latency:   make(map[[2]int]time.Duration),
		registry:  reg,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetLatency sets the one way delay between two listeners in both
// directions.
func (w *SimulationWorld) SetLatency(a, b int, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latency[[2]int{a, b}] = d
	w.latency[[2]int{b, a}] = d
}

func (w *SimulationWorld) delay(from, to int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d, ok := w.latency[[2]int{from, to}]; ok {
		return d
	}
	return w.DefaultLatency
}

// Now returns the current virtual time.
func (w *SimulationWorld) Now() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// Schedule runs fn after d of virtual time.
func (w *SimulationWorld) Schedule(d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	heap.Push(&w.events, &simEvent{at: w.now + d, seq: w.seq, fn: fn})
}

// Step runs the earliest pending event and reports whether there was one.
func (w *SimulationWorld) Step() bool {
	w.mu.Lock()
	if w.events.Len() == 0 {
		w.mu.Unlock()
		return false
	}
	ev := heap.Pop(&w.events).(*simEvent)
	w.now = ev.at
	w.mu.Unlock()

	ev.fn()
	return true
}

// RunUntilIdle runs events until none remain and returns how many ran.
func (w *SimulationWorld) RunUntilIdle() int {
	n := 0
	for w.Step() {
		n++
	}
	return n
}

// Pending returns the number of scheduled events.
func (w *SimulationWorld) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events.Len()
}

func (w *SimulationWorld) lookup(id int) *SimulationEdgeListener {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listeners[id]
}

func (w *SimulationWorld) lose(prob float64) bool {
	if prob <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.Float64() < prob
}

type simEvent struct {
	at  time.Duration
	seq uint64
	fn  func()
}

type eventQueue []*simEvent

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(*simEvent)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// SimulationEdge is one side of a simulated link.
type SimulationEdge struct {
	BaseEdge
	listener *SimulationEdgeListener
	remote   *TransportAddress
	remoteID int
	delay    time.Duration
	partner  atomic.Pointer[SimulationEdge]
}

func newSimulationEdge(l *SimulationEdgeListener, remoteID int, inbound bool, delay time.Duration) *SimulationEdge {
	e := &SimulationEdge{
		listener: l,
		remote:   NewSimulationTA(l.TAType(), remoteID),
		remoteID: remoteID,
		delay:    delay,
	}
	e.Init(e, l, inbound, l.world.registry, nil)
	return e
}

// LocalTA returns the owning listener's address.
func (e *SimulationEdge) LocalTA() *TransportAddress { return e.listener.ta }

// RemoteTA returns the partner's address.
func (e *SimulationEdge) RemoteTA() *TransportAddress { return e.remote }

// TAType returns the listener's simulation type.
func (e *SimulationEdge) TAType() TAType { return e.listener.TAType() }

// Delay returns the one way latency of the link.
func (e *SimulationEdge) Delay() time.Duration { return e.delay }

// Close closes both sides of the link.
func (e *SimulationEdge) Close() bool {
	if !e.BaseEdge.Close() {
		return false
	}
	if p := e.partner.Load(); p != nil {
		p.Close()
	}
	return true
}

// push delivers payload now or after the link delay.
func (e *SimulationEdge) push(payload []byte) {
	deliver := func() {
		if err := e.ReceivedPacket(payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SimulationEdge.push",
				"edge":     e.String(),
				"error":    err.Error(),
			}).Debug("Dropping packet for closed edge")
		}
	}
	if e.delay <= 0 {
		deliver()
		return
	}
	e.listener.world.Schedule(e.delay, deliver)
}

// SimulationEdgeListener is the listener for b.s addresses.
type SimulationEdgeListener struct {
	BaseListener
	world    *SimulationWorld
	id       int
	ta       *TransportAddress
	lossProb float64
	useDelay bool

	started atomic.Int32
	mu      sync.Mutex
	edges   map[*SimulationEdge]struct{}
}

// NewSimulationEdgeListener creates a listener with the given id. When
// useDelay is false every link delivers synchronously.
func NewSimulationEdgeListener(world *SimulationWorld, id int, lossProb float64, auth Authorizer, useDelay bool) *SimulationEdgeListener {
	if auth == nil {
		auth = ConstantAuthorizer{Decision: DecisionAllow}
	}
	l := &SimulationEdgeListener{
		world:    world,
		id:       id,
		ta:       NewSimulationTA(TATypeSimulation, id),
		lossProb: lossProb,
		useDelay: useDelay,
		edges:    make(map[*SimulationEdge]struct{}),
	}
	l.InitListener(TATypeSimulation, auth)
	return l
}

// ID returns the listener's simulation id.
func (l *SimulationEdgeListener) ID() int { return l.id }

// LocalTAs returns b.s://<id>.
func (l *SimulationEdgeListener) LocalTAs() []*TransportAddress {
	return []*TransportAddress{l.ta}
}

// IsStarted reports whether the listener is running.
func (l *SimulationEdgeListener) IsStarted() bool { return l.started.Load() == 1 }

// Count returns the number of live edges.
func (l *SimulationEdgeListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.edges)
}

// Start registers the listener in its world.
func (l *SimulationEdgeListener) Start() error {
	if !l.started.CompareAndSwap(0, 1) {
		return NewEdgeError("start", l.ta, ErrAlreadyStarted)
	}
	l.world.mu.Lock()
	l.world.listeners[l.id] = l
	l.world.mu.Unlock()
	return nil
}

// Stop unregisters the listener and closes its edges.
func (l *SimulationEdgeListener) Stop() error {
	if !l.started.CompareAndSwap(1, 2) {
		l.started.CompareAndSwap(0, 2)
		return nil
	}
	l.world.mu.Lock()
	if l.world.listeners[l.id] == l {
		delete(l.world.listeners, l.id)
	}
	l.world.mu.Unlock()

	l.mu.Lock()
	edges := make([]*SimulationEdge, 0, len(l.edges))
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

// CreateEdgeTo links a new local edge with a new inbound edge on the
// listener at ta. The callback runs synchronously.
func (l *SimulationEdgeListener) CreateEdgeTo(ta *TransportAddress, cb CreationCallback) {
	if !l.IsStarted() {
		cb(false, nil, NewEdgeError("create", ta, ErrNotStarted))
		return
	}
	if ta.Type() != l.TAType() {
		cb(false, nil, NewEdgeError("create", ta, ErrTATypeMismatch))
		return
	}
	if !IsNotDenied(l.Authorizer(), ta) {
		cb(false, nil, NewEdgeError("create", ta, ErrTADenied))
		return
	}

	remoteID := ta.SimulationID()
	var delay time.Duration
	if l.useDelay {
		delay = l.world.delay(l.id, remoteID)
	}

	remote := l.world.lookup(remoteID)
	if remote != nil && remote.IsStarted() && !IsNotDenied(remote.Authorizer(), l.ta) {
		cb(false, nil, NewEdgeError("create", l.ta, ErrTADenied))
		return
	}

	local := newSimulationEdge(l, remoteID, false, delay)
	l.addEdge(local)
	if remote != nil && remote.IsStarted() {
		peer := newSimulationEdge(remote, l.id, true, delay)
		remote.addEdge(peer)
		local.partner.Store(peer)
		peer.partner.Store(local)
		remote.SendEdgeEvent(peer)
	}
	cb(true, local, nil)
}

func (l *SimulationEdgeListener) addEdge(e *SimulationEdge) {
	remove := func(Edge) {
		l.mu.Lock()
		delete(l.edges, e)
		l.mu.Unlock()
	}
	l.mu.Lock()
	l.edges[e] = struct{}{}
	l.mu.Unlock()
	if err := e.OnClose(remove); err != nil {
		remove(e)
	}
}

// HandleEdgeSend applies loss and pushes payload to the partner.
func (l *SimulationEdgeListener) HandleEdgeSend(from Edge, payload []byte) error {
	se, ok := from.(*SimulationEdge)
	if !ok {
		return &SendError{Err: ErrTATypeMismatch}
	}
	if l.world.lose(l.lossProb) {
		return nil
	}
	if to := se.partner.Load(); to != nil {
		to.push(append([]byte(nil), payload...))
	}
	return nil
}
