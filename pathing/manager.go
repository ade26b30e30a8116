package pathing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/edgenet/rpc"
	"github.com/opd-ai/edgenet/transport"
)

const (
	// DefaultRPCCheckInterval is how often pending handshakes are checked
	// for expiry.
	DefaultRPCCheckInterval = time.Second
	// DefaultSweepInterval is how often unannounced edges are swept.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultUnannouncedTimeout is how long a handshaken edge may wait
	// for its first data frame.
	DefaultUnannouncedTimeout = 5 * time.Minute

	pathingHandler = "sys:pathing"
	createMethod   = pathingHandler + ".create"
)

var errNoPhysical = errors.New("edge is not managed")

// Options configures a Manager.
type Options struct {
	Clock              clock.Clock
	Registry           *transport.Registry
	RPCTimeout         time.Duration
	RPCCheckInterval   time.Duration
	SweepInterval      time.Duration
	UnannouncedTimeout time.Duration
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		Clock:              clock.New(),
		RPCTimeout:         rpc.DefaultTimeout,
		RPCCheckInterval:   DefaultRPCCheckInterval,
		SweepInterval:      DefaultSweepInterval,
		UnannouncedTimeout: DefaultUnannouncedTimeout,
	}
}

type bindingKey struct {
	local, remote string
}

// physical is the bookkeeping for one underlying edge. All fields but
// edge and key are guarded by Manager.mu.
type physical struct {
	edge transport.Edge
	// key is the base address for shared outbound edges, empty otherwise
	key         string
	bindings    map[bindingKey]*Edge
	unannounced map[bindingKey]*Edge
	legacyEdge  *Edge
	// pending counts path creations that hold this edge open
	pending int
	closed  bool
}

func (p *physical) idle() bool {
	return !p.closed && p.pending == 0 && len(p.bindings) == 0 && len(p.unannounced) == 0
}

// Manager multiplexes path listeners over one underlying EdgeListener and
// shares one physical edge per remote address among outgoing paths.
type Manager struct {
	el       transport.EdgeListener
	opts     *Options
	clock    clock.Clock
	registry *transport.Registry
	pathRPC  *rpc.Manager
	rpc      *rpc.Manager

	mu        sync.Mutex
	listeners map[string]*Listener
	physicals map[transport.Edge]*physical
	shared    map[string]*physical
	creating  map[string][]func(*physical, error)

	lifeMu sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewManager takes over el's new edge events.
func NewManager(el transport.EdgeListener, opts *Options) *Manager {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RPCCheckInterval <= 0 {
		opts.RPCCheckInterval = DefaultRPCCheckInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.UnannouncedTimeout <= 0 {
		opts.UnannouncedTimeout = DefaultUnannouncedTimeout
	}
	m := &Manager{
		el:        el,
		opts:      opts,
		clock:     opts.Clock,
		registry:  opts.Registry,
		listeners: make(map[string]*Listener),
		physicals: make(map[transport.Edge]*physical),
		shared:    make(map[string]*physical),
		creating:  make(map[string][]func(*physical, error)),
	}
	m.pathRPC = rpc.NewManager("pathing", rpc.Options{Prefix: tag(codePathing), Timeout: opts.RPCTimeout, Clock: opts.Clock})
	m.rpc = rpc.NewManager("rpc", rpc.Options{Prefix: tag(codeRPC), Timeout: opts.RPCTimeout, Clock: opts.Clock})
	m.pathRPC.AddHandler(pathingHandler, rpc.HandlerFunc(m.handlePathingRPC))
	el.OnEdge(m.handleEdge)
	return m
}

// RPC returns the manager for application calls carried on physical
// edges.
func (m *Manager) RPC() *rpc.Manager { return m.rpc }

// Underlying returns the multiplexed listener.
func (m *Manager) Underlying() transport.EdgeListener { return m.el }

// CreatePath registers a listener at path. A missing leading slash is
// added.
func (m *Manager) CreatePath(path string) (*Listener, error) {
	path = normalize(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[path]; ok {
		return nil, fmt.Errorf("create path %s: %w", path, transport.ErrPathExists)
	}
	l := newListener(m, path)
	m.listeners[path] = l
	return l, nil
}

// CreateRootPath registers the listener for Root.
func (m *Manager) CreateRootPath() (*Listener, error) {
	return m.CreatePath(Root)
}

// CreateRandomPath registers Root if it is free, otherwise a random path.
func (m *Manager) CreateRandomPath() *Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := Root
	for {
		if _, ok := m.listeners[path]; !ok {
			break
		}
		path = fmt.Sprintf("/%d", rand.Uint32())
	}
	l := newListener(m, path)
	m.listeners[path] = l
	return l
}

// RemovePath unregisters path and stops its listener.
func (m *Manager) RemovePath(path string) {
	path = normalize(path)
	m.mu.Lock()
	l, ok := m.listeners[path]
	delete(m.listeners, path)
	m.mu.Unlock()
	if ok {
		_ = l.Stop()
	}
}

func (m *Manager) listener(path string) *Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listeners[path]
}

// Start starts the underlying listener and the timeout sweeps.
func (m *Manager) Start() error {
	if err := m.el.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.every(ctx, m.opts.RPCCheckInterval, m.CheckRPCTimeouts) })
	g.Go(func() error { return m.every(ctx, m.opts.SweepInterval, m.SweepUnannounced) })

	m.lifeMu.Lock()
	m.cancel, m.group = cancel, g
	m.lifeMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Start",
		"ta_type":  m.el.TAType().String(),
	}).Info("Path manager started")
	return nil
}

func (m *Manager) every(ctx context.Context, d time.Duration, fn func()) error {
	t := m.clock.Ticker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

// Stop ends the sweeps, closes unannounced edges and stops the
// underlying listener.
func (m *Manager) Stop() error {
	m.lifeMu.Lock()
	cancel, g := m.cancel, m.group
	m.cancel, m.group = nil, nil
	m.lifeMu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = multierr.Append(err, g.Wait())
	}
	for _, e := range m.unannouncedEdges(nil) {
		e.Close()
	}
	err = multierr.Append(err, m.el.Stop())

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Stop",
	}).Info("Path manager stopped")
	return err
}

// CheckRPCTimeouts expires overdue handshakes and application calls.
func (m *Manager) CheckRPCTimeouts() {
	m.pathRPC.CheckTimeouts()
	m.rpc.CheckTimeouts()
}

// SweepUnannounced closes handshaken edges that never carried data
// within the unannounced timeout.
func (m *Manager) SweepUnannounced() {
	now := m.clock.Now()
	stale := m.unannouncedEdges(func(e *Edge) bool {
		return now.Sub(e.CreatedAt()) > m.opts.UnannouncedTimeout
	})
	for _, e := range stale {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.SweepUnannounced",
			"edge":     e.String(),
		}).Info("Closing unannounced path edge")
		e.Close()
	}
}

func (m *Manager) unannouncedEdges(keep func(*Edge) bool) []*Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Edge
	for _, p := range m.physicals {
		for _, e := range p.unannounced {
			if keep == nil || keep(e) {
				out = append(out, e)
			}
		}
	}
	return out
}

// Unannounced returns the number of handshaken edges still waiting for
// data.
func (m *Manager) Unannounced() int {
	return len(m.unannouncedEdges(nil))
}

// handleEdge adopts an edge accepted by the underlying listener.
func (m *Manager) handleEdge(e transport.Edge) {
	m.adopt(e, "")
}

// adopt starts demultiplexing e. A non-empty key shares e among outgoing
// paths to that address.
func (m *Manager) adopt(e transport.Edge, key string) *physical {
	p := &physical{
		edge:        e,
		key:         key,
		bindings:    make(map[bindingKey]*Edge),
		unannounced: make(map[bindingKey]*Edge),
	}
	m.mu.Lock()
	m.physicals[e] = p
	if key != "" {
		m.shared[key] = p
	}
	m.mu.Unlock()

	if err := e.OnClose(func(transport.Edge) { m.physicalClosed(p) }); err != nil {
		m.physicalClosed(p)
		return p
	}
	e.Subscribe(transport.DataHandlerFunc(func(_ transport.Edge, data []byte) {
		m.demux(p, data)
	}))
	return p
}

func (m *Manager) physicalClosed(p *physical) {
	m.mu.Lock()
	if p.closed {
		m.mu.Unlock()
		return
	}
	p.closed = true
	delete(m.physicals, p.edge)
	if p.key != "" && m.shared[p.key] == p {
		delete(m.shared, p.key)
	}
	edges := make([]*Edge, 0, len(p.bindings)+len(p.unannounced))
	for _, e := range p.bindings {
		edges = append(edges, e)
	}
	for _, e := range p.unannounced {
		edges = append(edges, e)
	}
	m.mu.Unlock()

	m.pathRPC.FailEdge(p.edge)
	m.rpc.FailEdge(p.edge)
	for _, e := range edges {
		e.peerClosed.Store(true)
		e.Close()
	}
}

// detach runs when a path edge closes. The physical edge closes with its
// last path edge; otherwise the peer is told to close its side.
func (m *Manager) detach(e *Edge) {
	p := e.phys
	key := bindingKey{e.localPath, e.remotePath}
	m.mu.Lock()
	if p.bindings[key] == e {
		delete(p.bindings, key)
	}
	if p.unannounced[key] == e {
		delete(p.unannounced, key)
	}
	if p.legacyEdge == e {
		p.legacyEdge = nil
	}
	idle := p.idle()
	closed := p.closed
	m.mu.Unlock()

	if idle {
		p.edge.Close()
		return
	}
	if closed || e.legacy.Load() || e.peerClosed.Load() {
		return
	}
	frame, err := encodeAddressed(codeClose, e.localPath, e.remotePath, nil)
	if err != nil {
		return
	}
	if err := p.edge.Send(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.detach",
			"edge":     e.String(),
			"error":    err.Error(),
		}).Debug("Failed to send path close")
	}
}

// demux routes one frame arriving on a physical edge. Failures close the
// physical edge.
func (m *Manager) demux(p *physical, data []byte) {
	m.mu.Lock()
	legacy := p.legacyEdge
	m.mu.Unlock()
	if legacy != nil {
		legacy.deliver(data)
		return
	}

	code, rest, tagged, err := parseTag(data)
	if err == nil && !tagged {
		m.handleLegacy(p, data)
		return
	}
	if err == nil {
		switch code {
		case codePathing:
			err = m.pathRPC.HandleData(p.edge, rest)
		case codeRPC:
			err = m.rpc.HandleData(p.edge, rest)
		case codeData:
			var src, dst string
			var payload []byte
			if src, dst, payload, err = decodeAddressed(rest); err == nil {
				m.handlePathData(p, dst, src, payload)
			}
		case codeClose:
			var src, dst string
			if src, dst, _, err = decodeAddressed(rest); err == nil {
				m.handlePathClose(p, dst, src)
			}
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Manager.demux",
				"code":     code.String(),
			}).Debug("Ignoring unknown pathing frame")
		}
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.demux",
			"edge":     p.edge.String(),
			"error":    err.Error(),
		}).Warn("Closing edge after bad pathing frame")
		p.edge.Close()
	}
}

// handleLegacy turns an edge from a peer that does not speak pathing into
// a Root path edge. An untagged reply on a Root edge we dialed switches
// that edge to raw payloads.
func (m *Manager) handleLegacy(p *physical, data []byte) {
	pel := m.listener(Root)

	m.mu.Lock()
	if p.closed {
		m.mu.Unlock()
		return
	}
	if e := p.bindings[bindingKey{Root, Root}]; e != nil && !e.IsInbound() &&
		len(p.bindings) == 1 && len(p.unannounced) == 0 {
		e.legacy.Store(true)
		p.legacyEdge = e
		m.mu.Unlock()
		e.deliver(data)
		return
	}
	if len(p.bindings) > 0 || len(p.unannounced) > 0 {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleLegacy",
			"edge":     p.edge.String(),
		}).Debug("Dropping untagged frame on pathing edge")
		return
	}
	if pel == nil || !pel.IsStarted() {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleLegacy",
			"edge":     p.edge.String(),
		}).Debug("No root path, closing legacy edge")
		p.edge.Close()
		return
	}
	e := newEdge(m, p, Root, Root, true, p.edge.IsInbound())
	p.legacyEdge = e
	p.bindings[bindingKey{Root, Root}] = e
	m.mu.Unlock()

	if err := pel.announce(e); err != nil {
		e.Close()
		return
	}
	e.deliver(data)
}

// rootBinding creates the Root to Root edge a peer opens by sending data
// without a handshake. It returns nil when no started Root listener
// exists. The caller holds m.mu.
func (m *Manager) rootBinding(p *physical) *Edge {
	pel := m.listeners[Root]
	if pel == nil || !pel.IsStarted() || p.closed || p.legacyEdge != nil {
		return nil
	}
	e := newEdge(m, p, Root, Root, false, true)
	p.bindings[bindingKey{Root, Root}] = e
	return e
}

func (m *Manager) handlePathData(p *physical, local, remote string, payload []byte) {
	key := bindingKey{local, remote}
	m.mu.Lock()
	e := p.bindings[key]
	announce := false
	if e == nil {
		if e = p.unannounced[key]; e != nil {
			delete(p.unannounced, key)
			p.bindings[key] = e
			announce = true
		} else if local == Root && remote == Root {
			e = m.rootBinding(p)
			announce = e != nil
		}
	}
	idle := e == nil && p.idle()
	m.mu.Unlock()

	if e == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handlePathData",
			"local":    local,
			"remote":   remote,
		}).Debug("Data for unknown path binding")
		if idle {
			p.edge.Close()
		}
		return
	}
	if announce {
		pel := m.listener(local)
		if pel == nil {
			e.Close()
			return
		}
		if err := pel.announce(e); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.handlePathData",
				"path":     local,
				"error":    err.Error(),
			}).Debug("Path listener refused edge")
			e.Close()
			return
		}
	}
	e.deliver(payload)
}

func (m *Manager) handlePathClose(p *physical, local, remote string) {
	key := bindingKey{local, remote}
	m.mu.Lock()
	e := p.bindings[key]
	if e == nil {
		e = p.unannounced[key]
	}
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.peerClosed.Store(true)
	e.Close()
}

// handlePathingRPC answers sys:pathing.create(callerPath, calleePath).
func (m *Manager) handlePathingRPC(call *rpc.Call) (any, error) {
	if call.Method != "create" {
		return nil, fmt.Errorf("%w: %s.%s", rpc.ErrNoHandler, pathingHandler, call.Method)
	}
	remote, err := call.StringArg(0)
	if err != nil {
		return nil, err
	}
	local, err := call.StringArg(1)
	if err != nil {
		return nil, err
	}
	remote, local = normalize(remote), normalize(local)

	pel := m.listener(local)
	if pel == nil || !pel.IsStarted() {
		return nil, fmt.Errorf("path listener %s not started", local)
	}

	key := bindingKey{local, remote}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.physicals[call.Edge]
	if p == nil || p.closed {
		return nil, errNoPhysical
	}
	if p.legacyEdge != nil || p.bindings[key] != nil || p.unannounced[key] != nil {
		return nil, fmt.Errorf("bind %s to %s: %w", remote, local, transport.ErrPathExists)
	}
	p.unannounced[key] = newEdge(m, p, local, remote, false, true)
	return true, nil
}

// acquire hands fn a shared physical edge to base, creating it if needed.
// Concurrent requests for the same address wait on one creation. A
// physical edge passed to fn has its pending count raised; the caller
// must call release.
func (m *Manager) acquire(base *transport.TransportAddress, fn func(*physical, error)) {
	key := base.String()
	m.mu.Lock()
	if p := m.shared[key]; p != nil && !p.closed {
		p.pending++
		m.mu.Unlock()
		fn(p, nil)
		return
	}
	if waiters, ok := m.creating[key]; ok {
		m.creating[key] = append(waiters, fn)
		m.mu.Unlock()
		return
	}
	m.creating[key] = []func(*physical, error){fn}
	m.mu.Unlock()

	m.el.CreateEdgeTo(base, func(ok bool, e transport.Edge, err error) {
		var p *physical
		if ok {
			p = m.adopt(e, key)
		}
		m.mu.Lock()
		waiters := m.creating[key]
		delete(m.creating, key)
		if p != nil {
			p.pending += len(waiters)
		}
		m.mu.Unlock()
		for _, w := range waiters {
			if p == nil {
				w(nil, err)
			} else {
				w(p, nil)
			}
		}
	})
}

// release drops a pending hold and closes p if nothing else uses it.
func (m *Manager) release(p *physical) {
	m.mu.Lock()
	p.pending--
	idle := p.idle()
	m.mu.Unlock()
	if idle {
		p.edge.Close()
	}
}

// createPath runs the handshake for l to remotePath at base.
func (m *Manager) createPath(l *Listener, ta, base *transport.TransportAddress, remotePath string, cb transport.CreationCallback) {
	m.acquire(base, func(p *physical, err error) {
		if err != nil {
			cb(false, nil, err)
			return
		}
		args := []any{l.path, remotePath}
		m.pathRPC.Invoke(context.Background(), p.edge, createMethod, args, func(_ any, err error) {
			if err != nil {
				m.release(p)
				cb(false, nil, transport.NewEdgeError("create", ta, err))
				return
			}
			key := bindingKey{l.path, remotePath}
			m.mu.Lock()
			if p.closed || p.bindings[key] != nil {
				m.mu.Unlock()
				m.release(p)
				cb(false, nil, transport.NewEdgeError("create", ta, transport.ErrPathExists))
				return
			}
			e := newEdge(m, p, l.path, remotePath, false, false)
			p.bindings[key] = e
			p.pending--
			m.mu.Unlock()

			l.track(e)
			cb(true, e, nil)
		})
	})
}

// createRoot opens a dedicated physical edge for Root to Root traffic,
// which needs no handshake. The peer binds its side when the first data
// frame arrives.
func (m *Manager) createRoot(l *Listener, base *transport.TransportAddress, cb transport.CreationCallback) {
	m.el.CreateEdgeTo(base, func(ok bool, pe transport.Edge, err error) {
		if !ok {
			cb(false, nil, err)
			return
		}
		p := m.adopt(pe, "")
		m.mu.Lock()
		if p.closed {
			m.mu.Unlock()
			cb(false, nil, transport.NewEdgeError("create", base, transport.ErrEdgeClosed))
			return
		}
		e := newEdge(m, p, Root, Root, false, false)
		p.bindings[bindingKey{Root, Root}] = e
		m.mu.Unlock()

		l.track(e)
		cb(true, e, nil)
	})
}
