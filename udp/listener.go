package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/edgenet/limits"
	"github.com/opd-ai/edgenet/transport"
)

// DefaultReadTimeout bounds each socket read so the receive loop notices
// a stop request even when no datagram arrives.
const DefaultReadTimeout = 500 * time.Millisecond

// Options configures an EdgeListener.
type Options struct {
	// Port to bind; 0 picks a free port.
	Port int
	// BindIP restricts the socket to one address. Nil binds all IPv4
	// interfaces.
	BindIP net.IP
	// AdvertiseIPs replaces the interface scan when building LocalTAs.
	AdvertiseIPs []net.IP
	Authorizer   transport.Authorizer
	// SendQueueSize is the capacity of the outgoing datagram queue.
	SendQueueSize int
	ReadTimeout   time.Duration
	// Registry numbers the edges; nil uses transport.DefaultRegistry.
	Registry *transport.Registry
	Clock    clock.Clock
	// Metrics receives the listener counters when set.
	Metrics prometheus.Registerer
	// OnLocalTAsChanged is called from the receive goroutine after a peer
	// reports a new view of our address.
	OnLocalTAsChanged func(tas []*transport.TransportAddress)
}

// NewOptions returns options with every default filled in.
func NewOptions() *Options {
	return &Options{
		SendQueueSize: DefaultSendQueueSize,
		ReadTimeout:   DefaultReadTimeout,
		Clock:         clock.New(),
	}
}

// EdgeListener multiplexes many edges over one UDP socket.
//
// A single receive goroutine owns the id tables. Other goroutines hand it
// work through a lock-free action stack and wake it with a Null datagram
// sent to the socket over loopback. A second goroutine owns all writes.
type EdgeListener struct {
	transport.BaseListener

	opts     *Options
	conn     net.PacketConn
	wakeConn net.Conn
	port     int
	localTA  *transport.TransportAddress
	clock    clock.Clock
	ids      *idGenerator
	metrics  *listenerMetrics
	sender   *sendServer
	tempErr  tec.TempErrCatcher

	state   atomic.Pointer[State]
	actions actionStack

	// owned by the receive goroutine
	localIDs  map[int32]*Edge
	remoteIDs map[int32][]*Edge

	finishOnce sync.Once
	done       chan struct{}
}

// NewEdgeListener binds the socket described by opts. The listener does
// not read until Start.
func NewEdgeListener(opts *Options) (*EdgeListener, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ids, err := newIDGenerator()
	if err != nil {
		return nil, err
	}

	network, bind := "udp4", ""
	if opts.BindIP != nil {
		bind = opts.BindIP.String()
		if opts.BindIP.To4() == nil {
			network = "udp6"
		}
	}
	// No address reuse: a second listener on the same port must fail.
	conn, err := net.ListenPacket(network, net.JoinHostPort(bind, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("bind udp listener: %w", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	wakeConn, err := net.Dial(network, net.JoinHostPort(wakeHost(opts.BindIP), strconv.Itoa(port)))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial wake socket: %w", err)
	}

	metrics := newListenerMetrics(opts.Metrics, port)
	l := &EdgeListener{
		opts:      opts,
		conn:      conn,
		wakeConn:  wakeConn,
		port:      port,
		clock:     opts.Clock,
		ids:       ids,
		metrics:   metrics,
		sender:    newSendServer(conn, opts.SendQueueSize, metrics),
		localIDs:  make(map[int32]*Edge),
		remoteIDs: make(map[int32][]*Edge),
		done:      make(chan struct{}),
	}
	l.InitListener(transport.TATypeUDP, opts.Authorizer)

	tas := buildLocalTAs(opts, port)
	l.localTA = guessLocalTA(tas)
	l.state.Store(&State{RunState: StateNotStarted, LocalTAs: tas})

	logrus.WithFields(logrus.Fields{
		"function": "NewEdgeListener",
		"port":     port,
		"local_ta": l.localTA.String(),
	}).Debug("UDP edge listener bound")

	return l, nil
}

func wakeHost(bind net.IP) string {
	if bind == nil || bind.IsUnspecified() {
		return "127.0.0.1"
	}
	return bind.String()
}

func buildLocalTAs(opts *Options, port int) []*transport.TransportAddress {
	ips := opts.AdvertiseIPs
	if len(ips) == 0 {
		ips = interfaceIPs(opts.BindIP)
	}
	tas := make([]*transport.TransportAddress, 0, len(ips))
	for _, ip := range ips {
		tas = append(tas, transport.NewUDPTA(&net.UDPAddr{IP: ip, Port: port}))
	}
	return tas
}

// interfaceIPs lists usable IPv4 interface addresses, loopback last.
func interfaceIPs(bind net.IP) []net.IP {
	if bind != nil && !bind.IsUnspecified() {
		return []net.IP{bind}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "interfaceIPs",
			"error":    err.Error(),
		}).Warn("Failed to list interface addresses")
	}
	var public, loopback []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLinkLocalUnicast() {
			continue
		}
		if ip.IsLoopback() {
			loopback = append(loopback, ip)
		} else {
			public = append(public, ip)
		}
	}
	ips := append(public, loopback...)
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	return ips
}

func guessLocalTA(tas []*transport.TransportAddress) *transport.TransportAddress {
	for _, ta := range tas {
		ip := ta.IP()
		if ip != nil && !ip.IsLoopback() && !ip.IsUnspecified() {
			return ta
		}
	}
	if len(tas) > 0 {
		return tas[0]
	}
	return transport.NewUDPTA(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
}

func (l *EdgeListener) guessLocalTA() *transport.TransportAddress { return l.localTA }

// Port returns the bound UDP port.
func (l *EdgeListener) Port() int { return l.port }

// LocalAddr returns the bound socket address.
func (l *EdgeListener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// LocalTAs returns our addresses, those peers reported first.
func (l *EdgeListener) LocalTAs() []*transport.TransportAddress {
	return l.State().NatTAs()
}

// IsStarted reports whether the listener is running.
func (l *EdgeListener) IsStarted() bool {
	return l.State().RunState == StateRunning
}

// Count returns the number of live edges.
func (l *EdgeListener) Count() int {
	return l.State().EdgeCount
}

// Start launches the receive and send goroutines.
func (l *EdgeListener) Start() error {
	err := l.updateState(func(s *State) error {
		if s.RunState != StateNotStarted {
			return transport.NewEdgeError("start", l.localTA, transport.ErrAlreadyStarted)
		}
		s.RunState = StateRunning
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return l.listen()
	})
	g.Go(func() error {
		return l.sender.run(gctx)
	})
	go func() {
		if err := g.Wait(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EdgeListener.Start",
				"port":     l.port,
				"error":    err.Error(),
			}).Error("UDP edge listener stopped on fatal error")
		}
		cancel()
		l.finish()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "EdgeListener.Start",
		"port":     l.port,
	}).Info("UDP edge listener started")
	return nil
}

// Stop closes every edge, sending EdgeClosed to each peer, and waits for
// the socket to close. It is safe to call more than once but must not be
// called from an edge or listener handler, which run on the receive
// goroutine.
func (l *EdgeListener) Stop() error {
	var notStarted bool
	_ = l.updateState(func(s *State) error {
		notStarted = false
		switch s.RunState {
		case StateNotStarted:
			notStarted = true
			s.RunState = StateStopping
		case StateRunning:
			s.RunState = StateStopping
		}
		return nil
	})
	if notStarted {
		l.finish()
	} else {
		l.wake()
	}
	<-l.done
	l.ClearHandlers()

	logrus.WithFields(logrus.Fields{
		"function": "EdgeListener.Stop",
		"port":     l.port,
	}).Info("UDP edge listener stopped")
	return nil
}

// Done is closed once the socket is closed.
func (l *EdgeListener) Done() <-chan struct{} { return l.done }

func (l *EdgeListener) finish() {
	l.finishOnce.Do(func() {
		l.wakeConn.Close()
		l.conn.Close()
		_ = l.updateState(func(s *State) error {
			s.RunState = StateFinished
			return nil
		})
		l.runActions(false)
		close(l.done)
	})
}

// wake makes a blocked read return so pending actions run promptly.
func (l *EdgeListener) wake() {
	if _, err := l.wakeConn.Write(nullDatagram()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.wake",
			"error":    err.Error(),
		}).Debug("Failed to wake receive loop")
	}
}

func (l *EdgeListener) runActions(owner bool) {
	for _, a := range l.actions.drain() {
		a.run(l, owner)
	}
}

// listen is the receive goroutine.
func (l *EdgeListener) listen() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("receive loop panic: %v", r)
		}
		if err != nil {
			_ = l.updateState(func(s *State) error {
				if s.RunState == StateRunning {
					s.RunState = StateStopping
				}
				return nil
			})
		}
		l.runActions(true)
		l.closeAllEdges()
	}()

	buf := make([]byte, limits.MaxDatagram)
	for l.IsStarted() {
		l.runActions(true)
		if err := l.conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)); err != nil && errors.Is(err, net.ErrClosed) {
			return nil
		}
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if fatal, ferr := l.classifyReadError(err); fatal {
				return ferr
			}
			continue
		}
		l.tempErr.Reset()
		from, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		l.processPacket(buf[:n], from)
	}
	return nil
}

// classifyReadError reports whether err ends the receive loop, and the
// error to surface if it does.
func (l *EdgeListener) classifyReadError(err error) (bool, error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	if errors.Is(err, net.ErrClosed) {
		return true, nil
	}
	if l.tempErr.IsTemporary(err) {
		return false, nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.listen",
			"port":     l.port,
			"error":    err.Error(),
		}).Warn("Socket read error")
		return false, nil
	}
	return true, err
}

func (l *EdgeListener) processPacket(data []byte, from *net.UDPAddr) {
	l.metrics.datagramsIn.Inc()
	h, ok := parseHeader(data)
	if !ok {
		return
	}
	body := data[HeaderSize:]

	var (
		code ControlCode
		dict map[string]string
	)
	if h.isControl() {
		var err error
		code, dict, err = decodeControl(body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EdgeListener.processPacket",
				"from":     from.String(),
				"error":    err.Error(),
			}).Debug("Dropping malformed control datagram")
			return
		}
		if code == ControlNull {
			return
		}
	}

	localID := h.localID()
	if localID == 0 {
		if h.isControl() {
			l.handleControlToUnknown(h, code, from)
			return
		}
		l.handleNewEdge(h.Sender, body, from)
		return
	}

	e, ok := l.localIDs[localID]
	if !ok || h.Sender == 0 {
		l.handleMismatch(h, code, from)
		return
	}
	switch prev := e.TrySetRemoteID(h.Sender); {
	case prev == 0:
		l.remoteIDs[h.Sender] = append(l.remoteIDs[h.Sender], e)
	case prev != h.Sender:
		l.handleMismatch(h, code, from)
		return
	}

	if h.isControl() {
		l.handleControl(e, code, dict)
		return
	}
	l.handleData(e, body, from)
}

// handleNewEdge answers a datagram addressed to id 0: a peer opening an
// edge to us.
func (l *EdgeListener) handleNewEdge(remoteID int32, body []byte, from *net.UDPAddr) {
	if remoteID == 0 {
		return
	}
	rta := transport.NewUDPTA(from)
	if !transport.IsNotDenied(l.Authorizer(), rta) {
		logrus.WithFields(logrus.Fields{
			"function":  "EdgeListener.handleNewEdge",
			"remote_ta": rta.String(),
		}).Debug("Denied incoming edge")
		l.replyClosed(from, remoteID, 0)
		return
	}

	e := l.createEdge(remoteID, from)
	l.SendEdgeEvent(e)
	if err := e.ReceivedPacket(append([]byte(nil), body...)); err != nil {
		if l.removeEdge(e) {
			l.sendControl(e, ControlEdgeClosed, nil)
		}
		e.Close()
	}
}

// handleControlToUnknown handles control addressed to id 0, which a peer
// sends when it never learned our id for the edge.
func (l *EdgeListener) handleControlToUnknown(h header, code ControlCode, from *net.UDPAddr) {
	if code != ControlEdgeClosed || h.Sender == 0 {
		return
	}
	for _, e := range append([]*Edge(nil), l.remoteIDs[h.Sender]...) {
		if !sameEndpoint(e.End(), from) {
			continue
		}
		l.removeEdge(e)
		l.RequestClose(e, "remote edge closed")
	}
}

// handleMismatch tells the sender that the ids it used name no edge here.
// It never answers EdgeClosed or Null, so two sides cannot ping-pong.
func (l *EdgeListener) handleMismatch(h header, code ControlCode, from *net.UDPAddr) {
	l.metrics.mismatches.Inc()
	logrus.WithFields(logrus.Fields{
		"function":  "EdgeListener.handleMismatch",
		"from":      from.String(),
		"recipient": h.localID(),
		"sender":    h.Sender,
	}).Debug("Datagram does not match a live edge")
	if h.Sender == 0 {
		return
	}
	if h.isControl() && code != ControlEdgeDataAnnounce {
		return
	}
	l.replyClosed(from, h.Sender, h.localID())
}

func (l *EdgeListener) replyClosed(to *net.UDPAddr, remoteID, localID int32) {
	body, err := encodeControl(ControlEdgeClosed, nil)
	if err != nil {
		return
	}
	l.sender.enqueue(datagram{
		to:        to,
		recipient: controlRecipient(remoteID),
		sender:    localID,
		payload:   body,
	})
}

func (l *EdgeListener) handleControl(e *Edge, code ControlCode, dict map[string]string) {
	l.metrics.controlIn.Inc()
	switch code {
	case ControlEdgeClosed:
		l.removeEdge(e)
		l.RequestClose(e, "remote edge closed")
	case ControlEdgeDataAnnounce:
		s, ok := dict[announceRemoteTA]
		if !ok {
			return
		}
		ta, err := transport.ParseTA(s)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EdgeListener.handleControl",
				"value":    s,
				"error":    err.Error(),
			}).Debug("Ignoring bad address in announce")
			return
		}
		if e.setPeerViewOfLocalTA(ta) {
			l.UpdateLocalTAs(e, ta)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.handleControl",
			"code":     code.String(),
		}).Debug("Ignoring unknown control code")
	}
}

func (l *EdgeListener) handleData(e *Edge, body []byte, from *net.UDPAddr) {
	if !l.checkEndValidity(e, from) {
		return
	}
	if err := e.ReceivedPacket(append([]byte(nil), body...)); err != nil {
		if errors.Is(err, transport.ErrEdgeClosed) && l.removeEdge(e) {
			l.sendControl(e, ControlEdgeClosed, nil)
		}
	}
}

// checkEndValidity follows a peer whose NAT mapping moved. When the new
// endpoint is allowed the edge is re-pointed and the peer is told how we
// see it; otherwise the edge is closed. It reports whether the datagram
// should still be delivered.
func (l *EdgeListener) checkEndValidity(e *Edge, from *net.UDPAddr) bool {
	if sameEndpoint(e.End(), from) {
		return true
	}
	rta := transport.NewUDPTA(from)
	fields := logrus.Fields{
		"function": "EdgeListener.checkEndValidity",
		"edge":     e.Number(),
		"old":      e.RemoteTA().String(),
		"new":      rta.String(),
	}
	if !transport.IsNotDenied(l.Authorizer(), rta) {
		logrus.WithFields(fields).Info("Closing edge whose endpoint moved to a denied address")
		l.removeEdge(e)
		l.sendControl(e, ControlEdgeClosed, nil)
		e.Close()
		return false
	}

	e.setEnd(from)
	l.metrics.natRemaps.Inc()
	logrus.WithFields(fields).Info("Edge endpoint moved")
	l.sendControl(e, ControlEdgeDataAnnounce, map[string]string{
		announceRemoteTA: rta.String(),
		announceLocalTA:  e.LocalTA().String(),
	})
	return true
}

// createEdge allocates an id and registers a new edge. Receive goroutine
// only.
func (l *EdgeListener) createEdge(remoteID int32, end *net.UDPAddr) *Edge {
	id := l.ids.next(func(id int32) bool {
		_, used := l.localIDs[id]
		return used
	})
	e := newEdge(l, id, remoteID, end)
	l.localIDs[id] = e
	if remoteID != 0 {
		l.remoteIDs[remoteID] = append(l.remoteIDs[remoteID], e)
	}
	if err := e.OnClose(func(transport.Edge) {
		l.actions.push(closeAction{e: e})
		l.wake()
	}); err != nil {
		l.actions.push(closeAction{e: e})
	}

	point := transport.NatDataPoint{
		Kind:       transport.NatEdgeCreated,
		At:         l.clock.Now(),
		EdgeNumber: e.Number(),
		RemoteTA:   e.RemoteTA(),
	}
	_ = l.updateState(func(s *State) error {
		s.EdgeCount++
		s.NatHistory = s.NatHistory.Add(point)
		return nil
	})
	l.metrics.edges.Inc()

	logrus.WithFields(logrus.Fields{
		"function":  "EdgeListener.createEdge",
		"id":        id,
		"remote_id": remoteID,
		"remote_ta": e.RemoteTA().String(),
	}).Debug("Created UDP edge")
	return e
}

// removeEdge drops e from the id tables and reports whether it was there.
// Receive goroutine only.
func (l *EdgeListener) removeEdge(e *Edge) bool {
	if cur, ok := l.localIDs[e.id]; !ok || cur != e {
		return false
	}
	delete(l.localIDs, e.id)
	if rid := e.RemoteID(); rid != 0 {
		list := l.remoteIDs[rid]
		for i, x := range list {
			if x == e {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(l.remoteIDs, rid)
		} else {
			l.remoteIDs[rid] = list
		}
	}

	point := transport.NatDataPoint{
		Kind:       transport.NatEdgeClosed,
		At:         l.clock.Now(),
		EdgeNumber: e.Number(),
		RemoteTA:   e.RemoteTA(),
	}
	_ = l.updateState(func(s *State) error {
		s.EdgeCount--
		s.NatHistory = s.NatHistory.Add(point)
		return nil
	})
	l.metrics.edges.Dec()
	return true
}

func (l *EdgeListener) edgeList() []*Edge {
	out := make([]*Edge, 0, len(l.localIDs))
	for _, e := range l.localIDs {
		out = append(out, e)
	}
	return out
}

func (l *EdgeListener) closeAllEdges() {
	for _, e := range l.edgeList() {
		l.removeEdge(e)
		l.sendControl(e, ControlEdgeClosed, nil)
		e.Close()
	}
}

// sendControl queues a control datagram for e's peer. The peer id is 0
// when it was never learned, which the peer resolves by endpoint.
func (l *EdgeListener) sendControl(e *Edge, code ControlCode, dict map[string]string) {
	body, err := encodeControl(code, dict)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.sendControl",
			"code":     code.String(),
			"error":    err.Error(),
		}).Warn("Failed to encode control datagram")
		return
	}
	if !l.sender.enqueue(datagram{
		to:        e.End(),
		recipient: controlRecipient(e.RemoteID()),
		sender:    e.id,
		payload:   body,
	}) {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.sendControl",
			"code":     code.String(),
			"edge":     e.Number(),
		}).Debug("Send queue full, control datagram dropped")
	}
}

// HandleEdgeSend queues payload for the peer of from. A full queue is a
// transient SendError; an oversized payload is permanent.
func (l *EdgeListener) HandleEdgeSend(from transport.Edge, payload []byte) error {
	e, ok := from.(*Edge)
	if !ok || e.listener != l {
		return &transport.SendError{Err: transport.ErrTATypeMismatch}
	}
	if err := limits.ValidateEdgePayload(payload); err != nil {
		return &transport.SendError{Err: err}
	}
	d := datagram{
		to:        e.End(),
		recipient: e.RemoteID(),
		sender:    e.id,
		payload:   append([]byte(nil), payload...),
	}
	if !l.sender.enqueue(d) {
		return &transport.SendError{Transient: true, Err: transport.ErrQueueFull}
	}
	return nil
}

// CreateEdgeTo opens an edge to ta. The callback runs on the receive
// goroutine, or on the caller's goroutine when the request fails early
// or the listener has already finished.
func (l *EdgeListener) CreateEdgeTo(ta *transport.TransportAddress, cb transport.CreationCallback) {
	fail := func(err error) {
		logrus.WithFields(logrus.Fields{
			"function": "EdgeListener.CreateEdgeTo",
			"ta":       ta.String(),
			"error":    err.Error(),
		}).Debug("Edge creation failed")
		cb(false, nil, transport.NewEdgeError("create", ta, err))
	}
	if !l.IsStarted() {
		fail(transport.ErrNotStarted)
		return
	}
	if ta.Type() != transport.TATypeUDP {
		fail(transport.ErrTATypeMismatch)
		return
	}
	if !transport.IsNotDenied(l.Authorizer(), ta) {
		fail(transport.ErrTADenied)
		return
	}
	end, err := ta.UDPAddr()
	if err != nil {
		fail(err)
		return
	}

	l.actions.push(createAction{ta: ta, end: end, cb: cb})
	l.wake()
	if l.State().RunState == StateFinished {
		l.runActions(false)
	}
}

// SetAuthorizer replaces the authorizer. On a running listener the swap
// happens on the receive goroutine, which then closes every edge the new
// authorizer denies.
func (l *EdgeListener) SetAuthorizer(a transport.Authorizer) {
	if !l.IsStarted() {
		l.BaseListener.SetAuthorizer(a)
		return
	}
	l.actions.push(setAuthAction{auth: a})
	l.wake()
	if l.State().RunState == StateFinished {
		l.runActions(false)
	}
}

// UpdateLocalTAs records that a peer sees us at peerView.
func (l *EdgeListener) UpdateLocalTAs(e transport.Edge, peerView *transport.TransportAddress) {
	if peerView == nil || peerView.Type() != transport.TATypeUDP {
		return
	}
	point := transport.NatDataPoint{
		Kind:     transport.NatLocalMappingChanged,
		At:       l.clock.Now(),
		PeerView: peerView,
	}
	if e != nil {
		point.EdgeNumber = e.Number()
		point.RemoteTA = e.RemoteTA()
	}
	_ = l.updateState(func(s *State) error {
		s.NatHistory = s.NatHistory.Add(point)
		return nil
	})
	logrus.WithFields(logrus.Fields{
		"function":  "EdgeListener.UpdateLocalTAs",
		"peer_view": peerView.String(),
	}).Info("Peer reported new view of local address")
	if l.opts.OnLocalTAsChanged != nil {
		l.opts.OnLocalTAsChanged(l.LocalTAs())
	}
}

var (
	_ transport.EdgeListener = (*EdgeListener)(nil)
	_ transport.SendHandler  = (*EdgeListener)(nil)
	_ transport.Edge         = (*Edge)(nil)
)
