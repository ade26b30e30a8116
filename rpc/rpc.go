package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/edgenet/transport"
)

// DefaultTimeout is how long a call waits for its reply.
const DefaultTimeout = 20 * time.Second

var (
	// ErrTimeout indicates no reply arrived before the call deadline
	ErrTimeout = errors.New("rpc call timed out")

	// ErrNoHandler indicates the callee has no handler for the method
	ErrNoHandler = errors.New("no handler for method")

	// ErrEdgeClosed indicates the edge carrying the call closed first
	ErrEdgeClosed = errors.New("rpc edge closed")
)

// RemoteError is a failure reported by the callee.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: remote error: %s", e.Method, e.Message)
}

// Call is an incoming request.
type Call struct {
	Edge transport.Edge
	// Method is the part after the handler name, "create" for a call to
	// "sys:pathing.create".
	Method string
	Args   []any
}

// StringArg returns argument i if it is a string.
func (c *Call) StringArg(i int) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("rpc %s: missing argument %d", c.Method, i)
	}
	s, ok := c.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("rpc %s: argument %d is %T, not string", c.Method, i, c.Args[i])
	}
	return s, nil
}

// Handler answers calls for one handler name. The returned value must be
// representable as a structpb Value.
type Handler interface {
	HandleRPC(call *Call) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(call *Call) (any, error)

// HandleRPC calls f(call).
func (f HandlerFunc) HandleRPC(call *Call) (any, error) { return f(call) }

// ResultFunc receives the outcome of Invoke exactly once.
type ResultFunc func(result any, err error)

type pendingCall struct {
	ctx      context.Context
	edge     transport.Edge
	method   string
	deadline time.Time
	cb       ResultFunc
}

// Options configures a Manager.
type Options struct {
	// Prefix is prepended to every frame this manager sends, so a
	// demultiplexer on the far side can route it back to a Manager.
	Prefix  []byte
	Timeout time.Duration
	Clock   clock.Clock
}

// Manager issues calls over edges and answers calls from registered
// handlers. Callers feed it inbound frames with HandleData and drive
// timeouts with CheckTimeouts.
type Manager struct {
	name    string
	prefix  []byte
	timeout time.Duration
	clock   clock.Clock

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*pendingCall
}

// NewManager creates a Manager. name only appears in logs.
func NewManager(name string, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Manager{
		name:     name,
		prefix:   append([]byte(nil), opts.Prefix...),
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*pendingCall),
	}
}

// AddHandler registers h for calls named "<name>.<method>". A later
// registration under the same name replaces the earlier one.
func (m *Manager) AddHandler(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

// RemoveHandler drops the handler registered under name.
func (m *Manager) RemoveHandler(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, name)
}

// Pending returns the number of calls awaiting a reply.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Invoke sends a call over e. cb runs once, with the reply, a
// RemoteError, or a local failure. The call expires at the earlier of the
// manager timeout and ctx's deadline; expiry is noticed by CheckTimeouts.
func (m *Manager) Invoke(ctx context.Context, e transport.Edge, method string, args []any, cb ResultFunc) {
	id := uuid.NewString()
	body, err := encodeRequest(id, method, args)
	if err != nil {
		cb(nil, err)
		return
	}

	deadline := m.clock.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	m.mu.Lock()
	m.pending[id] = &pendingCall{ctx: ctx, edge: e, method: method, deadline: deadline, cb: cb}
	m.mu.Unlock()

	if err := e.Send(m.frame(body)); err != nil {
		if p := m.take(id); p != nil {
			p.cb(nil, fmt.Errorf("rpc %s: %w", method, err))
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Invoke",
		"manager":  m.name,
		"method":   method,
		"id":       id,
	}).Debug("Sent rpc request")
}

// Call is the blocking form of Invoke. It returns when the reply arrives,
// the call expires, or ctx is done.
func (m *Manager) Call(ctx context.Context, e transport.Edge, method string, args ...any) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	m.Invoke(ctx, e, method, args, func(result any, err error) {
		ch <- outcome{result, err}
	})
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) frame(body []byte) []byte {
	out := make([]byte, 0, len(m.prefix)+len(body))
	out = append(out, m.prefix...)
	return append(out, body...)
}

func (m *Manager) take(id string) *pendingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	return p
}

// HandleData processes one frame received on e, with the prefix already
// removed. Requests are answered on e before HandleData returns.
func (m *Manager) HandleData(e transport.Edge, data []byte) error {
	f, err := decodeFrame(data)
	if err != nil {
		return err
	}
	if f.Kind == kindReply {
		m.handleReply(e, f)
		return nil
	}
	return m.handleRequest(e, f)
}

func (m *Manager) handleReply(e transport.Edge, f *frame) {
	m.mu.Lock()
	p, ok := m.pending[f.ID]
	if ok && p.edge != e {
		ok = false
	}
	if ok {
		delete(m.pending, f.ID)
	}
	m.mu.Unlock()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleReply",
			"manager":  m.name,
			"id":       f.ID,
		}).Debug("Reply for unknown call")
		return
	}
	if !f.OK {
		p.cb(nil, &RemoteError{Method: p.method, Message: f.Error})
		return
	}
	p.cb(f.Result, nil)
}

func (m *Manager) handleRequest(e transport.Edge, f *frame) error {
	name, method, _ := strings.Cut(f.Method, ".")
	m.mu.Lock()
	h, ok := m.handlers[name]
	m.mu.Unlock()

	var (
		result  any
		callErr error
	)
	if !ok {
		callErr = fmt.Errorf("%w: %s", ErrNoHandler, f.Method)
	} else {
		result, callErr = m.dispatch(h, &Call{Edge: e, Method: method, Args: f.Args})
	}
	if callErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleRequest",
			"manager":  m.name,
			"method":   f.Method,
			"error":    callErr.Error(),
		}).Debug("Rpc handler failed")
	}

	body, err := encodeReply(f.ID, result, callErr)
	if err != nil {
		body, err = encodeReply(f.ID, nil, err)
		if err != nil {
			return err
		}
	}
	return e.Send(m.frame(body))
}

// dispatch runs h, turning a panic into an error reply.
func (m *Manager) dispatch(h Handler, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleRPC(call)
}

// CheckTimeouts fails every call past its deadline or whose context is
// done.
func (m *Manager) CheckTimeouts() {
	now := m.clock.Now()
	var expired []*pendingCall
	m.mu.Lock()
	for id, p := range m.pending {
		if now.Before(p.deadline) && p.ctx.Err() == nil {
			continue
		}
		delete(m.pending, id)
		expired = append(expired, p)
	}
	m.mu.Unlock()

	for _, p := range expired {
		err := p.ctx.Err()
		if err == nil {
			err = ErrTimeout
		}
		p.cb(nil, fmt.Errorf("rpc %s: %w", p.method, err))
	}
}

// FailEdge fails every call pending on e, typically because e closed.
func (m *Manager) FailEdge(e transport.Edge) {
	var failed []*pendingCall
	m.mu.Lock()
	for id, p := range m.pending {
		if p.edge != e {
			continue
		}
		delete(m.pending, id)
		failed = append(failed, p)
	}
	m.mu.Unlock()

	for _, p := range failed {
		p.cb(nil, fmt.Errorf("rpc %s: %w", p.method, ErrEdgeClosed))
	}
}
