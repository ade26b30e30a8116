package transport

import (
	"errors"
	"fmt"
)

// Common errors for edges and edge listeners
var (
	// ErrEdgeClosed indicates an operation on an edge that has already closed
	ErrEdgeClosed = errors.New("edge closed")

	// ErrNotStarted indicates the listener has not been started
	ErrNotStarted = errors.New("listener not started")

	// ErrAlreadyStarted indicates Start was called on a running or stopped listener
	ErrAlreadyStarted = errors.New("listener already started")

	// ErrTATypeMismatch indicates a transport address of the wrong scheme
	ErrTATypeMismatch = errors.New("transport address type mismatch")

	// ErrTADenied indicates the authorizer denied a transport address
	ErrTADenied = errors.New("transport address denied")

	// ErrPathExists indicates a path listener is already registered
	ErrPathExists = errors.New("path already registered")

	// ErrRemoteIDMismatch indicates a remote id differs from the one already recorded
	ErrRemoteIDMismatch = errors.New("remote id mismatch")

	// ErrAlreadyFired indicates a handler was added to an event that already fired
	ErrAlreadyFired = errors.New("event already fired")

	// ErrQueueFull indicates the outbound queue has no room
	ErrQueueFull = errors.New("send queue full")

	// ErrInvalidTA indicates a malformed transport address string
	ErrInvalidTA = errors.New("invalid transport address")
)

// EdgeError carries the operation and address an edge error relates to.
type EdgeError struct {
	Op   string // operation that failed
	Addr string // transport address if relevant
	Err  error  // underlying error
}

func (e *EdgeError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("edge %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("edge %s: %v", e.Op, e.Err)
}

func (e *EdgeError) Unwrap() error {
	return e.Err
}

// NewEdgeError creates a new EdgeError
func NewEdgeError(op string, ta *TransportAddress, err error) *EdgeError {
	addr := ""
	if ta != nil {
		addr = ta.String()
	}
	return &EdgeError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// SendError reports a failed Send. Transient errors signal backpressure
// and the caller may retry later.
type SendError struct {
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Transient {
		return fmt.Sprintf("send failed (transient): %v", e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a SendError that may succeed on retry.
func IsTransient(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Transient
}
