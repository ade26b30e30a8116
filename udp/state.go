package udp

import (
	"fmt"

	"github.com/opd-ai/edgenet/transport"
)

// RunState is the lifecycle stage of a listener.
type RunState int32

const (
	// StateNotStarted is a bound socket that is not yet reading
	StateNotStarted RunState = iota
	// StateRunning is a listener accepting and sending datagrams
	StateRunning
	// StateStopping is a listener shutting down its goroutines
	StateStopping
	// StateFinished is a listener whose socket is closed
	StateFinished
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateFinished:
		return "Finished"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// State is an immutable snapshot of a listener. A new snapshot replaces
// the old one on every change, so readers never lock and never see a
// partial update.
type State struct {
	RunState   RunState
	EdgeCount  int
	LocalTAs   []*transport.TransportAddress
	NatHistory transport.NatHistory
}

// NatTAs lists the addresses to advertise, peer reported ones first.
func (s State) NatTAs() []*transport.TransportAddress {
	return transport.NatTAs(s.LocalTAs, s.NatHistory)
}

// State returns the current snapshot.
func (l *EdgeListener) State() State {
	return *l.state.Load()
}

// updateState applies f to a copy of the current snapshot and publishes
// it with compare and swap, retrying on contention. f may run more than
// once and must not have side effects beyond its argument.
func (l *EdgeListener) updateState(f func(s *State) error) error {
	for {
		old := l.state.Load()
		next := *old
		if err := f(&next); err != nil {
			return err
		}
		if l.state.CompareAndSwap(old, &next) {
			return nil
		}
	}
}
