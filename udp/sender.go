package udp

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
)

// DefaultSendQueueSize is the number of datagrams that may wait for the
// sender goroutine before Send starts failing.
const DefaultSendQueueSize = 512

type datagram struct {
	to        *net.UDPAddr
	recipient int32
	sender    int32
	payload   []byte
}

// sendServer owns all writes to the listener socket so a slow WriteTo
// never blocks the receive loop or callers of Send.
type sendServer struct {
	conn    net.PacketConn
	queue   chan datagram
	metrics *listenerMetrics
}

func newSendServer(conn net.PacketConn, size int, m *listenerMetrics) *sendServer {
	if size <= 0 {
		size = DefaultSendQueueSize
	}
	return &sendServer{conn: conn, queue: make(chan datagram, size), metrics: m}
}

// enqueue adds d without blocking and reports whether there was room.
func (s *sendServer) enqueue(d datagram) bool {
	select {
	case s.queue <- d:
		return true
	default:
		s.metrics.queueDrops.Inc()
		return false
	}
}

// run writes queued datagrams until ctx is cancelled, then flushes what
// is still queued.
func (s *sendServer) run(ctx context.Context) error {
	for {
		select {
		case d := <-s.queue:
			s.write(d)
		case <-ctx.Done():
			s.flush()
			return nil
		}
	}
}

func (s *sendServer) flush() {
	for {
		select {
		case d := <-s.queue:
			s.write(d)
		default:
			return
		}
	}
}

func (s *sendServer) write(d datagram) {
	if d.to == nil {
		return
	}
	if _, err := s.conn.WriteTo(encodeDatagram(d.recipient, d.sender, d.payload), d.to); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendServer.write",
			"to":       d.to.String(),
			"error":    err.Error(),
		}).Debug("Failed to send datagram")
		return
	}
	s.metrics.datagramsOut.Inc()
}
