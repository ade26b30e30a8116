package pathing

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/edgenet/transport"
)

// Edge is a logical connection between a local and a remote path carried
// over a physical edge that other path edges may share.
type Edge struct {
	transport.BaseEdge
	phys       *physical
	localPath  string
	remotePath string
	// legacy edges exchange raw payloads with a peer that does not frame
	legacy atomic.Bool
	// peerClosed suppresses the Close frame when the peer closed first or
	// the physical edge is gone
	peerClosed atomic.Bool
}

func newEdge(m *Manager, p *physical, localPath, remotePath string, legacy, inbound bool) *Edge {
	e := &Edge{
		phys:       p,
		localPath:  localPath,
		remotePath: remotePath,
	}
	e.legacy.Store(legacy)
	e.Init(e, e, inbound, m.registry, m.clock)
	if err := e.OnClose(func(transport.Edge) { m.detach(e) }); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "newEdge",
			"error":    err.Error(),
		}).Warn("Failed to hook path edge close")
	}
	return e
}

// LocalPath is the path of the listener this edge belongs to.
func (e *Edge) LocalPath() string { return e.localPath }

// RemotePath is the peer's path.
func (e *Edge) RemotePath() string { return e.remotePath }

// Physical returns the shared edge carrying this one.
func (e *Edge) Physical() transport.Edge { return e.phys.edge }

// LocalTA is the physical local address joined with the local path.
func (e *Edge) LocalTA() *transport.TransportAddress {
	return JoinPath(e.phys.edge.LocalTA(), e.localPath)
}

// RemoteTA is the physical remote address joined with the remote path.
func (e *Edge) RemoteTA() *transport.TransportAddress {
	return JoinPath(e.phys.edge.RemoteTA(), e.remotePath)
}

// TAType is the physical edge's type.
func (e *Edge) TAType() transport.TAType { return e.phys.edge.TAType() }

// LocalTANotEphemeral follows the physical edge.
func (e *Edge) LocalTANotEphemeral() bool { return e.phys.edge.LocalTANotEphemeral() }

// RemoteTANotEphemeral follows the physical edge.
func (e *Edge) RemoteTANotEphemeral() bool { return e.phys.edge.RemoteTANotEphemeral() }

// HandleEdgeSend frames payload for the remote path and sends it on the
// physical edge.
func (e *Edge) HandleEdgeSend(_ transport.Edge, payload []byte) error {
	if e.legacy.Load() {
		return e.phys.edge.Send(payload)
	}
	frame, err := encodeAddressed(codeData, e.localPath, e.remotePath, payload)
	if err != nil {
		return &transport.SendError{Err: err}
	}
	return e.phys.edge.Send(frame)
}

func (e *Edge) deliver(payload []byte) {
	if err := e.ReceivedPacket(payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Edge.deliver",
			"edge":     e.String(),
			"error":    err.Error(),
		}).Debug("Dropping frame for closed path edge")
	}
}

var (
	_ transport.Edge        = (*Edge)(nil)
	_ transport.SendHandler = (*Edge)(nil)
)
