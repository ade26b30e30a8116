package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/edgenet/limits"
	"github.com/opd-ai/edgenet/udp"
)

const (
	// DefaultGroupIP is the multicast group local discovery joins.
	DefaultGroupIP = "239.255.42.99"
	// DefaultGroupPort is the port of the multicast group.
	DefaultGroupPort = 56123
	// DefaultMaxTAs bounds the addresses advertised in one message.
	DefaultMaxTAs = 16
)

// LocalOptions configures a LocalDiscovery.
type LocalOptions struct {
	// Namespace separates overlays sharing a LAN; only peers with the same
	// namespace are reported.
	Namespace string
	// Group is where queries are sent. A multicast group is joined on
	// every multicast interface. A unicast address is bound directly, and
	// port 0 picks a free port.
	Group *net.UDPAddr
	// Interfaces restricts the interfaces used to join the group.
	Interfaces []net.Interface
	// QueryOnly skips the group socket: the node can find others but is
	// not found by their queries.
	QueryOnly bool
	MaxTAs    int
	Options
}

// DefaultGroup returns 239.255.42.99:56123.
func DefaultGroup() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(DefaultGroupIP), Port: DefaultGroupPort}
}

// LocalDiscovery finds peers on the local network. Each search sends a
// query to the group; members of the same namespace reply directly to the
// querier with their TAs.
type LocalDiscovery struct {
	*Discovery
	namespace string
	instance  string
	maxTAs    int
	group     *net.UDPAddr

	// gc receives group traffic and is nil in query only mode
	gc net.PacketConn
	// uc sends queries and receives replies
	uc net.PacketConn

	g         *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// NewLocalDiscovery opens the sockets and starts answering queries. Call
// BeginFindingTAs to start searching.
func NewLocalDiscovery(handler TAHandler, opts LocalOptions) (*LocalDiscovery, error) {
	if opts.Group == nil {
		opts.Group = DefaultGroup()
	}
	if opts.MaxTAs == 0 {
		opts.MaxTAs = DefaultMaxTAs
	}
	l := &LocalDiscovery{
		namespace: opts.Namespace,
		instance:  uuid.NewString(),
		maxTAs:    opts.MaxTAs,
		group:     opts.Group,
	}
	l.Discovery = New(handler, l, opts.Options)

	uc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery socket: %w", err)
	}
	if err := ipv4.NewPacketConn(uc).SetMulticastLoopback(true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewLocalDiscovery",
			"error":    err.Error(),
		}).Debug("Multicast loopback unavailable")
	}
	l.uc = uc

	if !opts.QueryOnly {
		gc, group, err := openGroup(opts.Group, opts.Interfaces)
		if err != nil {
			uc.Close()
			return nil, err
		}
		l.gc, l.group = gc, group
	}

	l.g = &errgroup.Group{}
	l.g.Go(func() error { return l.readLoop(l.uc) })
	if l.gc != nil {
		l.g.Go(func() error { return l.readLoop(l.gc) })
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewLocalDiscovery",
		"group":     l.group.String(),
		"namespace": l.namespace,
		"instance":  l.instance,
	}).Info("Local discovery started")
	return l, nil
}

// openGroup binds the group address. A multicast group port is bound with
// address reuse so several nodes on a host can share it, and the group is
// joined; a unicast address is bound exclusively.
func openGroup(group *net.UDPAddr, ifaces []net.Interface) (net.PacketConn, *net.UDPAddr, error) {
	if !group.IP.IsMulticast() {
		conn, err := net.ListenPacket("udp4", group.String())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to bind discovery address %s: %w", group, err)
		}
		return conn, conn.LocalAddr().(*net.UDPAddr), nil
	}

	lc := net.ListenConfig{Control: udp.ReuseControl(true)}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind discovery port %d: %w", group.Port, err)
	}
	if ifaces == nil {
		ifaces = multicastInterfaces()
	}
	p := ipv4.NewPacketConn(conn)
	joined := 0
	for i := range ifaces {
		if err := p.JoinGroup(&ifaces[i], &net.UDPAddr{IP: group.IP}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "openGroup",
				"interface": ifaces[i].Name,
				"error":     err.Error(),
			}).Debug("Failed to join discovery group")
			continue
		}
		joined++
	}
	if joined == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "openGroup",
			"group":    group.String(),
		}).Warn("Joined the discovery group on no interface")
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "openGroup",
			"error":    err.Error(),
		}).Debug("Multicast loopback unavailable")
	}
	return conn, group, nil
}

func multicastInterfaces() []net.Interface {
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			out = append(out, ifi)
		}
	}
	return out
}

// Instance is the id that marks this node's own messages.
func (l *LocalDiscovery) Instance() string { return l.instance }

// GroupAddr is where queries are sent, with a picked port filled in.
func (l *LocalDiscovery) GroupAddr() *net.UDPAddr { return l.group }

// SeekTAs sends one query to the group.
func (l *LocalDiscovery) SeekTAs(time.Time) {
	m := &message{
		Kind:      kindQuery,
		Namespace: l.namespace,
		Instance:  l.instance,
		TAs:       l.LocalTAsToString(l.maxTAs),
	}
	l.send(m, l.group)
}

func (l *LocalDiscovery) send(m *message, to net.Addr) {
	data, err := m.marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LocalDiscovery.send",
			"error":    err.Error(),
		}).Warn("Failed to encode discovery message")
		return
	}
	if _, err := l.uc.WriteTo(data, to); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LocalDiscovery.send",
			"kind":     string(m.Kind),
			"to":       to.String(),
			"error":    err.Error(),
		}).Debug("Failed to send discovery message")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "LocalDiscovery.send",
		"kind":     string(m.Kind),
		"to":       to.String(),
		"tas":      len(m.TAs),
	}).Debug("Sent discovery message")
}

func (l *LocalDiscovery) readLoop(conn net.PacketConn) error {
	var tempErr tec.TempErrCatcher
	buf := make([]byte, limits.MaxDiscoveryMessage)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if tempErr.IsTemporary(err) {
				continue
			}
			return fmt.Errorf("discovery read: %w", err)
		}
		tempErr.Reset()
		l.handlePacket(buf[:n], from)
	}
}

// handlePacket answers queries and reports the TAs of foreign nodes in
// the same namespace.
func (l *LocalDiscovery) handlePacket(data []byte, from net.Addr) {
	m, err := unmarshalMessage(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LocalDiscovery.handlePacket",
			"from":     from.String(),
			"error":    err.Error(),
		}).Debug("Dropping discovery datagram")
		return
	}
	if m.Namespace != l.namespace || m.Instance == l.instance {
		return
	}
	if len(m.TAs) > 0 {
		l.UpdateRemoteTAs(m.TAs)
	}
	if m.Kind != kindQuery {
		return
	}
	tas := l.LocalTAsToString(l.maxTAs)
	if len(tas) == 0 {
		return
	}
	l.send(&message{
		Kind:      kindReply,
		Namespace: l.namespace,
		Instance:  l.instance,
		TAs:       tas,
	}, from)
}

// Close stops searching, closes the sockets and waits for the readers.
func (l *LocalDiscovery) Close() error {
	l.closeOnce.Do(func() {
		l.EndFindingTAs()
		var err error
		if l.gc != nil {
			err = multierr.Append(err, l.gc.Close())
		}
		err = multierr.Append(err, l.uc.Close())
		err = multierr.Append(err, l.g.Wait())
		l.closeErr = err

		logrus.WithFields(logrus.Fields{
			"function": "LocalDiscovery.Close",
			"instance": l.instance,
		}).Info("Local discovery stopped")
	})
	return l.closeErr
}
