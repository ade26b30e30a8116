package pathing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/edgenet/rpc"
	"github.com/opd-ai/edgenet/transport"
)

type node struct {
	el *transport.SimulationEdgeListener
	pm *Manager
	ta *transport.TransportAddress
}

type testNet struct {
	world *transport.SimulationWorld
	reg   *transport.Registry
	clock *clock.Mock
}

func newTestNet() *testNet {
	reg := transport.NewRegistry()
	return &testNet{
		world: transport.NewSimulationWorld(1, reg),
		reg:   reg,
		clock: clock.NewMock(),
	}
}

// node starts a synchronous simulation listener wrapped by a Manager. The
// periodic sweeps are not started so tests drive them directly.
func (n *testNet) node(t *testing.T, id int) *node {
	t.Helper()
	el := transport.NewSimulationEdgeListener(n.world, id, 0, nil, false)
	opts := NewOptions()
	opts.Clock = n.clock
	opts.Registry = n.reg
	pm := NewManager(el, opts)
	require.NoError(t, el.Start())
	t.Cleanup(func() { _ = pm.Stop() })
	return &node{el: el, pm: pm, ta: el.LocalTAs()[0]}
}

// rawNode is a listener without pathing, standing in for an old peer.
func (n *testNet) rawNode(t *testing.T, id int) *transport.SimulationEdgeListener {
	t.Helper()
	el := transport.NewSimulationEdgeListener(n.world, id, 0, nil, false)
	require.NoError(t, el.Start())
	t.Cleanup(func() { _ = el.Stop() })
	return el
}

func startPath(t *testing.T, n *node, path string) (*Listener, *inbox) {
	t.Helper()
	l, err := n.pm.CreatePath(path)
	require.NoError(t, err)
	box := newInbox()
	l.OnEdge(box.attach)
	require.NoError(t, l.Start())
	return l, box
}

// inbox records announced edges and the payloads they carry.
type inbox struct {
	mu      sync.Mutex
	edges   []transport.Edge
	packets map[transport.Edge][][]byte
}

func newInbox() *inbox {
	return &inbox{packets: make(map[transport.Edge][][]byte)}
}

func (b *inbox) attach(e transport.Edge) {
	b.mu.Lock()
	b.edges = append(b.edges, e)
	b.mu.Unlock()
	b.subscribe(e)
}

func (b *inbox) subscribe(e transport.Edge) {
	e.Subscribe(transport.DataHandlerFunc(func(e transport.Edge, p []byte) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.packets[e] = append(b.packets[e], append([]byte(nil), p...))
	}))
}

func (b *inbox) edge(t *testing.T, i int) transport.Edge {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Greater(t, len(b.edges), i, "edge %d not announced", i)
	return b.edges[i]
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.edges)
}

func (b *inbox) received(e transport.Edge) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.packets[e] {
		out = append(out, string(p))
	}
	return out
}

func dial(t *testing.T, l transport.EdgeListener, ta *transport.TransportAddress) transport.Edge {
	t.Helper()
	var got transport.Edge
	var gotErr error
	called := false
	l.CreateEdgeTo(ta, func(ok bool, e transport.Edge, err error) {
		called = true
		if ok {
			got = e
		}
		gotErr = err
	})
	require.True(t, called, "synchronous create did not call back")
	require.NoError(t, gotErr)
	require.NotNil(t, got)
	return got
}

func dialErr(t *testing.T, l transport.EdgeListener, ta *transport.TransportAddress) error {
	t.Helper()
	var gotErr error
	called := false
	l.CreateEdgeTo(ta, func(ok bool, e transport.Edge, err error) {
		called = true
		assert.False(t, ok)
		assert.Nil(t, e)
		gotErr = err
	})
	require.True(t, called)
	return gotErr
}

func TestManager_CreatePath(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)

	l, err := a.pm.CreatePath("chat")
	require.NoError(t, err)
	assert.Equal(t, "/chat", l.Path())

	_, err = a.pm.CreatePath("/chat")
	assert.ErrorIs(t, err, transport.ErrPathExists)

	assert.Equal(t, []string{"b.s://1/chat"}, transport.TAStrings(l.LocalTAs(), 0))
}

func TestManager_CreateRandomPath(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)

	first := a.pm.CreateRandomPath()
	assert.Equal(t, Root, first.Path())
	second := a.pm.CreateRandomPath()
	assert.NotEqual(t, Root, second.Path())
	assert.Regexp(t, `^/\d+$`, second.Path())
}

func TestListener_Lifecycle(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	net.node(t, 2)

	l, err := a.pm.CreatePath("/x")
	require.NoError(t, err)
	assert.False(t, l.IsStarted())

	err = dialErr(t, l, JoinPath(transport.NewSimulationTA(transport.TATypeSimulation, 2), "/y"))
	assert.ErrorIs(t, err, transport.ErrNotStarted)

	require.NoError(t, l.Start())
	assert.ErrorIs(t, l.Start(), transport.ErrAlreadyStarted)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
	assert.False(t, l.IsStarted())

	again, err := a.pm.CreatePath("/x")
	require.NoError(t, err)
	assert.NotSame(t, l, again)
}

func TestListener_DeniedTA(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	net.node(t, 2)
	l, _ := startPath(t, a, "/x")
	l.SetAuthorizer(transport.ConstantAuthorizer{Decision: transport.DecisionDeny})

	err := dialErr(t, l, JoinPath(transport.NewSimulationTA(transport.TATypeSimulation, 2), "/y"))
	assert.ErrorIs(t, err, transport.ErrTADenied)
	assert.Equal(t, 0, a.el.Count())
}

func TestPathEdges_ShareOnePhysicalEdge(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)

	la, _ := startPath(t, a, "/x")
	pelA, boxA := startPath(t, b, "/a")
	pelB, boxB := startPath(t, b, "/b")

	e1 := dial(t, la, JoinPath(b.ta, "/a"))
	e2 := dial(t, la, JoinPath(b.ta, "/b"))

	assert.Equal(t, 1, a.el.Count())
	assert.Equal(t, 1, b.el.Count())
	assert.Same(t, e1.(*Edge).Physical(), e2.(*Edge).Physical())
	assert.Equal(t, "b.s://2/a", e1.RemoteTA().String())
	assert.Equal(t, "b.s://1/x", e1.LocalTA().String())
	assert.Equal(t, 2, la.Count())

	// Handshaken but not announced until the first data frame.
	assert.Equal(t, 0, boxA.count())
	assert.Equal(t, 2, b.pm.Unannounced())

	require.NoError(t, e1.Send([]byte("hello")))
	in1 := boxA.edge(t, 0)
	assert.Equal(t, []string{"hello"}, boxA.received(in1))
	assert.Equal(t, "b.s://1/x", in1.RemoteTA().String())
	assert.Equal(t, "b.s://2/a", in1.LocalTA().String())
	assert.True(t, in1.IsInbound())
	assert.Equal(t, 1, pelA.Count())
	assert.Equal(t, 1, b.pm.Unannounced())

	require.NoError(t, e2.Send([]byte("other")))
	in2 := boxB.edge(t, 0)
	assert.Equal(t, []string{"other"}, boxB.received(in2))
	assert.Empty(t, boxA.received(in2))
	assert.Equal(t, 1, pelB.Count())

	replies := newInbox()
	replies.subscribe(e1)
	require.NoError(t, in1.Send([]byte("back")))
	assert.Equal(t, []string{"back"}, replies.received(e1))

	// Closing one path edge leaves the physical edge to the other.
	e1.Close()
	assert.True(t, in1.IsClosed())
	assert.False(t, in2.IsClosed())
	assert.Equal(t, 1, a.el.Count())
	assert.Equal(t, 1, la.Count())
	assert.Equal(t, 0, pelA.Count())

	// A new path edge reuses the surviving physical edge.
	e3 := dial(t, la, JoinPath(b.ta, "/a"))
	assert.Same(t, e2.(*Edge).Physical(), e3.(*Edge).Physical())
	e3.Close()

	e2.Close()
	assert.True(t, in2.IsClosed())
	assert.Equal(t, 0, a.el.Count())
	assert.Equal(t, 0, b.el.Count())
	assert.Equal(t, 0, la.Count())
	assert.Equal(t, 0, b.pm.Unannounced())
}

func TestPathEdge_HandshakeRejected(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")

	err := dialErr(t, la, JoinPath(b.ta, "/missing"))
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "path listener /missing not started", remote.Message)
	assert.Equal(t, 0, a.el.Count(), "the idle physical edge is closed")
	assert.Equal(t, 0, la.Count())
}

func TestPathEdge_DuplicateBinding(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")
	startPath(t, b, "/a")

	e1 := dial(t, la, JoinPath(b.ta, "/a"))
	err := dialErr(t, la, JoinPath(b.ta, "/a"))
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, transport.ErrPathExists.Error())
	assert.False(t, e1.IsClosed())
	assert.Equal(t, 1, a.el.Count())
}

func TestPathEdge_PhysicalCloseClosesPaths(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")
	startPath(t, b, "/a")
	startPath(t, b, "/b")

	e1 := dial(t, la, JoinPath(b.ta, "/a"))
	e2 := dial(t, la, JoinPath(b.ta, "/b"))
	require.NoError(t, e1.Send([]byte("1")))

	e1.(*Edge).Physical().Close()
	assert.True(t, e1.IsClosed())
	assert.True(t, e2.IsClosed())
	assert.Equal(t, 0, la.Count())
	assert.Equal(t, 0, b.el.Count())
	assert.Equal(t, 0, b.pm.Unannounced())

	err := e1.Send([]byte("late"))
	assert.ErrorIs(t, err, transport.ErrEdgeClosed)
}

func TestPathEdge_RootToRoot(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, Root)
	_, boxB := startPath(t, b, Root)

	e1 := dial(t, la, b.ta)
	e2 := dial(t, la, b.ta)
	assert.Equal(t, 2, a.el.Count(), "root edges get dedicated physical edges")
	assert.NotSame(t, e1.(*Edge).Physical(), e2.(*Edge).Physical())
	assert.Equal(t, "b.s://2", e1.RemoteTA().String())

	require.NoError(t, e1.Send([]byte("root data")))
	require.Equal(t, 1, boxB.count())
	in := boxB.edge(t, 0)
	assert.Equal(t, []string{"root data"}, boxB.received(in))
	assert.Equal(t, "b.s://1", in.RemoteTA().String())
	assert.Equal(t, 0, b.pm.Unannounced())

	e1.Close()
	assert.True(t, in.IsClosed())
	assert.Equal(t, 1, a.el.Count())
}

func TestPathEdge_RootToRootBinaryPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"tag lead and data code", []byte{0, 0, 0, 1}},
		{"tag lead and pathing code", []byte{0, 1}},
		{"single zero", []byte{0}},
		{"text", []byte("plain")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newTestNet()
			a := net.node(t, 1)
			b := net.node(t, 2)
			la, _ := startPath(t, a, Root)
			_, boxB := startPath(t, b, Root)

			out := dial(t, la, b.ta)
			replies := newInbox()
			replies.subscribe(out)

			require.NoError(t, out.Send(tt.payload))
			require.Equal(t, 1, boxB.count())
			in := boxB.edge(t, 0)
			assert.False(t, out.IsClosed())
			assert.Equal(t, []string{string(tt.payload)}, boxB.received(in))

			require.NoError(t, in.Send(tt.payload))
			assert.Equal(t, []string{string(tt.payload)}, replies.received(out))

			require.NoError(t, out.Send([]byte{0, 2}))
			assert.Equal(t, []string{string(tt.payload), "\x00\x02"}, boxB.received(in))
			assert.Equal(t, 1, boxB.count())
		})
	}
}

func TestPathEdge_RootDialWithoutRootListener(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, Root)
	_, boxB := startPath(t, b, "/a")

	out := dial(t, la, b.ta)
	require.NoError(t, out.Send([]byte("hi")))
	assert.True(t, out.IsClosed())
	assert.Equal(t, 0, boxB.count())
	assert.Equal(t, 0, b.el.Count())
}

func TestLegacyPeer_AnswersRootDial(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	old := net.rawNode(t, 2)
	oldBox := newInbox()
	old.OnEdge(oldBox.attach)
	la, _ := startPath(t, a, Root)

	out := dial(t, la, old.LocalTAs()[0])
	replies := newInbox()
	replies.subscribe(out)

	require.NoError(t, out.Send([]byte("hi")))
	raw := oldBox.edge(t, 0)
	require.Len(t, oldBox.received(raw), 1)

	// An untagged answer switches the edge to raw payloads, after which
	// even frames that look tagged pass through.
	require.NoError(t, raw.Send([]byte("yo")))
	assert.Equal(t, []string{"yo"}, replies.received(out))
	require.NoError(t, raw.Send([]byte{0, 1}))
	assert.Equal(t, []string{"yo", "\x00\x01"}, replies.received(out))

	require.NoError(t, out.Send([]byte("raw")))
	assert.Equal(t, "raw", oldBox.received(raw)[1])
	assert.False(t, out.IsClosed())
}

func TestLegacyPeer_ReachesRoot(t *testing.T) {
	net := newTestNet()
	old := net.rawNode(t, 1)
	b := net.node(t, 2)
	_, boxB := startPath(t, b, Root)

	out := dial(t, old, b.ta)
	replies := newInbox()
	replies.subscribe(out)

	require.NoError(t, out.Send([]byte("hi")))
	in := boxB.edge(t, 0)
	assert.Equal(t, []string{"hi"}, boxB.received(in))
	assert.Equal(t, Root, in.(*Edge).RemotePath())

	// Frames to an old peer carry no pathing header, even ones that start
	// with the tag byte.
	require.NoError(t, in.Send([]byte("yo")))
	require.NoError(t, in.Send([]byte{0, 3, 1}))
	assert.Equal(t, []string{"yo", "\x00\x03\x01"}, replies.received(out))

	require.NoError(t, out.Send([]byte{0, 1}))
	assert.Equal(t, []string{"hi", "\x00\x01"}, boxB.received(in))
}

func TestLegacyPeer_NoRootCloses(t *testing.T) {
	net := newTestNet()
	old := net.rawNode(t, 1)
	b := net.node(t, 2)
	startPath(t, b, "/a")

	out := dial(t, old, b.ta)
	require.NoError(t, out.Send([]byte("hi")))
	assert.True(t, out.IsClosed())
	assert.Equal(t, 0, b.el.Count())
}

func TestManager_BadFrameClosesPhysical(t *testing.T) {
	net := newTestNet()
	old := net.rawNode(t, 1)
	b := net.node(t, 2)
	startPath(t, b, Root)

	out := dial(t, old, b.ta)
	require.NoError(t, out.Send([]byte{0, byte(codeData), 9, '/'}))
	assert.True(t, out.IsClosed())
}

func TestManager_SweepUnannounced(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")
	startPath(t, b, "/a")

	e := dial(t, la, JoinPath(b.ta, "/a"))
	require.Equal(t, 1, b.pm.Unannounced())

	net.clock.Add(DefaultUnannouncedTimeout / 2)
	b.pm.SweepUnannounced()
	assert.Equal(t, 1, b.pm.Unannounced())
	assert.False(t, e.IsClosed())

	net.clock.Add(DefaultUnannouncedTimeout)
	b.pm.SweepUnannounced()
	assert.Equal(t, 0, b.pm.Unannounced())
	assert.Equal(t, 0, b.el.Count())
	assert.True(t, e.IsClosed(), "closing the last binding closes the physical edge")
}

func TestManager_ApplicationRPC(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")
	startPath(t, b, "/a")

	b.pm.RPC().AddHandler("app", rpc.HandlerFunc(func(c *rpc.Call) (any, error) {
		return c.Method + ":pong", nil
	}))
	e := dial(t, la, JoinPath(b.ta, "/a"))

	v, err := a.pm.RPC().Call(context.Background(), e.(*Edge).Physical(), "app.ping")
	require.NoError(t, err)
	assert.Equal(t, "ping:pong", v)
	assert.False(t, e.IsClosed())
}

func TestManager_HandshakeTimeout(t *testing.T) {
	net := newTestNet()
	// The peer accepts edges but never answers.
	silent := net.rawNode(t, 2)
	silent.OnEdge(func(e transport.Edge) {
		e.Subscribe(transport.DataHandlerFunc(func(transport.Edge, []byte) {}))
	})

	el := transport.NewSimulationEdgeListener(net.world, 1, 0, nil, false)
	opts := NewOptions()
	opts.Clock = net.clock
	opts.Registry = net.reg
	pm := NewManager(el, opts)
	require.NoError(t, pm.Start())
	t.Cleanup(func() { _ = pm.Stop() })

	la, err := pm.CreatePath("/x")
	require.NoError(t, err)
	require.NoError(t, la.Start())

	done := make(chan error, 1)
	la.CreateEdgeTo(JoinPath(silent.LocalTAs()[0], "/a"), func(ok bool, _ transport.Edge, err error) {
		assert.False(t, ok)
		done <- err
	})
	assert.Equal(t, 1, el.Count())

	net.clock.Add(rpc.DefaultTimeout + time.Second)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, rpc.ErrTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not time out")
	}
	assert.Eventually(t, func() bool { return el.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_StopClosesUnannounced(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	b := net.node(t, 2)
	la, _ := startPath(t, a, "/x")
	startPath(t, b, "/a")

	e := dial(t, la, JoinPath(b.ta, "/a"))
	require.Equal(t, 1, b.pm.Unannounced())

	require.NoError(t, b.pm.Stop())
	assert.Equal(t, 0, b.pm.Unannounced())
	assert.True(t, e.IsClosed())
	assert.False(t, b.el.IsStarted())
}

func TestListener_UpdateLocalTAsIgnoresForeignEdges(t *testing.T) {
	net := newTestNet()
	a := net.node(t, 1)
	l, _ := startPath(t, a, "/x")
	assert.NotPanics(t, func() {
		l.UpdateLocalTAs(nil, nil)
		l.UpdateLocalTAs(nil, transport.MustParseTA("b.s://9/x"))
	})
}
