package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationEdgeListener_Synchronous(t *testing.T) {
	world := NewSimulationWorld(1, NewRegistry())
	a := NewSimulationEdgeListener(world, 10, 0, nil, false)
	b := NewSimulationEdgeListener(world, 20, 0, nil, false)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	var inbound Edge
	b.OnEdge(func(e Edge) { inbound = e })

	ok, e, err := createEdge(a, NewSimulationTA(TATypeSimulation, 20))
	require.True(t, ok)
	require.NoError(t, err)
	require.NotNil(t, inbound)
	assert.Equal(t, "b.s://10", inbound.RemoteTA().String())

	collector := newPacketCollector()
	inbound.Subscribe(collector)
	require.NoError(t, e.Send([]byte("hi")))

	// No scheduler involvement without latency.
	assert.Equal(t, 0, world.Pending())
	assert.Equal(t, [][]byte{[]byte("hi")}, collector.all())

	require.NoError(t, a.Stop())
	assert.True(t, inbound.IsClosed())
	assert.Equal(t, 0, b.Count())
}

func TestSimulationEdgeListener_Latency(t *testing.T) {
	world := NewSimulationWorld(1, NewRegistry())
	world.SetLatency(1, 2, 30*time.Millisecond)
	a := NewSimulationEdgeListener(world, 1, 0, nil, true)
	b := NewSimulationEdgeListener(world, 2, 0, nil, true)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	var inbound Edge
	b.OnEdge(func(e Edge) { inbound = e })
	ok, e, _ := createEdge(a, NewSimulationTA(TATypeSimulation, 2))
	require.True(t, ok)
	require.NotNil(t, inbound)

	collector := newPacketCollector()
	inbound.Subscribe(collector)
	require.NoError(t, e.Send([]byte{1}))
	require.NoError(t, e.Send([]byte{2}))

	assert.Empty(t, collector.all())
	assert.Equal(t, 2, world.Pending())

	assert.Equal(t, 2, world.RunUntilIdle())
	assert.Equal(t, 30*time.Millisecond, world.Now())
	assert.Equal(t, [][]byte{{1}, {2}}, collector.all())
}

func TestSimulationEdgeListener_Loss(t *testing.T) {
	world := NewSimulationWorld(7, NewRegistry())
	a := NewSimulationEdgeListener(world, 1, 1, nil, false)
	b := NewSimulationEdgeListener(world, 2, 0, nil, false)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	var inbound Edge
	b.OnEdge(func(e Edge) { inbound = e })
	ok, e, _ := createEdge(a, NewSimulationTA(TATypeSimulation, 2))
	require.True(t, ok)

	collector := newPacketCollector()
	inbound.Subscribe(collector)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Send([]byte{byte(i)}))
	}
	assert.Empty(t, collector.all())
}

func TestSimulationEdgeListener_Failures(t *testing.T) {
	world := NewSimulationWorld(1, NewRegistry())
	a := NewSimulationEdgeListener(world, 1, 0, nil, false)

	ok, _, err := createEdge(a, NewSimulationTA(TATypeSimulation, 2))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, a.Start())
	assert.ErrorIs(t, a.Start(), ErrAlreadyStarted)

	ok, _, err = createEdge(a, FunctionTA(2))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTATypeMismatch)

	b := NewSimulationEdgeListener(world, 2, 0, ConstantAuthorizer{Decision: DecisionDeny}, false)
	require.NoError(t, b.Start())
	ok, _, err = createEdge(a, NewSimulationTA(TATypeSimulation, 2))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTADenied)
	assert.Equal(t, 0, a.Count())
}

func TestSimulationWorld_ScheduleOrder(t *testing.T) {
	world := NewSimulationWorld(1, nil)
	var order []int
	world.Schedule(20*time.Millisecond, func() { order = append(order, 3) })
	world.Schedule(10*time.Millisecond, func() { order = append(order, 1) })
	world.Schedule(10*time.Millisecond, func() {
		order = append(order, 2)
		world.Schedule(5*time.Millisecond, func() { order = append(order, 4) })
	})

	assert.True(t, world.Step())
	assert.Equal(t, 10*time.Millisecond, world.Now())
	world.RunUntilIdle()
	assert.Equal(t, []int{1, 2, 4, 3}, order)
	assert.False(t, world.Step())
}
