package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine() *Machine {
	return NewMachine(zerolog.Nop())
}

func TestInitialState(t *testing.T) {
	m := newMachine()
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.IsConnected())
}

func TestLifecyclePath(t *testing.T) {
	m := newMachine()
	var seen [][2]State
	m.OnChange(func(old, new State) {
		seen = append(seen, [2]State{old, new})
	})

	for _, s := range []State{Connecting, Connected, Subscribing, Running} {
		m.Set(s)
	}

	require.Len(t, seen, 4)
	assert.Equal(t, [2]State{Disconnected, Connecting}, seen[0])
	assert.Equal(t, [2]State{Subscribing, Running}, seen[3])
	assert.True(t, m.IsConnected())
}

func TestSelfTransitionSuppressed(t *testing.T) {
	m := newMachine()
	calls := 0
	m.OnChange(func(old, new State) { calls++ })

	m.Set(Connecting)
	m.Set(Connecting)
	assert.Equal(t, 1, calls)
}

func TestListenerOrderAndPanicIsolation(t *testing.T) {
	m := newMachine()
	var order []int
	m.OnChange(func(old, new State) { order = append(order, 1) })
	m.OnChange(func(old, new State) { panic("listener failure") })
	m.OnChange(func(old, new State) { order = append(order, 3) })

	m.Set(Connecting)

	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, Connecting, m.State())
}

func TestStoppedIsTerminal(t *testing.T) {
	m := newMachine()
	m.Set(Connecting)
	m.Set(Stopped)
	assert.Equal(t, Stopped, m.State())

	m.Set(Connecting)
	assert.Equal(t, Stopped, m.State())
}

func TestStoppedReachableFromAnyState(t *testing.T) {
	for _, from := range []State{Disconnected, Connecting, Connected, Subscribing, Running, Reconnecting, Error} {
		m := newMachine()
		if from != Disconnected {
			// Walk into the state without tripping terminal handling.
			m.state = from
		}
		m.Set(Stopped)
		assert.Equal(t, Stopped, m.State(), "from %s", from)
	}
}

func TestMetricValues(t *testing.T) {
	assert.Equal(t, 0.0, Disconnected.MetricValue())
	assert.Equal(t, 4.0, Running.MetricValue())
	assert.Equal(t, 7.0, Stopped.MetricValue())
	assert.Equal(t, "RECONNECTING", Reconnecting.String())
}
