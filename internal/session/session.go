// Package session implements the gateway session state machine.
package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// State is a gateway session state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribing
	Running
	Reconnecting
	Error
	Stopped
)

var stateNames = [...]string{
	"DISCONNECTED", "CONNECTING", "CONNECTED", "SUBSCRIBING",
	"RUNNING", "RECONNECTING", "ERROR", "STOPPED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MetricValue maps the state onto the 0..7 gauge scale.
func (s State) MetricValue() float64 {
	return float64(s)
}

// legalTransitions encodes the state diagram. STOPPED is reachable from
// any state via disconnect and is terminal.
var legalTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error},
	Connected:    {Subscribing, Reconnecting, Error, Disconnected},
	Subscribing:  {Running, Error},
	Running:      {Subscribing, Reconnecting, Error, Disconnected},
	Reconnecting: {Connected, Error, Disconnected},
	Error:        {Connecting, Reconnecting, Disconnected},
	Stopped:      {},
}

// Listener observes state transitions.
type Listener func(old, new State)

// Machine serializes session state transitions and fans them out to
// registered listeners in registration order. A panicking listener is
// logged and does not block the remaining listeners or the transition.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
	logger    zerolog.Logger
}

// NewMachine starts in DISCONNECTED.
func NewMachine(logger zerolog.Logger) *Machine {
	return &Machine{state: Disconnected, logger: logger}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session holds a live login.
func (m *Machine) IsConnected() bool {
	s := m.State()
	return s == Connected || s == Subscribing || s == Running
}

// OnChange registers a transition listener. Register before connect; the
// listener slice is read during fan-out without further synchronization.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Set transitions to next and notifies listeners. Self-transitions are
// suppressed. Transitions not in the state diagram are logged and applied
// anyway except out of STOPPED, which is terminal; the diagram violation
// is surfaced for diagnosis rather than enforced at runtime.
func (m *Machine) Set(next State) {
	m.mu.Lock()
	old := m.state
	if old == next {
		m.mu.Unlock()
		return
	}
	if old == Stopped {
		m.mu.Unlock()
		m.logger.Warn().
			Str("from", old.String()).
			Str("to", next.String()).
			Msg("Ignoring transition out of terminal state")
		return
	}
	if next != Stopped && !isLegal(old, next) {
		m.logger.Warn().
			Str("from", old.String()).
			Str("to", next.String()).
			Msg("State transition outside the documented diagram")
	}
	m.state = next
	listeners := m.listeners
	m.mu.Unlock()

	m.logger.Info().
		Str("from", old.String()).
		Str("to", next.String()).
		Msg("Session state changed")

	for _, l := range listeners {
		m.notify(l, old, next)
	}
}

func (m *Machine) notify(l Listener, old, next State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("from", old.String()).
				Str("to", next.String()).
				Msg("State listener panicked")
		}
	}()
	l(old, next)
}

func isLegal(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
