// Package connstate implements the client's connection lifecycle state
// machine (spec §4.4): five states, a fixed valid-transition table, bounded
// history, and subscriber notification. Nothing here talks to a socket —
// ConnectionHandler, KeepAlive, and ReconnectSupervisor drive it from the
// outside.
package connstate

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/logging"
)

// State is one of the five connection lifecycle states.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Transition records one state change with its cause and time.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// maxHistory bounds the retained transition log (spec §4.4: "history is
// bounded (most recent N entries)").
const maxHistory = 64

// validTransitions is exactly the table in spec §3: DISCONNECTED →
// CONNECTING → CONNECTED → {RECONNECTING | DISCONNECTED | ERROR};
// RECONNECTING → {CONNECTED | ERROR | DISCONNECTED}; ERROR → {DISCONNECTED |
// CONNECTING | RECONNECTING}. Any pair absent here is rejected.
var validTransitions = map[State]map[State]bool{
	Disconnected: {Connecting: true},
	Connecting:   {Connected: true, Disconnected: true, Error: true},
	Connected:    {Reconnecting: true, Disconnected: true, Error: true},
	Reconnecting: {Connected: true, Error: true, Disconnected: true},
	Error:        {Disconnected: true, Connecting: true, Reconnecting: true},
}

// Listener is called after a successful transition.
type Listener func(Transition)

// Machine is the connection lifecycle state machine. Zero value is not
// usable; construct with New.
type Machine struct {
	mu        sync.Mutex
	current   State
	history   []Transition
	onChange  []Listener
	onState   map[State][]Listener
	log       *zap.Logger
}

// New returns a Machine starting in Disconnected.
func New() *Machine {
	return &Machine{
		current: Disconnected,
		onState: make(map[State][]Listener),
		log:     logging.GetLogger(),
	}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnChange registers a listener invoked on every successful transition,
// including current→current no-ops.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, l)
}

// OnState registers a listener invoked whenever the machine enters state s.
func (m *Machine) OnState(s State, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState[s] = append(m.onState[s], l)
}

// History returns a copy of the bounded transition log, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition attempts to move the machine from its current state to to,
// with reason recorded for observability. Transitioning to the current
// state always succeeds as a no-op (spec §4.4). Any other pair not present
// in validTransitions leaves the state unchanged and returns false.
func (m *Machine) Transition(to State, reason string) bool {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.recordLocked(from, to, reason)
		listeners := append([]Listener(nil), m.onChange...)
		stateListeners := append([]Listener(nil), m.onState[to]...)
		m.mu.Unlock()
		t := Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()}
		notify(listeners, t)
		notify(stateListeners, t)
		return true
	}
	if !validTransitions[from][to] {
		m.mu.Unlock()
		m.log.Debug("rejected connection state transition",
			zap.String("from", from.String()), zap.String("to", to.String()), zap.String("reason", reason))
		return false
	}
	m.current = to
	m.recordLocked(from, to, reason)
	listeners := append([]Listener(nil), m.onChange...)
	stateListeners := append([]Listener(nil), m.onState[to]...)
	m.mu.Unlock()

	t := Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()}
	m.log.Info("connection state transition",
		zap.String("from", from.String()), zap.String("to", to.String()), zap.String("reason", reason))
	notify(listeners, t)
	notify(stateListeners, t)
	return true
}

func (m *Machine) recordLocked(from, to State, reason string) {
	m.history = append(m.history, Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

func notify(listeners []Listener, t Transition) {
	for _, l := range listeners {
		l(t)
	}
}
