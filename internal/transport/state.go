// Package transport implements the Resilient WebSocket Transport (component
// C11): a single socket shared by all subscribers, multiplexed by feed, with
// a framed control/graph protocol, reconnection, heartbeat, and a bounded
// priority send queue. Grounded on github.com/gorilla/websocket, the same
// library the wider example pack reaches for whenever it speaks WebSocket.
package transport

import (
	"fmt"
	"sync"
)

// State is one node of the socket's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange is emitted on every transition, per spec.md §4.11.
type StateChange struct {
	Previous State
	Current  State
	Err      error
}

// StateChangeHandler is notified of every transition.
type StateChangeHandler func(StateChange)

// stateMachine is the mutex-guarded current state plus the registered
// listeners, factored out of Socket so its transition bookkeeping can be
// tested independently of any real network I/O.
type stateMachine struct {
	mu        sync.Mutex
	current   State
	listeners []StateChangeHandler
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: Disconnected}
}

func (m *stateMachine) onChange(h StateChangeHandler) {
	m.mu.Lock()
	m.listeners = append(m.listeners, h)
	m.mu.Unlock()
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// transition moves to next, recording err (usually nil), and fires every
// listener with the change. Always allowed: this machine does not reject
// transitions, since the legal edges are enforced by Socket's own call
// sites (which never call transition from a state that cannot reach next).
func (m *stateMachine) transition(next State, err error) {
	m.mu.Lock()
	prev := m.current
	m.current = next
	listeners := append([]StateChangeHandler(nil), m.listeners...)
	m.mu.Unlock()

	change := StateChange{Previous: prev, Current: next, Err: err}
	for _, h := range listeners {
		h(change)
	}
}
