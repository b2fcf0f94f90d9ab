package token

import (
	"sync"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// State is a connection's position in the finite state machine of spec.md §3.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateTransferring   State = "transferring"
	StateDisconnecting  State = "disconnecting"
	StateFailed         State = "failed"
)

// Event drives a transition attempt.
type Event string

const (
	EventConnect       Event = "connect"
	EventConnected     Event = "connected"
	EventAuthenticate  Event = "authenticate"
	EventAuthenticated Event = "authenticated"
	EventAuthFailed    Event = "auth_failed"
	EventStartTransfer Event = "start_transfer"
	EventEndTransfer   Event = "end_transfer"
	EventDisconnect    Event = "disconnect"
	EventError         Event = "error"
)

// transitions enumerates every legal (state, event) -> state pair from
// spec.md §3's diagram. Any pair absent from this map is invalid.
var transitions = map[State]map[Event]State{
	StateDisconnected: {
		EventConnect: StateConnecting,
	},
	StateConnecting: {
		EventConnected: StateConnected,
		EventError:     StateFailed,
		EventDisconnect: StateDisconnected,
	},
	StateConnected: {
		EventAuthenticate: StateAuthenticating,
		EventError:        StateFailed,
		EventDisconnect:   StateDisconnecting,
	},
	StateAuthenticating: {
		EventAuthenticated: StateAuthenticated,
		EventAuthFailed:     StateFailed,
		EventError:          StateFailed,
		EventDisconnect:     StateDisconnecting,
	},
	StateAuthenticated: {
		EventStartTransfer: StateTransferring,
		EventError:         StateFailed,
		EventDisconnect:    StateDisconnecting,
	},
	StateTransferring: {
		EventEndTransfer: StateAuthenticated,
		EventError:       StateFailed,
		EventDisconnect:  StateDisconnecting,
	},
	StateDisconnecting: {
		EventDisconnect: StateDisconnected,
	},
	StateFailed: {
		EventDisconnect: StateDisconnected,
	},
}

// Machine is a single connection's state machine, safe for concurrent use.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine creates a Machine starting in StateDisconnected.
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Fire attempts to apply ev. On an invalid transition, state is left
// unchanged and an error is returned, per spec.md §8 "State machine".
func (m *Machine) Fire(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][ev]
	if !ok {
		return beyerr.Validation(beyerr.CodeNetworkEngine+10, "invalid state transition "+string(m.state)+" -["+string(ev)+"]")
	}
	m.state = next
	return nil
}

// CanSendReceive reports whether the current state permits send_token /
// receive_token: only Authenticated and Transferring do, per spec.md §3/§4.E.
func (m *Machine) CanSendReceive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAuthenticated || m.state == StateTransferring
}

// RequireSendReceive returns a beyerr if the state machine does not permit
// sending or receiving right now.
func (m *Machine) RequireSendReceive() error {
	if !m.CanSendReceive() {
		return beyerr.Authorization(beyerr.CodeNetworkEngine+11, "send/receive not permitted in state "+string(m.Current()))
	}
	return nil
}
