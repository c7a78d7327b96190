package connector

import "sync/atomic"

// State represents the lifecycle state of a connector.
type State int32

// Lifecycle states a connector moves through.
const (
	// StateUnconfigured is the initial state, before any configuration is applied.
	StateUnconfigured State = iota
	// StateConfigured indicates configuration was applied but no connection exists.
	StateConfigured
	// StateConnected indicates connectivity was verified and operations are accepted.
	StateConnected
	// StateDisconnected indicates a previously connected connector was shut down.
	StateDisconnected
)

// String returns the string representation of the lifecycle state.
func (s State) String() string {
	return [...]string{
		"unconfigured",
		"configured",
		"connected",
		"disconnected",
	}[s]
}

// stateHolder provides thread-safe atomic access to a State value.
type stateHolder struct {
	state atomic.Int32
}

// Load returns the current lifecycle state.
func (h *stateHolder) Load() State {
	return State(h.state.Load())
}

// Store sets the lifecycle state to the given value.
func (h *stateHolder) Store(state State) {
	h.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps to new if equal.
// It returns true if the swap was performed.
func (h *stateHolder) CompareAndSwap(old, new State) bool {
	return h.state.CompareAndSwap(int32(old), int32(new))
}
