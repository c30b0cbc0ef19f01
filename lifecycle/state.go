// Package lifecycle implements the session's atomic state cell: the
// Uninitialized → Initializing → Initialized → ShutDown → Exited progression
// consulted by the service's dispatch gate and by the client handle's
// "send only if initialized" check (spec.md §4.4). It is deliberately a thin
// wrapper over go.uber.org/atomic.Uint32, the same typed-atomic package the
// pack's jsonrpc2 reference implementation uses for its sequence counter, so
// every observer sees either the old or the new value and never a torn read.
package lifecycle

import "go.uber.org/atomic"

// State is one point in the session lifecycle.
type State uint32

const (
	Uninitialized State = iota
	Initializing
	Initialized
	ShutDown
	Exited
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case ShutDown:
		return "shutdown"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Cell is the atomic session-state holder. The zero value starts at
// Uninitialized and is safe for concurrent use without further
// initialization.
type Cell struct {
	v atomic.Uint32
}

// New returns a Cell starting at Uninitialized.
func New() *Cell {
	return &Cell{}
}

// Load returns the current state.
func (c *Cell) Load() State {
	return State(c.v.Load())
}

// Store unconditionally sets the state.
func (c *Cell) Store(s State) {
	c.v.Store(uint32(s))
}

// CompareAndSwap atomically sets the state to next if it is currently cur,
// reporting whether the swap happened. Used for the Uninitialized ->
// Initializing -> {Initialized | Uninitialized} round trip described in
// spec.md §4.5, so a concurrent second initialize request observes a
// consistent state regardless of timing.
func (c *Cell) CompareAndSwap(cur, next State) bool {
	return c.v.CompareAndSwap(uint32(cur), uint32(next))
}

// IsExited reports whether the session has reached the terminal state.
func (c *Cell) IsExited() bool {
	return c.Load() == Exited
}

// IsInitialized reports whether the session still has outbound traffic
// flowing: Initialized or ShutDown. Per spec.md §3, ShutDown keeps outbound
// traffic flowing ("outbound traffic still flows") — only Uninitialized,
// Initializing, and Exited suppress it. This is the gate client-handle
// sends consult.
func (c *Cell) IsInitialized() bool {
	s := c.Load()
	return s == Initialized || s == ShutDown
}
