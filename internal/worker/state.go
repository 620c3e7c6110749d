// Package worker implements the Worker process (§4.4): a pluggable task
// executor with no Channel context, driven by an absorbing state machine.
package worker

import (
	"sync/atomic"

	"github.com/spacebot-ai/spacebot/internal/kernelerr"
)

// State is a Worker's lifecycle state. The zero value is never valid;
// every Worker starts at StateRunning.
type State int32

const (
	StateRunning State = iota
	StateWaitingForInput
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of the absorbing terminal states.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// permitted is the closed transition table from §4.4: Running may reach
// WaitingForInput or any terminal state; WaitingForInput may return to
// Running or reach a terminal state (not Done directly — a resumed worker
// must run again to finish). Terminal states are absorbing.
var permitted = map[State]map[State]bool{
	StateRunning: {
		StateWaitingForInput: true,
		StateDone:            true,
		StateFailed:          true,
		StateCancelled:       true,
	},
	StateWaitingForInput: {
		StateRunning:    true,
		StateFailed:     true,
		StateCancelled:  true,
	},
}

// machine is an atomically-guarded WorkerState with validated transitions
// (Testable Property #3: terminal states are absorbing, and an invalid
// transition leaves the state unchanged).
type machine struct {
	state atomic.Int32
}

func newMachine() *machine {
	m := &machine{}
	m.state.Store(int32(StateRunning))
	return m
}

// Current returns the machine's current state.
func (m *machine) Current() State {
	return State(m.state.Load())
}

// Transition attempts s -> next. Returns a *kernelerr.TransitionGuardError
// if the transition is not permitted or the current state is already
// terminal; the state is left unchanged in that case.
func (m *machine) Transition(next State) error {
	for {
		cur := State(m.state.Load())
		if cur.IsTerminal() {
			return &kernelerr.TransitionGuardError{From: cur.String(), Attempted: next.String()}
		}
		if !permitted[cur][next] {
			return &kernelerr.TransitionGuardError{From: cur.String(), Attempted: next.String()}
		}
		if m.state.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
		// Lost the race to a concurrent transition; retry against the new state.
	}
}
