package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialStateIsRunning(t *testing.T) {
	m := newMachine()
	assert.Equal(t, StateRunning, m.Current())
}

func TestPermittedTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateRunning, StateWaitingForInput},
		{StateRunning, StateDone},
		{StateRunning, StateFailed},
		{StateRunning, StateCancelled},
		{StateWaitingForInput, StateRunning},
		{StateWaitingForInput, StateFailed},
		{StateWaitingForInput, StateCancelled},
	}
	for _, c := range cases {
		m := newMachine()
		if c.from != StateRunning {
			require.NoError(t, m.Transition(c.from))
		}
		require.NoError(t, m.Transition(c.to))
		assert.Equal(t, c.to, m.Current())
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	for _, terminal := range []State{StateDone, StateFailed, StateCancelled} {
		m := newMachine()
		require.NoError(t, m.Transition(terminal))

		err := m.Transition(StateRunning)
		assert.Error(t, err, "no transition should succeed from a terminal state")
		assert.Equal(t, terminal, m.Current(), "state must remain unchanged after a rejected transition")
	}
}

func TestWaitingForInputCannotJumpDirectlyToDone(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Transition(StateWaitingForInput))
	err := m.Transition(StateDone)
	assert.Error(t, err)
	assert.Equal(t, StateWaitingForInput, m.Current())
}
