package transaction

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{Started, Prepared, true},
		{Started, RolledBack, true},
		{Started, Committed, false},
		{Prepared, Committed, true},
		{Prepared, RolledBack, true},
		{Committed, Verified, true},
		{Committed, RolledBack, true},
		{Committed, Prepared, false},
		{Verified, RolledBack, false},
		{RolledBack, Started, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	assert.False(t, Started.IsTerminal())
	assert.False(t, Prepared.IsTerminal())
	assert.False(t, Committed.IsTerminal())
	assert.True(t, Verified.IsTerminal())
	assert.True(t, RolledBack.IsTerminal())
}

func TestStateError(t *testing.T) {
	err := &StateError{Op: "commit", State: Started}
	assert.Equal(t, "transaction: commit is not allowed in state started", err.Error())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestLifecycleMethodsConsultTheTable(t *testing.T) {
	ctx := context.Background()
	committed := func() *Transaction {
		return &Transaction{state: Committed, logger: zerolog.Nop()}
	}

	tx := committed()
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, RolledBack, tx.state)

	saved := transitions[Committed]
	t.Cleanup(func() { transitions[Committed] = saved })
	transitions[Committed] = []State{Verified}

	tx = committed()
	var se *StateError
	require.ErrorAs(t, tx.Rollback(ctx), &se)
	assert.Equal(t, "rollback", se.Op)
	assert.Equal(t, Committed, tx.state)

	transitions[Committed] = []State{RolledBack}
	tx = committed()
	require.ErrorAs(t, tx.Verify(ctx), &se)
	assert.Equal(t, "verify", se.Op)
	assert.Equal(t, Committed, tx.state)
}

func TestTransitionRejectsTerminalStates(t *testing.T) {
	tx := &Transaction{state: Verified, logger: zerolog.Nop()}
	var se *StateError
	require.ErrorAs(t, tx.transition("rollback", RolledBack), &se)
	assert.Equal(t, Verified, tx.state)

	tx.state = Started
	require.NoError(t, tx.transition("prepare", Prepared))
	assert.Equal(t, Prepared, tx.state)
}
