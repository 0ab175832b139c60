package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pay/internal/reconcile"
)

func TestTerminalStates(t *testing.T) {
	require.False(t, reconcile.StateCreated.Terminal())
	for _, s := range []reconcile.State{
		reconcile.StateNotifiedSuccess,
		reconcile.StateNotifiedFail,
		reconcile.StateConfirmedByQuery,
		reconcile.StateSystemError,
	} {
		require.True(t, s.Terminal(), string(s))
	}
}

func TestCanTransition(t *testing.T) {
	require.True(t, reconcile.CanTransition(reconcile.StateCreated, reconcile.StateNotifiedSuccess))
	require.True(t, reconcile.CanTransition(reconcile.StateCreated, reconcile.StateNotifiedFail))
	require.True(t, reconcile.CanTransition(reconcile.StateCreated, reconcile.StateConfirmedByQuery))

	// No transition ever leaves a terminal state, and CREATED is never re-entered.
	for _, from := range []reconcile.State{
		reconcile.StateNotifiedSuccess,
		reconcile.StateNotifiedFail,
		reconcile.StateConfirmedByQuery,
		reconcile.StateSystemError,
	} {
		require.False(t, reconcile.CanTransition(from, reconcile.StateCreated), string(from))
		require.False(t, reconcile.CanTransition(from, reconcile.StateNotifiedSuccess), string(from))
	}
	require.False(t, reconcile.CanTransition(reconcile.StateCreated, reconcile.StateCreated))
}
