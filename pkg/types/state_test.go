package types_test

import (
	"testing"

	"github.com/scrypster/petmind/pkg/types"
)

func TestTurnTransitions_HappyPath(t *testing.T) {
	path := []types.TurnState{
		types.TurnReceived,
		types.TurnMemoryFetched,
		types.TurnPromptBuilt,
		types.TurnCompleted,
	}

	var current types.TurnState
	for _, next := range path {
		if !types.IsValidTurnTransition(current, next) {
			t.Errorf("Expected %q -> %q to be valid", current, next)
		}
		current = next
	}
}

func TestTurnTransitions_FailureOnlyAfterPrompt(t *testing.T) {
	if types.IsValidTurnTransition(types.TurnReceived, types.TurnFailed) {
		t.Error("received -> failed should be invalid")
	}
	if !types.IsValidTurnTransition(types.TurnPromptBuilt, types.TurnFailed) {
		t.Error("prompt_built -> failed should be valid")
	}
}

func TestTurnTransitions_TerminalStates(t *testing.T) {
	for _, s := range []types.TurnState{types.TurnCompleted, types.TurnFailed} {
		if !types.IsTerminalTurnState(s) {
			t.Errorf("Expected %q to be terminal", s)
		}
		if types.IsValidTurnTransition(s, types.TurnReceived) {
			t.Errorf("Expected no transition out of %q", s)
		}
	}
}
