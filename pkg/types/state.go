package types

// TurnState is the position of a chat turn in the context assembly state machine.
type TurnState string

// Turn state constants
const (
	TurnReceived      TurnState = "received"       // Input accepted, subject resolved
	TurnMemoryFetched TurnState = "memory_fetched" // Recent memories loaded
	TurnPromptBuilt   TurnState = "prompt_built"   // Prompt assembled, completion requested
	TurnCompleted     TurnState = "completed"      // Reply produced and persisted best-effort
	TurnFailed        TurnState = "failed"         // Completion failed, fallback reply returned
)

// IsTerminalTurnState reports whether no transitions leave state.
func IsTerminalTurnState(state TurnState) bool {
	return state == TurnCompleted || state == TurnFailed
}

// IsValidTurnTransition validates turn state transitions.
//
// Valid transitions:
//
//	(empty) -> received
//	received -> memory_fetched
//	memory_fetched -> prompt_built
//	prompt_built -> completed | failed
//	completed, failed -> (terminal)
func IsValidTurnTransition(current, next TurnState) bool {
	switch current {
	case "":
		return next == TurnReceived
	case TurnReceived:
		return next == TurnMemoryFetched
	case TurnMemoryFetched:
		return next == TurnPromptBuilt
	case TurnPromptBuilt:
		return next == TurnCompleted || next == TurnFailed
	default:
		return false
	}
}
