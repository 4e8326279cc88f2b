package suite

import (
	"fmt"

	"github.com/lemon07r/tally/internal/result"
)

// transitions is the repeat state machine. A voided repeat either gets its
// single retry or becomes final; a retried repeat cannot be retried again.
var transitions = map[result.State][]result.State{
	result.StatePending: {result.StateRunning, result.StateVoided},
	result.StateRunning: {result.StateScored, result.StateVoided},
	result.StateVoided:  {result.StateRetried, result.StateVoidedFinal},
	result.StateRetried: {result.StateScored, result.StateVoidedFinal},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to result.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves r to state to, keeping Voided in step with the state.
func transition(r *result.RunRecord, to result.State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("repeat %d: illegal transition %s -> %s", r.RepeatIndex, r.State, to)
	}
	r.State = to
	switch to {
	case result.StateVoided, result.StateVoidedFinal:
		r.Voided = true
		r.RepeatRequired = true
	case result.StateScored, result.StateRunning, result.StateRetried:
		r.Voided = false
	}
	return nil
}
