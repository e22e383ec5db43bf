package core

// EvaluationState is the per-element evaluation lifecycle state
type EvaluationState int

const (
	StateIdle       EvaluationState = iota // No evaluation requested yet, or reset
	StateEvaluating                        // Evaluation in flight
	StateComplete                          // Last evaluation delivered a result
	StateError                             // Last evaluation delivered an error
)

// String returns the string representation of EvaluationState
func (s EvaluationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a final state for one evaluation
func (s EvaluationState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// RecoveryMethod records how an element left the Evaluating state
type RecoveryMethod string

// RecoveryMethod values
const (
	RecoveryNone           RecoveryMethod = ""                // Normal completion
	RecoverySelfFix        RecoveryMethod = "self-fix"        // Soft timer re-evaluated directly
	RecoveryEmergencyReset RecoveryMethod = "emergency-reset" // Hard timer cleared the flag
)
