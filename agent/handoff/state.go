package handoff

import "fmt"

// AgentState identifies which agent owns the conversational turn. The set
// is closed: every legal move is listed in validTransitions, so a
// transition that is not in the table cannot happen.
type AgentState string

const (
	// StateRouting classifies the user's goal (initial state).
	StateRouting AgentState = "routing"
	// StateProfiling elicits the required facts.
	StateProfiling AgentState = "profiling"
	// StateEvaluating produces the final recommendation.
	StateEvaluating AgentState = "evaluating"
	// StateTerminated is the terminal state; it has no outgoing transitions.
	StateTerminated AgentState = "terminated"
)

// validTransitions is the complete transition table. Everything absent is
// rejected. Evaluating -> Profiling is the only backward edge, reserved for
// the evaluator's inconsistency directive.
var validTransitions = map[AgentState][]AgentState{
	StateRouting:    {StateProfiling},
	StateProfiling:  {StateEvaluating},
	StateEvaluating: {StateTerminated, StateProfiling},
	StateTerminated: {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to AgentState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// States returns every member of the closed state set.
func States() []AgentState {
	return []AgentState{StateRouting, StateProfiling, StateEvaluating, StateTerminated}
}

// ParseState maps a state name onto the closed enumeration.
func ParseState(s string) (AgentState, bool) {
	switch AgentState(s) {
	case StateRouting, StateProfiling, StateEvaluating, StateTerminated:
		return AgentState(s), true
	case "":
		return StateRouting, true
	default:
		return "", false
	}
}

// AgentIDFor returns the stable agent identifier recorded on turns produced
// in the given state.
func AgentIDFor(state AgentState) string {
	switch state {
	case StateRouting:
		return "intent_router"
	case StateProfiling:
		return "loan_profiler"
	case StateEvaluating:
		return "product_evaluator"
	default:
		return "orchestrator"
	}
}

// displayNameFor returns the user-facing name of the agent owning a state.
func displayNameFor(state AgentState) string {
	switch state {
	case StateRouting:
		return "intake specialist"
	case StateProfiling:
		return "loan profiler"
	case StateEvaluating:
		return "product evaluator"
	default:
		return "team"
	}
}

// ErrInvalidTransition reports an illegal state transition.
type ErrInvalidTransition struct {
	From AgentState
	To   AgentState
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
