package handoff

import (
	"context"

	"github.com/finagents/loanflow/agent/conversation"
)

// RouteDecision is the intent router's classification of the user's goal.
type RouteDecision struct {
	// InDomain reports the goal maps to loan origination.
	InDomain bool
	// Ambiguous reports the goal could be either a general financial
	// question or a loan application. Routing errs toward progress, so
	// ambiguous routes forward to profiling.
	Ambiguous bool
	// Reply is the user-facing text (redirect for out-of-domain goals,
	// acknowledgement otherwise).
	Reply string
}

// AgentResult is what a task agent returns from one invocation: a reply,
// proposed slot updates, and an optional handoff directive. Agents never
// mutate the live context.
type AgentResult struct {
	Reply       string
	SlotUpdates conversation.SlotSet
	Directive   *Directive
}

// Router classifies the user's goal while the session is in StateRouting.
type Router interface {
	Classify(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error)
}

// Profiler elicits required facts while the session is in StateProfiling.
type Profiler interface {
	Elicit(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error)
}

// Evaluator produces the recommendation while the session is in
// StateEvaluating.
type Evaluator interface {
	Evaluate(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error)
}

// Agents bundles the three task agents the controller dispatches to. The
// mapping from state to agent is fixed; there is no runtime registry.
type Agents struct {
	Router    Router
	Profiler  Profiler
	Evaluator Evaluator
}
