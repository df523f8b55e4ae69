package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/guardrails"
	"github.com/finagents/loanflow/llm/retry"
	"github.com/finagents/loanflow/session"
	"github.com/finagents/loanflow/types"
)

// scriptedGate returns a fixed verdict, or allow when none is set.
type scriptedGate struct {
	verdict *guardrails.Verdict
	calls   int
}

func (g *scriptedGate) Check(ctx context.Context, input string, snapshot *conversation.Context) *guardrails.Verdict {
	g.calls++
	if g.verdict != nil {
		return g.verdict
	}
	return guardrails.Allow("test")
}

// stubAgents implements all three task-agent interfaces with function fields.
type stubAgents struct {
	classify func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error)
	elicit   func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error)
	evaluate func(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error)

	classifyCalls int
	elicitCalls   int
	evaluateCalls int
}

func (s *stubAgents) Classify(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
	s.classifyCalls++
	if s.classify == nil {
		return &RouteDecision{Reply: "hello"}, nil
	}
	return s.classify(ctx, snapshot, input)
}

func (s *stubAgents) Elicit(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
	s.elicitCalls++
	if s.elicit == nil {
		return &AgentResult{Reply: "what's the purpose?"}, nil
	}
	return s.elicit(ctx, snapshot, input)
}

func (s *stubAgents) Evaluate(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error) {
	s.evaluateCalls++
	if s.evaluate == nil {
		return &AgentResult{Reply: "here is your offer"}, nil
	}
	return s.evaluate(ctx, snapshot)
}

func (s *stubAgents) bundle() Agents {
	return Agents{Router: s, Profiler: s, Evaluator: s}
}

// flakyStore fails AppendTurn and Commit while broken.
type flakyStore struct {
	session.Store
	broken bool
}

func (f *flakyStore) AppendTurn(ctx context.Context, sessionID string, t conversation.Turn) error {
	if f.broken {
		return errors.New("disk full")
	}
	return f.Store.AppendTurn(ctx, sessionID, t)
}

func (f *flakyStore) Commit(ctx context.Context, sessionID string, c *conversation.Context) error {
	if f.broken {
		return errors.New("disk full")
	}
	return f.Store.Commit(ctx, sessionID, c)
}

func fastRetryer() retry.Retryer {
	return retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}, zap.NewNop())
}

func newTestController(gate Gate, agents Agents, store session.Store, opts ...Option) *Controller {
	opts = append([]Option{WithRetryer(fastRetryer())}, opts...)
	return NewController(gate, agents, store, opts...)
}

// seedSession commits a context in the given state with the given slots.
func seedSession(t *testing.T, store session.Store, sessionID string, state AgentState, slots conversation.SlotSet) {
	t.Helper()
	convo := conversation.New(sessionID)
	convo.Active = string(state)
	if slots != nil {
		convo.Slots = slots
	}
	require.NoError(t, store.Commit(context.Background(), sessionID, convo))
}

func completeSlots() conversation.SlotSet {
	return conversation.SlotSet{
		conversation.SlotPurpose:     conversation.StringValue("car_purchase"),
		conversation.SlotAmount:      conversation.NumberValue(15000),
		conversation.SlotTerm:        conversation.IntegerValue(36),
		conversation.SlotCreditScore: conversation.StringValue("good"),
		conversation.SlotCollateral:  conversation.BoolValue(false),
	}
}

func TestSubmitTurnRequiresSessionID(t *testing.T) {
	c := newTestController(&scriptedGate{}, (&stubAgents{}).bundle(), session.NewMemoryStore(nil))

	_, err := c.SubmitTurn(context.Background(), "  ", "hello")

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrInvalidRequest, terr.Code)
}

func TestBlockedTurnShortCircuits(t *testing.T) {
	gate := &scriptedGate{verdict: guardrails.Block("pii_detector", "detected ssn", "I can't help with that.")}
	agents := &stubAgents{}
	store := session.NewMemoryStore(nil)
	c := newTestController(gate, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "my ssn is 123-45-6789")

	require.NoError(t, err)
	assert.Equal(t, guardrails.DecisionBlock, res.Verdict)
	assert.Equal(t, "I can't help with that.", res.Reply)
	assert.Equal(t, StateRouting, res.State)
	assert.Zero(t, agents.classifyCalls, "no agent may see blocked input")

	// Screened turns are still recorded for audit.
	convo, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Len(t, convo.Turns, 2)
	assert.Equal(t, string(guardrails.DecisionBlock), convo.Turns[0].Verdict)
	assert.Equal(t, string(StateRouting), convo.Active)
}

func TestClarificationLeavesStateUnchanged(t *testing.T) {
	gate := &scriptedGate{verdict: guardrails.Clarify("classifier", "off topic", "Could you rephrase?")}
	agents := &stubAgents{}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, nil)
	c := newTestController(gate, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "what's the weather")

	require.NoError(t, err)
	assert.Equal(t, guardrails.DecisionNeedsClarification, res.Verdict)
	assert.Equal(t, StateProfiling, res.State)
	assert.Zero(t, agents.elicitCalls)
}

func TestRoutingTransfersWithoutInvokingTarget(t *testing.T) {
	agents := &stubAgents{
		classify: func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
			return &RouteDecision{InDomain: true, Reply: "Great, let's get started."}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "I want a car loan")

	require.NoError(t, err)
	assert.Equal(t, StateProfiling, res.State)
	assert.Equal(t, "Great, let's get started.", res.Reply)
	assert.Equal(t, 1, agents.classifyCalls)
	assert.Zero(t, agents.elicitCalls, "the target agent speaks next turn, not this one")

	// The next turn goes to the profiler.
	res, err = c.SubmitTurn(context.Background(), "s-1", "a used car")
	require.NoError(t, err)
	assert.Equal(t, 1, agents.elicitCalls)
	assert.Equal(t, StateProfiling, res.State)
}

func TestOutOfDomainStaysInRouting(t *testing.T) {
	agents := &stubAgents{
		classify: func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
			return &RouteDecision{Reply: "I can only help with loan applications."}, nil
		},
	}
	c := newTestController(&scriptedGate{}, agents.bundle(), session.NewMemoryStore(nil))

	res, err := c.SubmitTurn(context.Background(), "s-1", "tell me a joke")

	require.NoError(t, err)
	assert.Equal(t, StateRouting, res.State)
}

func TestSlotMergeIsAdditiveOnly(t *testing.T) {
	agents := &stubAgents{
		elicit: func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
			return &AgentResult{
				Reply: "noted",
				SlotUpdates: conversation.SlotSet{
					conversation.SlotAmount: conversation.NumberValue(99999), // overwrite attempt
					conversation.SlotTerm:   conversation.IntegerValue(48),   // new fact
				},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, conversation.SlotSet{
		conversation.SlotAmount: conversation.NumberValue(15000),
	})
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	_, err := c.SubmitTurn(context.Background(), "s-1", "make it 99999 over 48 months")
	require.NoError(t, err)

	convo, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, float64(15000), convo.Slots[conversation.SlotAmount].Number, "known slot survives overwrite attempt")
	assert.Equal(t, int64(48), convo.Slots[conversation.SlotTerm].Integer, "new fact from the same batch still lands")
}

func TestInvalidDirectiveDiscardedAndAgentRerunOnce(t *testing.T) {
	var sawRerunNote bool
	agents := &stubAgents{}
	agents.elicit = func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
		for _, turn := range snapshot.Turns {
			if turn.Role == conversation.RoleSystem && turn.Text == rerunInternalNote {
				sawRerunNote = true
				// Well-behaved on the second attempt.
				return &AgentResult{Reply: "what's your credit score?"}, nil
			}
		}
		// First attempt: premature transfer with an incomplete profile.
		return &AgentResult{
			Reply:     "sending you to evaluation",
			Directive: &Directive{Target: StateEvaluating, Source: SourceAgent},
		}, nil
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, nil)
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "just evaluate me")

	require.NoError(t, err)
	assert.True(t, sawRerunNote, "agent must be re-run with the rejection note")
	assert.Equal(t, 2, agents.elicitCalls)
	assert.Equal(t, StateProfiling, res.State, "rejected directive causes no transition")
	assert.Equal(t, "what's your credit score?", res.Reply, "re-run reply wins")
}

func TestDirectiveRejectedTwiceIsDiscarded(t *testing.T) {
	agents := &stubAgents{
		elicit: func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
			return &AgentResult{
				Reply:     "off to evaluation",
				Directive: &Directive{Target: StateEvaluating, Source: SourceAgent},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, nil)
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "evaluate me")

	require.NoError(t, err)
	assert.Equal(t, 2, agents.elicitCalls, "exactly one re-run, never a loop")
	assert.Equal(t, StateProfiling, res.State)
}

func TestCompleteProfileTransfersToEvaluation(t *testing.T) {
	agents := &stubAgents{
		elicit: func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
			return &AgentResult{
				Reply:     "that's everything I need",
				Directive: &Directive{Target: StateEvaluating, Rationale: "all facts collected", Source: SourceAgent},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, completeSlots())
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "no collateral")

	require.NoError(t, err)
	assert.Equal(t, StateEvaluating, res.State)
	assert.Zero(t, agents.evaluateCalls, "evaluator speaks next turn")
}

func TestEvaluatorRollbackClearsOnlyInvalidSlots(t *testing.T) {
	agents := &stubAgents{
		evaluate: func(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error) {
			return &AgentResult{
				Reply: "the amount looks inconsistent, let's recheck it",
				Directive: &Directive{
					Target:       StateProfiling,
					Rationale:    "amount inconsistent",
					Source:       SourceAgent,
					InvalidSlots: []conversation.SlotName{conversation.SlotAmount},
				},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateEvaluating, completeSlots())
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "go ahead")

	require.NoError(t, err)
	assert.Equal(t, StateProfiling, res.State)

	convo, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, convo.Slots.Known(conversation.SlotAmount), "invalidated slot cleared")
	assert.True(t, convo.Slots.Known(conversation.SlotTerm), "untouched slots survive")
	assert.True(t, convo.Slots.Known(conversation.SlotCreditScore))

	var foundNote bool
	for _, turn := range convo.Turns {
		if turn.Role == conversation.RoleSystem && turn.Text == "returned to profiling: amount inconsistent" {
			foundNote = true
		}
	}
	assert.True(t, foundNote, "rollback rationale recorded in history")
}

func TestTerminationOnlyFromEvaluation(t *testing.T) {
	agents := &stubAgents{
		evaluate: func(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error) {
			return &AgentResult{
				Reply:     "recommendation delivered",
				Directive: &Directive{Target: StateTerminated, Rationale: "evaluation complete", Source: SourceAgent},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateEvaluating, completeSlots())
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "show me the offer")
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, res.State)

	// Terminated sessions accept no further turns.
	_, err = c.SubmitTurn(context.Background(), "s-1", "one more thing")
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrSessionTerminated, terr.Code)
}

func TestUserTransferBackToProfilingPersistsHistoryOnce(t *testing.T) {
	store := session.NewMemoryStore(nil)
	convo := conversation.New("s-1")
	convo.Active = string(StateEvaluating)
	convo.Slots = completeSlots()
	convo.AppendTurn(conversation.Turn{Role: conversation.RoleUser, Text: "please review my application", State: string(StateEvaluating)})
	convo.TurnCount = 1
	require.NoError(t, store.AppendTurn(context.Background(), "s-1", convo.Turns[0]))
	require.NoError(t, store.Commit(context.Background(), "s-1", convo))

	agents := &stubAgents{}
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "talk to the profiler please")

	require.NoError(t, err)
	assert.Equal(t, StateProfiling, res.State)
	assert.Zero(t, agents.evaluateCalls, "transfer requests bypass the agent")

	reloaded, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, reloaded.Turns, 3, "only the two new turns land on top of the one already stored")
	seen := make(map[int]bool)
	for _, turn := range reloaded.Turns {
		assert.Falsef(t, seen[turn.Index], "turn index %d persisted twice", turn.Index)
		seen[turn.Index] = true
	}
}

func TestTerminationReleasesSessionLock(t *testing.T) {
	agents := &stubAgents{
		evaluate: func(ctx context.Context, snapshot *conversation.Context) (*AgentResult, error) {
			return &AgentResult{
				Reply:     "recommendation delivered",
				Directive: &Directive{Target: StateTerminated, Rationale: "evaluation complete", Source: SourceAgent},
			}, nil
		},
	}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateEvaluating, completeSlots())
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	_, err := c.SubmitTurn(context.Background(), "s-1", "show me the offer")
	require.NoError(t, err)

	_, held := c.locks.Load("s-1")
	assert.False(t, held, "terminal sessions keep no lock entry")

	// Turns refused on a terminated session do not grow the lock map either.
	_, err = c.SubmitTurn(context.Background(), "s-1", "one more thing")
	require.Error(t, err)
	_, held = c.locks.Load("s-1")
	assert.False(t, held)
}

func TestUserTransferDeniedWhenIncomplete(t *testing.T) {
	agents := &stubAgents{}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, nil)
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "transfer me to the evaluator")

	require.NoError(t, err)
	assert.Equal(t, StateProfiling, res.State)
	assert.Equal(t, transferDeniedReply, res.Reply)
	assert.Zero(t, agents.elicitCalls, "transfer requests bypass the agent")
}

func TestUserTransferHonoredWhenValid(t *testing.T) {
	agents := &stubAgents{}
	store := session.NewMemoryStore(nil)
	seedSession(t, store, "s-1", StateProfiling, completeSlots())
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "talk to the evaluator please")

	require.NoError(t, err)
	assert.Equal(t, StateEvaluating, res.State)
	assert.Contains(t, res.Reply, "product evaluator")
	assert.Zero(t, agents.evaluateCalls, "the evaluator speaks next turn")
}

func TestModelFailureLeavesSessionUntouched(t *testing.T) {
	agents := &stubAgents{
		classify: func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
			return nil, errors.New("upstream exploded")
		},
	}
	store := session.NewMemoryStore(nil)
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "hello")

	require.NoError(t, err, "model failure resolves into an apology, not an error")
	assert.Equal(t, modelFailureMessage, res.Reply)
	assert.Equal(t, StateRouting, res.State)
	assert.Equal(t, 2, agents.classifyCalls, "one retry with backoff, then give up")

	// Nothing was persisted; the user resubmits into a clean slate.
	_, err = store.Load(context.Background(), "s-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	agents := &stubAgents{}
	store := &flakyStore{Store: session.NewMemoryStore(nil), broken: true}
	c := newTestController(&scriptedGate{}, agents.bundle(), store)

	res, err := c.SubmitTurn(context.Background(), "s-1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "hello", res.Reply)
	assert.Equal(t, persistFailedWarning, res.Warning)
}

func TestSessionSurvivesControllerRestart(t *testing.T) {
	store := session.NewMemoryStore(nil)

	routeForward := &stubAgents{
		classify: func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
			return &RouteDecision{InDomain: true, Reply: "let's begin"}, nil
		},
	}
	first := newTestController(&scriptedGate{}, routeForward.bundle(), store)
	res, err := first.SubmitTurn(context.Background(), "s-1", "I need a loan")
	require.NoError(t, err)
	require.Equal(t, StateProfiling, res.State)

	// A fresh controller over the same store picks up where the last left off.
	collect := &stubAgents{
		elicit: func(ctx context.Context, snapshot *conversation.Context, input string) (*AgentResult, error) {
			return &AgentResult{
				Reply: "got it",
				SlotUpdates: conversation.SlotSet{
					conversation.SlotAmount: conversation.NumberValue(20000),
				},
			}, nil
		},
	}
	second := newTestController(&scriptedGate{}, collect.bundle(), store)
	res, err = second.SubmitTurn(context.Background(), "s-1", "20000 dollars")
	require.NoError(t, err)
	assert.Equal(t, StateProfiling, res.State)
	assert.Equal(t, 1, collect.elicitCalls)
	assert.Zero(t, collect.classifyCalls, "reloaded session resumes in profiling, not routing")

	convo, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, float64(20000), convo.Slots[conversation.SlotAmount].Number)
	assert.Equal(t, 2, convo.TurnCount)
}

func TestAuditEventsEmittedPerTurn(t *testing.T) {
	events := make(chan Event, 4)
	sink := sinkFunc(func(ctx context.Context, e Event) { events <- e })

	agents := &stubAgents{
		classify: func(ctx context.Context, snapshot *conversation.Context, input string) (*RouteDecision, error) {
			return &RouteDecision{InDomain: true, Reply: "onward"}, nil
		},
	}
	c := newTestController(&scriptedGate{}, agents.bundle(), session.NewMemoryStore(nil), WithAuditSink(sink))

	_, err := c.SubmitTurn(context.Background(), "s-1", "loan please")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, "s-1", e.SessionID)
		assert.Equal(t, StateRouting, e.FromState)
		assert.Equal(t, StateProfiling, e.ToState)
		assert.Equal(t, guardrails.DecisionAllow, e.Verdict)
		assert.NotEmpty(t, e.Directive)
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event within deadline")
	}
}

func TestPanickingSinkNeverFailsTurn(t *testing.T) {
	sink := sinkFunc(func(ctx context.Context, e Event) { panic("bad sink") })
	c := newTestController(&scriptedGate{}, (&stubAgents{}).bundle(), session.NewMemoryStore(nil), WithAuditSink(sink))

	res, err := c.SubmitTurn(context.Background(), "s-1", "hello")

	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
}

type sinkFunc func(ctx context.Context, e Event)

func (f sinkFunc) Record(ctx context.Context, e Event) { f(ctx, e) }
