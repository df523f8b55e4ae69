package handoff

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/guardrails"
	"github.com/finagents/loanflow/llm/retry"
	"github.com/finagents/loanflow/session"
	"github.com/finagents/loanflow/types"
)

// User-facing messages owned by the controller rather than any agent.
const (
	modelFailureMessage  = "I'm having trouble processing that right now. Please try again in a moment."
	transferDoneMessage  = "Of course. I'm connecting you with our %s now; they'll pick up from here."
	transferDeniedReply  = "I can't transfer you there at this point in the process. Let's continue where we are."
	rerunInternalNote    = "Your previous transfer request was rejected as out of order. Continue assisting the user from the current stage."
	persistFailedWarning = "reply delivered but not durably recorded"
)

// Gate screens raw input before it reaches any agent. Satisfied by
// *guardrails.Gate; an interface here so tests can script verdicts.
type Gate interface {
	Check(ctx context.Context, input string, snapshot *conversation.Context) *guardrails.Verdict
}

// TurnResult is the outcome of one submitted user turn.
type TurnResult struct {
	SessionID string              `json:"session_id"`
	TurnIndex int                 `json:"turn_index"`
	Reply     string              `json:"reply"`
	State     AgentState          `json:"state"`
	Verdict   guardrails.Decision `json:"verdict"`
	// Warning is set when the reply was produced but persistence failed;
	// the turn may be replayed after a restart.
	Warning string `json:"warning,omitempty"`
}

// Controller owns the session state machine. It is the single writer of
// conversation contexts: agents receive snapshots and return proposed
// updates, and every slot merge, state transition, and turn append happens
// here, in one place, where it can be validated and audited.
//
// Directives are deferred: a valid transfer changes the active state at the
// end of the turn, and the target agent produces its first reply on the next
// submitted turn.
type Controller struct {
	gate     Gate
	agents   Agents
	store    session.Store
	sink     AuditSink
	retryer  retry.Retryer
	required []conversation.SlotName
	logger   *zap.Logger

	// locks serializes turns per session; distinct sessions proceed in
	// parallel.
	locks sync.Map
}

// Option configures the controller.
type Option func(*Controller)

// WithAuditSink sets the per-turn audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithRetryer replaces the model-invocation retryer.
func WithRetryer(r retry.Retryer) Option {
	return func(c *Controller) {
		if r != nil {
			c.retryer = r
		}
	}
}

// WithRequiredSlots overrides the facts a profile must contain before a
// transfer to evaluation is accepted.
func WithRequiredSlots(required []conversation.SlotName) Option {
	return func(c *Controller) {
		if len(required) > 0 {
			c.required = required
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "handoff_controller"))
		}
	}
}

// NewController wires the gate, the task agents, and the session store into
// an orchestrator.
func NewController(gate Gate, agents Agents, store session.Store, opts ...Option) *Controller {
	c := &Controller{
		gate:     gate,
		agents:   agents,
		store:    store,
		sink:     NopSink{},
		retryer:  retry.NewBackoffRetryer(retry.DefaultPolicy(), zap.NewNop()),
		required: conversation.DefaultRequiredSlots(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitTurn processes one user message for a session: screen, dispatch,
// merge, transition, persist. Returns a TurnResult on every screened path;
// an error only for malformed requests, terminated sessions, and load
// failures. Exhausted model retries resolve into an apology TurnResult
// with nothing persisted, not an error.
func (c *Controller) SubmitTurn(ctx context.Context, sessionID, input string) (*TurnResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	mu := c.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	started := time.Now()
	ctx = types.WithSessionID(ctx, sessionID)

	convo, err := c.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	fromState, ok := ParseState(convo.Active)
	if !ok {
		return nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("session %s has unknown state %q", sessionID, convo.Active)).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	if fromState == StateTerminated {
		c.locks.Delete(sessionID)
		return nil, types.NewError(types.ErrSessionTerminated,
			"this session has concluded; start a new session to apply again").
			WithHTTPStatus(http.StatusConflict)
	}

	// Every turn is screened first. No agent sees unscreened input.
	verdict := c.gate.Check(ctx, input, convo.Snapshot())
	if !verdict.Allowed() {
		return c.finishScreenedTurn(ctx, convo, fromState, input, verdict, started)
	}

	// User transfer requests become directives and pass through the same
	// transition validation agents are held to.
	if d := ParseUserTransferRequest(input); d != nil {
		return c.finishUserTransfer(ctx, convo, fromState, input, d, verdict, started)
	}

	result, err := c.invokeWithRetry(ctx, fromState, convo.Snapshot(), input)
	if err != nil {
		// Two failed attempts. Context and state stay exactly as loaded;
		// the user can resubmit.
		c.logger.Error("agent invocation failed after retry",
			zap.String("session_id", sessionID),
			zap.String("state", string(fromState)),
			zap.Error(err),
		)
		c.audit(ctx, Event{
			SessionID:   sessionID,
			TurnIndex:   convo.TurnCount,
			Timestamp:   started,
			ActiveAgent: AgentIDFor(fromState),
			FromState:   fromState,
			ToState:     fromState,
			Verdict:     verdict.Decision,
			Error:       err.Error(),
			DurationMs:  time.Since(started).Milliseconds(),
		})
		return &TurnResult{
			SessionID: sessionID,
			TurnIndex: convo.TurnCount,
			Reply:     modelFailureMessage,
			State:     fromState,
			Verdict:   verdict.Decision,
		}, nil
	}

	rejectedSlots := c.mergeSlots(convo, fromState, result.SlotUpdates)

	directive := result.Directive
	directiveRejected := false
	if err := c.validateDirective(convo, fromState, directive); err != nil {
		// Protocol violation by the agent: discard the directive, tell the
		// agent once, and keep whatever reply the re-run produces.
		directiveRejected = true
		c.logger.Warn("directive rejected",
			zap.String("session_id", sessionID),
			zap.String("directive", directive.String()),
			zap.Error(err),
		)
		result, directive = c.rerunAfterRejection(ctx, fromState, convo, input, result)
		rejectedSlots += c.mergeSlots(convo, fromState, result.SlotUpdates)
	}

	toState := fromState
	rollbackNotes := 0
	if directive != nil {
		toState = directive.Target
		rollbackNotes = c.applyRollback(convo, fromState, directive)
	}

	newTurns := c.recordTurns(convo, fromState, toState, input, result.Reply, verdict, directive, rollbackNotes)
	convo.Active = string(toState)
	convo.TurnCount++

	warning := c.persist(ctx, convo, newTurns)
	c.releaseLockIfTerminated(sessionID, toState)

	c.audit(ctx, Event{
		SessionID:         sessionID,
		TurnIndex:         convo.TurnCount - 1,
		Timestamp:         started,
		ActiveAgent:       AgentIDFor(fromState),
		FromState:         fromState,
		ToState:           toState,
		Verdict:           verdict.Decision,
		VerdictSource:     verdict.Source,
		Directive:         directive.String(),
		DirectiveRejected: directiveRejected,
		RejectedSlots:     rejectedSlots,
		DurationMs:        time.Since(started).Milliseconds(),
	})

	return &TurnResult{
		SessionID: sessionID,
		TurnIndex: convo.TurnCount - 1,
		Reply:     result.Reply,
		State:     toState,
		Verdict:   verdict.Decision,
		Warning:   warning,
	}, nil
}

// Load returns the committed context for inspection endpoints. Read-only.
func (c *Controller) Load(ctx context.Context, sessionID string) (*conversation.Context, error) {
	convo, err := c.store.Load(ctx, sessionID)
	if err == session.ErrNotFound {
		return nil, types.NewError(types.ErrSessionNotFound, "session not found").
			WithHTTPStatus(http.StatusNotFound)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load session").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true)
	}
	return convo, nil
}

func (c *Controller) sessionLock(sessionID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// releaseLockIfTerminated drops the per-session lock entry once the session
// reaches its terminal state. Terminated sessions accept no further writes,
// so a late arrival that recreates the entry only ever reads the terminal
// state before being refused.
func (c *Controller) releaseLockIfTerminated(sessionID string, state AgentState) {
	if state == StateTerminated {
		c.locks.Delete(sessionID)
	}
}

func (c *Controller) loadOrCreate(ctx context.Context, sessionID string) (*conversation.Context, error) {
	convo, err := c.store.Load(ctx, sessionID)
	if err == session.ErrNotFound {
		convo = conversation.New(sessionID)
		convo.Active = string(StateRouting)
		return convo, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load session").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true)
	}
	return convo, nil
}

// finishScreenedTurn completes a turn the gate refused: the verdict message
// is the reply, no agent runs, state does not change.
func (c *Controller) finishScreenedTurn(ctx context.Context, convo *conversation.Context, state AgentState, input string, verdict *guardrails.Verdict, started time.Time) (*TurnResult, error) {
	newTurns := c.recordTurns(convo, state, state, input, verdict.Message, verdict, nil, 0)
	convo.TurnCount++
	warning := c.persist(ctx, convo, newTurns)

	c.audit(ctx, Event{
		SessionID:     convo.SessionID,
		TurnIndex:     convo.TurnCount - 1,
		Timestamp:     started,
		ActiveAgent:   AgentIDFor(state),
		FromState:     state,
		ToState:       state,
		Verdict:       verdict.Decision,
		VerdictSource: verdict.Source,
		VerdictReason: verdict.Reason,
		DurationMs:    time.Since(started).Milliseconds(),
	})

	return &TurnResult{
		SessionID: convo.SessionID,
		TurnIndex: convo.TurnCount - 1,
		Reply:     verdict.Message,
		State:     state,
		Verdict:   verdict.Decision,
		Warning:   warning,
	}, nil
}

// finishUserTransfer completes a turn that was an explicit transfer request.
// Valid transfers transition immediately and the target agent speaks next
// turn; invalid ones are refused with state unchanged.
func (c *Controller) finishUserTransfer(ctx context.Context, convo *conversation.Context, fromState AgentState, input string, d *Directive, verdict *guardrails.Verdict, started time.Time) (*TurnResult, error) {
	toState := fromState
	reply := transferDeniedReply
	rejected := false

	if err := c.validateDirective(convo, fromState, d); err != nil {
		rejected = true
		d = nil
		c.logger.Info("user transfer refused",
			zap.String("session_id", convo.SessionID),
			zap.Error(err),
		)
	} else {
		toState = d.Target
		reply = fmt.Sprintf(transferDoneMessage, displayNameFor(toState))
	}

	newTurns := c.recordTurns(convo, fromState, toState, input, reply, verdict, d, 0)
	convo.Active = string(toState)
	convo.TurnCount++
	warning := c.persist(ctx, convo, newTurns)
	c.releaseLockIfTerminated(convo.SessionID, toState)

	c.audit(ctx, Event{
		SessionID:         convo.SessionID,
		TurnIndex:         convo.TurnCount - 1,
		Timestamp:         started,
		ActiveAgent:       AgentIDFor(fromState),
		FromState:         fromState,
		ToState:           toState,
		Verdict:           verdict.Decision,
		VerdictSource:     verdict.Source,
		Directive:         d.String(),
		DirectiveRejected: rejected,
		DurationMs:        time.Since(started).Milliseconds(),
	})

	return &TurnResult{
		SessionID: convo.SessionID,
		TurnIndex: convo.TurnCount - 1,
		Reply:     reply,
		State:     toState,
		Verdict:   verdict.Decision,
		Warning:   warning,
	}, nil
}

// invokeWithRetry dispatches to the agent that owns the state. The closed
// switch is the whole dispatch mechanism; adding an agent means adding a
// state, a case, and transition edges.
func (c *Controller) invokeWithRetry(ctx context.Context, state AgentState, snapshot *conversation.Context, input string) (*AgentResult, error) {
	ctx = types.WithAgentID(ctx, AgentIDFor(state))
	out, err := c.retryer.DoWithResult(ctx, func() (any, error) {
		return c.invoke(ctx, state, snapshot, input)
	})
	if err != nil {
		return nil, types.NewError(types.ErrModelInvocation, "agent invocation failed").
			WithCause(err).WithRetryable(true).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	result, ok := out.(*AgentResult)
	if !ok || result == nil {
		return nil, types.NewError(types.ErrInternalError, "agent returned no result")
	}
	return result, nil
}

func (c *Controller) invoke(ctx context.Context, state AgentState, snapshot *conversation.Context, input string) (*AgentResult, error) {
	switch state {
	case StateRouting:
		decision, err := c.agents.Router.Classify(ctx, snapshot, input)
		if err != nil {
			return nil, err
		}
		result := &AgentResult{Reply: decision.Reply}
		if decision.InDomain || decision.Ambiguous {
			// Ambiguity routes forward; the profiler's questions resolve it.
			result.Directive = &Directive{
				Target:    StateProfiling,
				Rationale: "loan intent identified",
				Source:    SourceAgent,
			}
		}
		return result, nil
	case StateProfiling:
		return c.agents.Profiler.Elicit(ctx, snapshot, input)
	case StateEvaluating:
		return c.agents.Evaluator.Evaluate(ctx, snapshot)
	default:
		return nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("no agent owns state %s", state))
	}
}

// validateDirective is the single validation path for agent- and
// user-sourced transfer requests.
func (c *Controller) validateDirective(convo *conversation.Context, from AgentState, d *Directive) error {
	if d == nil {
		return nil
	}
	if _, ok := ParseState(string(d.Target)); !ok || d.Target == "" {
		return fmt.Errorf("unknown transfer target %q", d.Target)
	}
	if !CanTransition(from, d.Target) {
		return ErrInvalidTransition{From: from, To: d.Target}
	}
	if d.Target == StateEvaluating && !convo.Slots.Complete(c.required) {
		return fmt.Errorf("transfer to evaluation with incomplete profile, missing %v",
			convo.Slots.Missing(c.required))
	}
	if len(d.InvalidSlots) > 0 && !(from == StateEvaluating && d.Target == StateProfiling) {
		return fmt.Errorf("slot invalidation is reserved for the evaluation rollback")
	}
	return nil
}

// rerunAfterRejection re-invokes the current agent once with an internal
// note about the rejected directive. The re-run's directive is validated
// again; a second violation is discarded without another attempt.
func (c *Controller) rerunAfterRejection(ctx context.Context, state AgentState, convo *conversation.Context, input string, fallback *AgentResult) (*AgentResult, *Directive) {
	snapshot := convo.Snapshot()
	snapshot.AppendTurn(conversation.Turn{
		Role:  conversation.RoleSystem,
		Text:  rerunInternalNote,
		State: string(state),
	})

	rerun, err := c.invoke(ctx, state, snapshot, input)
	if err != nil || rerun == nil || strings.TrimSpace(rerun.Reply) == "" {
		fallback.Directive = nil
		return fallback, nil
	}
	if err := c.validateDirective(convo, state, rerun.Directive); err != nil {
		c.logger.Warn("directive rejected twice, discarding",
			zap.String("session_id", convo.SessionID),
			zap.Error(err),
		)
		rerun.Directive = nil
	}
	return rerun, rerun.Directive
}

// mergeSlots applies proposed slot updates additively and logs any rejected
// overwrite attempts. Returns the rejection count for the audit record.
func (c *Controller) mergeSlots(convo *conversation.Context, state AgentState, updates conversation.SlotSet) int {
	if len(updates) == 0 {
		return 0
	}
	applied, rejected := convo.Slots.Merge(updates)
	if len(rejected) > 0 {
		c.logger.Warn("slot overwrites rejected",
			zap.String("session_id", convo.SessionID),
			zap.String("agent", AgentIDFor(state)),
			zap.Any("slots", rejected),
		)
	}
	if len(applied) > 0 {
		c.logger.Debug("slots updated",
			zap.String("session_id", convo.SessionID),
			zap.Any("slots", applied),
		)
	}
	return len(rejected)
}

// applyRollback handles the one backward edge. The rationale is written into
// the history as a system turn and only the slots named by the directive are
// cleared for re-elicitation. Returns the number of system turns appended so
// recordTurns can include them in the batch handed to the store.
func (c *Controller) applyRollback(convo *conversation.Context, from AgentState, d *Directive) int {
	if from != StateEvaluating || d.Target != StateProfiling {
		return 0
	}
	convo.AppendTurn(conversation.Turn{
		Role:      conversation.RoleSystem,
		Text:      "returned to profiling: " + d.Rationale,
		AgentID:   AgentIDFor(from),
		State:     string(d.Target),
		Directive: d.String(),
	})
	if len(d.InvalidSlots) > 0 {
		cleared := convo.Slots.Clear(d.InvalidSlots...)
		c.logger.Info("slots cleared for re-elicitation",
			zap.String("session_id", convo.SessionID),
			zap.Any("slots", cleared),
			zap.String("rationale", d.Rationale),
		)
	}
	return 1
}

// recordTurns appends the user turn and the assistant reply to the context
// and returns the turns added this call for persistence. rollbackNotes is
// the count of system turns applyRollback appended earlier in this same
// call to SubmitTurn; only those are folded into the returned batch, never
// turns that already reached the store.
func (c *Controller) recordTurns(convo *conversation.Context, fromState, toState AgentState, input, reply string, verdict *guardrails.Verdict, d *Directive, rollbackNotes int) []conversation.Turn {
	start := len(convo.Turns) - rollbackNotes

	convo.AppendTurn(conversation.Turn{
		Role:    conversation.RoleUser,
		Text:    input,
		State:   string(fromState),
		Verdict: string(verdict.Decision),
	})
	convo.AppendTurn(conversation.Turn{
		Role:      conversation.RoleAssistant,
		Text:      reply,
		AgentID:   AgentIDFor(fromState),
		State:     string(toState),
		Verdict:   string(verdict.Decision),
		Directive: d.String(),
	})

	if start < 0 {
		start = 0
	}
	return convo.Turns[start:]
}

// persist writes the new turns and commits the context. Persistence failure
// does not fail the turn: the reply is still returned, flagged with a
// warning, and the failure is logged for operators.
func (c *Controller) persist(ctx context.Context, convo *conversation.Context, newTurns []conversation.Turn) string {
	for _, t := range newTurns {
		if err := c.store.AppendTurn(ctx, convo.SessionID, t); err != nil {
			c.logger.Warn("turn append failed",
				zap.String("session_id", convo.SessionID),
				zap.Int("turn_index", t.Index),
				zap.Error(err),
			)
			return persistFailedWarning
		}
	}
	if err := c.store.Commit(ctx, convo.SessionID, convo); err != nil {
		c.logger.Warn("session commit failed",
			zap.String("session_id", convo.SessionID),
			zap.Error(err),
		)
		return persistFailedWarning
	}
	return ""
}

// audit dispatches the event asynchronously; a slow or panicking sink can
// never fail or delay a turn.
func (c *Controller) audit(ctx context.Context, event Event) {
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("audit sink panic", zap.Any("panic", r))
			}
		}()
		c.sink.Record(detached, event)
	}()
}
