package profiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/testutil/mocks"
)

func newProfiler(provider *mocks.ScriptedProvider) *Profiler {
	return New(provider, DefaultConfig(), nil, nil)
}

func TestElicitExtractsAndAsksNextQuestion(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"purpose": "car_purchase", "amount": 15000, "acknowledgement": "A car loan for $15,000, got it."}`)
	p := newProfiler(provider)

	res, err := p.Elicit(context.Background(), conversation.New("s-1"), "I want 15000 for a car")

	require.NoError(t, err)
	assert.Equal(t, "car_purchase", res.SlotUpdates[conversation.SlotPurpose].Text)
	assert.Equal(t, float64(15000), res.SlotUpdates[conversation.SlotAmount].Number)
	assert.Nil(t, res.Directive, "profile incomplete, no transfer yet")
	// Next missing required slot is the term.
	assert.Contains(t, res.Reply, "A car loan for $15,000, got it.")
	assert.Contains(t, res.Reply, questions[conversation.SlotTerm])
}

func TestElicitAsksLowestMissingSlotFirst(t *testing.T) {
	provider := mocks.NewScriptedProvider().Reply(`{}`)
	p := newProfiler(provider)

	res, err := p.Elicit(context.Background(), conversation.New("s-1"), "hello")

	require.NoError(t, err)
	assert.Equal(t, questions[conversation.SlotPurpose], res.Reply)
	assert.Empty(t, res.SlotUpdates)
}

func TestElicitCompleteProfileRequestsTransfer(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"collateral": false, "acknowledgement": "No collateral, understood."}`)
	p := newProfiler(provider)

	snapshot := conversation.New("s-1")
	snapshot.Slots = conversation.SlotSet{
		conversation.SlotPurpose:     conversation.StringValue("education"),
		conversation.SlotAmount:      conversation.NumberValue(20000),
		conversation.SlotTerm:        conversation.IntegerValue(48),
		conversation.SlotCreditScore: conversation.StringValue("good"),
	}

	res, err := p.Elicit(context.Background(), snapshot, "no collateral")

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateEvaluating, res.Directive.Target)
	assert.Equal(t, handoff.SourceAgent, res.Directive.Source)
	assert.Contains(t, res.Reply, "product evaluator")
}

func TestValidateDropsOutOfVocabularyValues(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"purpose": "yacht_purchase", "credit_score": "AMAZING", "amount": -50, "term": 0}`)
	p := newProfiler(provider)

	res, err := p.Elicit(context.Background(), conversation.New("s-1"), "a yacht please")

	require.NoError(t, err)
	assert.Empty(t, res.SlotUpdates, "invalid values are dropped, not stored")
	assert.Equal(t, questions[conversation.SlotPurpose], res.Reply, "dropped slot gets asked again")
}

func TestValidateNormalizesCase(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply(`{"credit_score": " Good ", "collateral": true}`)
	p := newProfiler(provider)

	res, err := p.Elicit(context.Background(), conversation.New("s-1"), "good credit, I have collateral")

	require.NoError(t, err)
	assert.Equal(t, "good", res.SlotUpdates[conversation.SlotCreditScore].Text)
	assert.True(t, res.SlotUpdates[conversation.SlotCollateral].Flag)
}

func TestElicitMalformedOutputErrors(t *testing.T) {
	provider := mocks.NewScriptedProvider().Reply("the user wants a car loan")
	p := newProfiler(provider)

	_, err := p.Elicit(context.Background(), conversation.New("s-1"), "car loan")

	assert.Error(t, err)
}

func TestElicitSystemPromptCarriesKnownFacts(t *testing.T) {
	provider := mocks.NewScriptedProvider().Reply(`{}`)
	p := newProfiler(provider)

	snapshot := conversation.New("s-1")
	snapshot.Slots[conversation.SlotPurpose] = conversation.StringValue("education")

	_, err := p.Elicit(context.Background(), snapshot, "what else do you need")
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "purpose=education")
}
