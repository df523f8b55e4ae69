package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
)

func snapshotWith(slots conversation.SlotSet) *conversation.Context {
	c := conversation.New("s-1")
	c.Slots = slots
	c.Active = string(handoff.StateEvaluating)
	return c
}

func TestEvaluateRecommendsAndTerminates(t *testing.T) {
	e := New(nil, nil)

	res, err := e.Evaluate(context.Background(), snapshotWith(
		profileSlots("car_purchase", 15000, 36, "good", false),
	))

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateTerminated, res.Directive.Target)
	assert.Equal(t, handoff.SourceAgent, res.Directive.Source)
	assert.Contains(t, res.Reply, "silver tier")
	assert.Contains(t, res.Reply, "Standard Auto Loan")
	assert.Contains(t, res.Reply, "6.9% APR")
}

func TestEvaluateGoldProfile(t *testing.T) {
	e := New(nil, nil)

	res, err := e.Evaluate(context.Background(), snapshotWith(
		profileSlots("home_purchase", 10000, 120, "excellent", true),
	))

	require.NoError(t, err)
	assert.Contains(t, res.Reply, "gold tier")
	assert.Contains(t, res.Reply, "Prime Home Loan")
}

func TestEvaluateNoMatchingProducts(t *testing.T) {
	e := New(nil, nil)

	res, err := e.Evaluate(context.Background(), snapshotWith(
		profileSlots("business_investment", 90000, 60, "poor", false),
	))

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateTerminated, res.Directive.Target, "no match still concludes the session")
	assert.Contains(t, res.Reply, "none of our current products")
}

func TestEvaluateInconsistentAmountRollsBack(t *testing.T) {
	e := New(nil, nil)

	slots := profileSlots("car_purchase", 15000, 36, "good", false)
	slots[conversation.SlotAmount] = conversation.NumberValue(-5)

	res, err := e.Evaluate(context.Background(), snapshotWith(slots))

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateProfiling, res.Directive.Target)
	assert.Equal(t, []conversation.SlotName{conversation.SlotAmount}, res.Directive.InvalidSlots)
	assert.Contains(t, res.Reply, "loan profiler")
}

func TestEvaluateInconsistentTermRollsBack(t *testing.T) {
	e := New(nil, nil)

	slots := profileSlots("education", 20000, 9999, "good", false)

	res, err := e.Evaluate(context.Background(), snapshotWith(slots))

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateProfiling, res.Directive.Target)
	assert.Equal(t, []conversation.SlotName{conversation.SlotTerm}, res.Directive.InvalidSlots)
}

func TestEvaluateDebtIncomeMismatchRollsBack(t *testing.T) {
	e := New(nil, nil)

	slots := profileSlots("education", 20000, 48, "good", false)
	slots[conversation.SlotIncome] = conversation.NumberValue(30000)
	slots[conversation.SlotExistingDebt] = conversation.NumberValue(500000)

	res, err := e.Evaluate(context.Background(), snapshotWith(slots))

	require.NoError(t, err)
	require.NotNil(t, res.Directive)
	assert.Equal(t, handoff.StateProfiling, res.Directive.Target)
	assert.ElementsMatch(t,
		[]conversation.SlotName{conversation.SlotIncome, conversation.SlotExistingDebt},
		res.Directive.InvalidSlots,
	)
}
