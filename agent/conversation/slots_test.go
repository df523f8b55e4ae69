package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMergeFillsUnknownSlots(t *testing.T) {
	slots := NewSlotSet()
	applied, rejected := slots.Merge(SlotSet{
		SlotPurpose: StringValue("car_purchase"),
		SlotAmount:  NumberValue(15000),
	})

	assert.ElementsMatch(t, []SlotName{SlotPurpose, SlotAmount}, applied)
	assert.Empty(t, rejected)
	assert.Equal(t, "car_purchase", slots[SlotPurpose].Text)
	assert.Equal(t, float64(15000), slots[SlotAmount].Number)
}

func TestMergeRejectsOverwrite(t *testing.T) {
	slots := SlotSet{SlotAmount: NumberValue(15000)}

	applied, rejected := slots.Merge(SlotSet{SlotAmount: NumberValue(20000)})

	assert.Empty(t, applied)
	assert.Equal(t, []SlotName{SlotAmount}, rejected)
	assert.Equal(t, float64(15000), slots[SlotAmount].Number, "known value must survive")
}

func TestMergeIdempotentRestatement(t *testing.T) {
	slots := SlotSet{SlotCreditScore: StringValue("good")}

	applied, rejected := slots.Merge(SlotSet{SlotCreditScore: StringValue("good")})

	assert.Empty(t, applied)
	assert.Empty(t, rejected, "restating a known fact is not a conflict")
}

func TestMergeMixedBatch(t *testing.T) {
	slots := SlotSet{SlotPurpose: StringValue("education")}

	applied, rejected := slots.Merge(SlotSet{
		SlotPurpose: StringValue("car_purchase"), // conflicts
		SlotTerm:    IntegerValue(36),            // new
	})

	assert.Equal(t, []SlotName{SlotTerm}, applied)
	assert.Equal(t, []SlotName{SlotPurpose}, rejected)
	assert.Equal(t, "education", slots[SlotPurpose].Text)
	assert.Equal(t, int64(36), slots[SlotTerm].Integer)
}

func TestClearRemovesOnlyNamed(t *testing.T) {
	slots := SlotSet{
		SlotAmount: NumberValue(50000),
		SlotTerm:   IntegerValue(60),
		SlotIncome: NumberValue(8000),
	}

	cleared := slots.Clear(SlotAmount, SlotTerm, SlotCollateral)

	assert.ElementsMatch(t, []SlotName{SlotAmount, SlotTerm}, cleared)
	assert.False(t, slots.Known(SlotAmount))
	assert.False(t, slots.Known(SlotTerm))
	assert.True(t, slots.Known(SlotIncome))
}

func TestMissingPreservesRequiredOrder(t *testing.T) {
	slots := SlotSet{SlotAmount: NumberValue(10000)}

	missing := slots.Missing(DefaultRequiredSlots())

	require.Equal(t, []SlotName{SlotPurpose, SlotTerm, SlotCreditScore, SlotCollateral}, missing)
	assert.False(t, slots.Complete(DefaultRequiredSlots()))

	slots[SlotPurpose] = StringValue("home_purchase")
	slots[SlotTerm] = IntegerValue(240)
	slots[SlotCreditScore] = StringValue("excellent")
	slots[SlotCollateral] = BoolValue(true)
	assert.True(t, slots.Complete(DefaultRequiredSlots()))
}

func TestVocabularies(t *testing.T) {
	assert.True(t, ValidPurpose("debt_consolidation"))
	assert.False(t, ValidPurpose("yacht"))
	assert.True(t, ValidCreditScore("fair"))
	assert.False(t, ValidCreditScore("stellar"))
}

func TestSlotValueString(t *testing.T) {
	assert.Equal(t, "12500.5", NumberValue(12500.5).String())
	assert.Equal(t, "36", IntegerValue(36).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "good", StringValue("good").String())
}

// Once a slot is known, no sequence of merges can ever change its value.
func TestMergeMonotonicity(t *testing.T) {
	slotNames := []SlotName{
		SlotPurpose, SlotAmount, SlotTerm, SlotCreditScore,
		SlotCollateral, SlotIncome, SlotExistingDebt,
	}

	rapid.Check(t, func(t *rapid.T) {
		slots := NewSlotSet()
		pinned := make(map[SlotName]SlotValue)

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			updates := NewSlotSet()
			n := rapid.IntRange(1, 4).Draw(t, "batch")
			for j := 0; j < n; j++ {
				name := rapid.SampledFrom(slotNames).Draw(t, "slot")
				updates[name] = NumberValue(float64(rapid.IntRange(0, 100).Draw(t, "value")))
			}

			slots.Merge(updates)

			for name, value := range slots {
				if prev, ok := pinned[name]; ok {
					if !prev.Equal(value) {
						t.Fatalf("slot %s changed from %v to %v", name, prev, value)
					}
				} else {
					pinned[name] = value
				}
			}
			for name := range pinned {
				if !slots.Known(name) {
					t.Fatalf("slot %s became unknown after merge", name)
				}
			}
		}
	})
}
