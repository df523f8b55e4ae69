package conversation

import (
	"fmt"
	"sort"
	"strconv"
)

// SlotName identifies a single fact the system needs from the user.
type SlotName string

// Slot vocabulary for loan origination.
const (
	SlotPurpose      SlotName = "purpose"
	SlotAmount       SlotName = "amount"
	SlotTerm         SlotName = "term"
	SlotCreditScore  SlotName = "credit_score"
	SlotCollateral   SlotName = "collateral"
	SlotIncome       SlotName = "income"
	SlotExistingDebt SlotName = "existing_debt"
)

// DefaultRequiredSlots returns the facts the profiler must collect before
// evaluation, in elicitation order.
func DefaultRequiredSlots() []SlotName {
	return []SlotName{SlotPurpose, SlotAmount, SlotTerm, SlotCreditScore, SlotCollateral}
}

// PurposeValues is the closed set of loan purposes.
var PurposeValues = []string{
	"home_purchase",
	"car_purchase",
	"debt_consolidation",
	"business_investment",
	"education",
}

// CreditScoreValues is the closed set of credit score tiers.
var CreditScoreValues = []string{"excellent", "good", "fair", "poor"}

// ValidPurpose reports whether v is a member of the purpose vocabulary.
func ValidPurpose(v string) bool { return contains(PurposeValues, v) }

// ValidCreditScore reports whether v is a member of the credit score tiers.
func ValidCreditScore(v string) bool { return contains(CreditScoreValues, v) }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// SlotType is the value type carried by a slot.
type SlotType string

const (
	TypeString  SlotType = "string"
	TypeNumber  SlotType = "number"
	TypeInteger SlotType = "integer"
	TypeBool    SlotType = "boolean"
)

// SlotValue is a typed slot value. A slot with no SlotValue in the SlotSet
// is unknown; there is no explicit "unknown" sentinel value.
type SlotValue struct {
	Type    SlotType `json:"type"`
	Text    string   `json:"text,omitempty"`
	Number  float64  `json:"number,omitempty"`
	Integer int64    `json:"integer,omitempty"`
	Flag    bool     `json:"flag,omitempty"`
}

// StringValue builds a string-typed slot value.
func StringValue(s string) SlotValue { return SlotValue{Type: TypeString, Text: s} }

// NumberValue builds a number-typed slot value.
func NumberValue(n float64) SlotValue { return SlotValue{Type: TypeNumber, Number: n} }

// IntegerValue builds an integer-typed slot value.
func IntegerValue(n int64) SlotValue { return SlotValue{Type: TypeInteger, Integer: n} }

// BoolValue builds a boolean-typed slot value.
func BoolValue(b bool) SlotValue { return SlotValue{Type: TypeBool, Flag: b} }

// Equal reports whether two slot values carry the same type and payload.
func (v SlotValue) Equal(o SlotValue) bool {
	return v.Type == o.Type && v.Text == o.Text && v.Number == o.Number &&
		v.Integer == o.Integer && v.Flag == o.Flag
}

// String renders the value for replies and audit records.
func (v SlotValue) String() string {
	switch v.Type {
	case TypeNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBool:
		return strconv.FormatBool(v.Flag)
	default:
		return v.Text
	}
}

// SlotSet maps fact names to typed values. Absence means unknown.
type SlotSet map[SlotName]SlotValue

// NewSlotSet returns an empty slot set.
func NewSlotSet() SlotSet { return make(SlotSet) }

// Known reports whether the slot has been filled.
func (s SlotSet) Known(name SlotName) bool {
	_, ok := s[name]
	return ok
}

// Missing returns the required slots that remain unknown, preserving the
// order of required. Deterministic ordering keeps elicitation reproducible.
func (s SlotSet) Missing(required []SlotName) []SlotName {
	var missing []SlotName
	for _, name := range required {
		if !s.Known(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Complete reports whether every required slot is known.
func (s SlotSet) Complete(required []SlotName) bool {
	return len(s.Missing(required)) == 0
}

// Clone returns a deep copy of the slot set.
func (s SlotSet) Clone() SlotSet {
	out := make(SlotSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge applies updates additively: a slot is set only when it is currently
// unknown or the update carries an identical value. Attempts to overwrite a
// known slot with a different value are rejected, never applied. Returned
// slices list the applied and rejected slot names in sorted order.
func (s SlotSet) Merge(updates SlotSet) (applied, rejected []SlotName) {
	for name, value := range updates {
		current, known := s[name]
		switch {
		case !known:
			s[name] = value
			applied = append(applied, name)
		case current.Equal(value):
			// idempotent restatement of a known fact
		default:
			rejected = append(rejected, name)
		}
	}
	sortSlotNames(applied)
	sortSlotNames(rejected)
	return applied, rejected
}

// Clear removes the named slots. This is the only way a known slot reverts
// to unknown and is reserved for the evaluator's inconsistency path; callers
// must audit the reason.
func (s SlotSet) Clear(names ...SlotName) []SlotName {
	var cleared []SlotName
	for _, name := range names {
		if _, ok := s[name]; ok {
			delete(s, name)
			cleared = append(cleared, name)
		}
	}
	return cleared
}

// Summary renders the known slots as "name=value" pairs in sorted order.
func (s SlotSet) Summary() string {
	names := make([]SlotName, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sortSlotNames(names)

	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%s", name, s[name].String())
	}
	return out
}

func sortSlotNames(names []SlotName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
