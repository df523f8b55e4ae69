package evaluator

import (
	"fmt"
	"sort"

	"github.com/finagents/loanflow/agent/conversation"
)

// Tier is the risk tier a completed profile maps to.
type Tier string

const (
	TierGold   Tier = "gold"
	TierSilver Tier = "silver"
	TierBronze Tier = "bronze"
)

// Product is one loan product from the catalog.
type Product struct {
	Name      string   `json:"name" yaml:"name"`
	Tier      Tier     `json:"tier" yaml:"tier"`
	Purposes  []string `json:"purposes" yaml:"purposes"` // empty means any purpose
	RateAPR   float64  `json:"rate_apr" yaml:"rate_apr"`
	MaxAmount float64  `json:"max_amount" yaml:"max_amount"`
	MaxTerm   int64    `json:"max_term_months" yaml:"max_term_months"`
}

// Matcher selects the loan products available for a completed profile.
// The orchestration core depends only on this interface; catalogs, pricing
// engines, and external underwriting services all fit behind it.
type Matcher interface {
	Match(slots conversation.SlotSet) (Tier, []Product, error)
}

// TierMatcher classifies profiles into risk tiers with fixed rules and
// filters a static catalog by tier, purpose, amount, and term.
//
// Tiering:
//   - gold: excellent credit, and either collateral or an amount of at most
//     $20,000
//   - bronze: poor credit, or an amount above $100,000 without collateral
//   - silver: everything in between
type TierMatcher struct {
	catalog []Product
}

// NewTierMatcher builds a matcher over the given catalog; a nil catalog uses
// DefaultCatalog.
func NewTierMatcher(catalog []Product) *TierMatcher {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &TierMatcher{catalog: catalog}
}

// Match implements Matcher.
func (m *TierMatcher) Match(slots conversation.SlotSet) (Tier, []Product, error) {
	credit, ok := slots[conversation.SlotCreditScore]
	if !ok {
		return "", nil, fmt.Errorf("credit score unknown")
	}
	amount, ok := slots[conversation.SlotAmount]
	if !ok {
		return "", nil, fmt.Errorf("amount unknown")
	}
	collateral := slots[conversation.SlotCollateral].Flag
	purpose := slots[conversation.SlotPurpose].Text
	term := slots[conversation.SlotTerm].Integer

	tier := classify(credit.Text, amount.Number, collateral)

	var matched []Product
	for _, p := range m.catalog {
		if p.Tier != tier {
			continue
		}
		if len(p.Purposes) > 0 && !contains(p.Purposes, purpose) {
			continue
		}
		if p.MaxAmount > 0 && amount.Number > p.MaxAmount {
			continue
		}
		if p.MaxTerm > 0 && term > p.MaxTerm {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].RateAPR < matched[j].RateAPR })
	return tier, matched, nil
}

func classify(credit string, amount float64, collateral bool) Tier {
	switch {
	case credit == "excellent" && (collateral || amount <= 20000):
		return TierGold
	case credit == "poor", amount > 100000 && !collateral:
		return TierBronze
	default:
		return TierSilver
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// DefaultCatalog is the built-in product catalog.
func DefaultCatalog() []Product {
	return []Product{
		{Name: "Prime Home Loan", Tier: TierGold, Purposes: []string{"home_purchase"}, RateAPR: 4.2, MaxAmount: 1000000, MaxTerm: 360},
		{Name: "Prime Flex Loan", Tier: TierGold, RateAPR: 5.1, MaxAmount: 250000, MaxTerm: 120},
		{Name: "Standard Auto Loan", Tier: TierSilver, Purposes: []string{"car_purchase"}, RateAPR: 6.9, MaxAmount: 120000, MaxTerm: 84},
		{Name: "Standard Personal Loan", Tier: TierSilver, RateAPR: 8.4, MaxAmount: 100000, MaxTerm: 84},
		{Name: "Education Advance", Tier: TierSilver, Purposes: []string{"education"}, RateAPR: 5.9, MaxAmount: 150000, MaxTerm: 180},
		{Name: "Fresh Start Loan", Tier: TierBronze, RateAPR: 14.5, MaxAmount: 25000, MaxTerm: 60},
		{Name: "Secured Consolidation Loan", Tier: TierBronze, Purposes: []string{"debt_consolidation"}, RateAPR: 12.9, MaxAmount: 60000, MaxTerm: 84},
	}
}
