// Package rules provides the ordered rule-evaluation layer of the risk
// engine: a fixed built-in rule set plus operator-defined CEL rules.
package rules

import (
	"fmt"

	"github.com/openrisk/kestrel/internal/domain"
)

// Rule is one ordered entry of a rule set: a predicate over the raw
// transaction, a weight contributed when it fires, and a human-readable
// label appended to the verdict's triggered list.
type Rule struct {
	ID     string
	Label  string
	Weight float64

	// HistoryDependent rules are skipped for first-ever transactions
	// (PreviousTxCount == 0).
	HistoryDependent bool

	Match func(tx *domain.Transaction) bool
}

// Set is an immutable ordered rule set. Evaluation order is declaration
// order, which is the order triggered labels appear in the verdict. A Set is
// never mutated after construction; reconfiguration builds a new Set that
// replaces the old one wholesale.
type Set struct {
	rules []Rule
}

// NewSet builds a rule set: the canonical built-in rules against the given
// thresholds, followed by any custom rules in load order. The whole set is
// validated eagerly; a malformed rule is a construction error, never a
// per-request surprise.
func NewSet(thresholds domain.RuleThresholds, custom ...Rule) (*Set, error) {
	rules := builtinRules(thresholds)
	rules = append(rules, custom...)

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, &domain.ConfigError{Component: "rule set", Reason: "rule id is required"}
		}
		if _, dup := seen[r.ID]; dup {
			return nil, &domain.ConfigError{Component: "rule set", Reason: fmt.Sprintf("duplicate rule id %q", r.ID)}
		}
		seen[r.ID] = struct{}{}

		if r.Label == "" {
			return nil, &domain.ConfigError{Component: "rule set", Reason: fmt.Sprintf("rule %s: label is required", r.ID)}
		}
		if r.Weight <= 0 || r.Weight > 1 {
			return nil, &domain.ConfigError{Component: "rule set", Reason: fmt.Sprintf("rule %s: weight must be in (0,1]", r.ID)}
		}
		if r.Match == nil {
			return nil, &domain.ConfigError{Component: "rule set", Reason: fmt.Sprintf("rule %s: predicate is required", r.ID)}
		}
	}

	return &Set{rules: rules}, nil
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}

// Outcome is the result of evaluating a rule set against one transaction.
type Outcome struct {
	// Score is min(1.0, sum of triggered weights).
	Score float64

	// Triggered holds the labels of fired rules in declaration order.
	Triggered []string

	// Results holds one entry per rule, fired or not.
	Results []domain.RuleResult
}

// Evaluate runs every rule against the transaction. Rules are independent:
// no short-circuiting, so the triggered list is complete even after the
// score saturates at 1.0. First-ever transactions are exempt from
// history-dependent rules.
func (s *Set) Evaluate(tx *domain.Transaction) Outcome {
	out := Outcome{
		Triggered: []string{},
		Results:   make([]domain.RuleResult, 0, len(s.rules)),
	}

	firstTx := tx.PreviousTxCount == 0

	for _, r := range s.rules {
		result := domain.RuleResult{
			RuleID: r.ID,
			Label:  r.Label,
			Weight: r.Weight,
		}

		if !(firstTx && r.HistoryDependent) && r.Match(tx) {
			result.Triggered = true
			out.Score += r.Weight
			out.Triggered = append(out.Triggered, r.Label)
		}

		out.Results = append(out.Results, result)
	}

	if out.Score > 1.0 {
		out.Score = 1.0
	}

	return out
}
