package rules

import (
	"math"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// quietTransaction returns a transaction that triggers no built-in rule:
// modest amount, weekday afternoon, established account.
func quietTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:               "tx-001",
		TenantID:         "tenant-001",
		AccountID:        "acc-001",
		Amount:           5000,
		Currency:         "USD",
		Timestamp:        time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC), // Wednesday 2PM
		Location:         "Jakarta",
		AuthMethod:       "PIN",
		PreviousTxCount:  25,
		Velocity:         2,
		DistanceKM:       5,
		MinutesSinceLast: 120,
	}
}

func newTestSet(t *testing.T, custom ...Rule) *Set {
	t.Helper()
	set, err := NewSet(domain.DefaultRuleThresholds(), custom...)
	if err != nil {
		t.Fatalf("failed to build rule set: %v", err)
	}
	return set
}

func TestNoRulesTriggered(t *testing.T) {
	set := newTestSet(t)

	out := set.Evaluate(quietTransaction())

	if out.Score != 0 {
		t.Errorf("expected score 0, got %.2f", out.Score)
	}
	if len(out.Triggered) != 0 {
		t.Errorf("expected no triggered rules, got %v", out.Triggered)
	}
	if len(out.Results) != set.Len() {
		t.Errorf("expected %d results, got %d", set.Len(), len(out.Results))
	}
}

func TestHighAmountRule(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.Amount = 80_000_000

	out := set.Evaluate(tx)

	if math.Abs(out.Score-0.30) > 1e-9 {
		t.Errorf("expected score 0.30, got %.2f", out.Score)
	}
	if len(out.Triggered) != 1 || out.Triggered[0] != LabelHighAmount {
		t.Errorf("expected [%s], got %v", LabelHighAmount, out.Triggered)
	}
}

func TestAmountAtThresholdDoesNotTrigger(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.Amount = 75_000_000 // exactly at threshold, strict comparison

	out := set.Evaluate(tx)
	if out.Score != 0 {
		t.Errorf("expected score 0 at threshold boundary, got %.2f", out.Score)
	}
}

func TestHighAmountPlusFailedAuth(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.Amount = 80_000_000
	tx.AuthMethod = domain.AuthFailed

	out := set.Evaluate(tx)

	if math.Abs(out.Score-0.55) > 1e-9 {
		t.Errorf("expected score 0.55, got %.2f", out.Score)
	}
	if len(out.Triggered) != 2 {
		t.Fatalf("expected 2 triggered rules, got %v", out.Triggered)
	}
	// Declaration order: high amount before failed auth.
	if out.Triggered[0] != LabelHighAmount || out.Triggered[1] != LabelFailedAuth {
		t.Errorf("triggered labels out of order: %v", out.Triggered)
	}
}

func TestScoreCapsAtOne(t *testing.T) {
	set := newTestSet(t)

	// Trigger everything: huge amount, night, weekend, failed auth, high
	// velocity, long distance, rapid succession. Weight sum is 1.20.
	tx := quietTransaction()
	tx.Amount = 100_000_000
	tx.Timestamp = time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC) // Saturday 11:30PM
	tx.AuthMethod = domain.AuthFailed
	tx.Velocity = 20
	tx.DistanceKM = 900
	tx.MinutesSinceLast = 0.5

	out := set.Evaluate(tx)

	if out.Score != 1.0 {
		t.Errorf("expected score capped at 1.0, got %.4f", out.Score)
	}
	// No short-circuit: the triggered list stays complete past the cap.
	if len(out.Triggered) != 7 {
		t.Errorf("expected all 7 rules triggered, got %d: %v", len(out.Triggered), out.Triggered)
	}
}

func TestFirstTransactionExemptFromHistoryRules(t *testing.T) {
	set := newTestSet(t)

	// First-ever transaction with wild behavioral values. Velocity, distance,
	// and rapid-succession must not fire; there is no history to compare to.
	tx := quietTransaction()
	tx.PreviousTxCount = 0
	tx.Velocity = 50
	tx.DistanceKM = 2000
	tx.MinutesSinceLast = 0

	out := set.Evaluate(tx)

	if out.Score != 0 {
		t.Errorf("expected score 0 for first transaction, got %.2f", out.Score)
	}
	for _, label := range out.Triggered {
		t.Errorf("unexpected triggered rule for first transaction: %s", label)
	}
}

func TestFirstTransactionStillChecksStatelessRules(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.PreviousTxCount = 0
	tx.AuthMethod = domain.AuthFailed

	out := set.Evaluate(tx)

	if math.Abs(out.Score-0.25) > 1e-9 {
		t.Errorf("expected score 0.25, got %.2f", out.Score)
	}
	if len(out.Triggered) != 1 || out.Triggered[0] != LabelFailedAuth {
		t.Errorf("expected failed auth only, got %v", out.Triggered)
	}
}

func TestNightWindowWrapsMidnight(t *testing.T) {
	set := newTestSet(t)

	cases := []struct {
		hour  int
		night bool
	}{
		{21, false},
		{22, true}, // start inclusive
		{23, true},
		{0, true},
		{3, true},
		{6, true}, // end inclusive
		{7, false},
		{14, false},
	}

	for _, tc := range cases {
		tx := quietTransaction()
		tx.Timestamp = time.Date(2025, 6, 11, tc.hour, 0, 0, 0, time.UTC)

		out := set.Evaluate(tx)
		triggered := false
		for _, label := range out.Triggered {
			if label == LabelNight {
				triggered = true
			}
		}
		if triggered != tc.night {
			t.Errorf("hour %d: expected night=%v, got %v", tc.hour, tc.night, triggered)
		}
	}
}

func TestWeekendRule(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.Timestamp = time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC) // Sunday 2PM

	out := set.Evaluate(tx)

	if math.Abs(out.Score-0.05) > 1e-9 {
		t.Errorf("expected score 0.05, got %.2f", out.Score)
	}
	if len(out.Triggered) != 1 || out.Triggered[0] != LabelWeekend {
		t.Errorf("expected weekend rule only, got %v", out.Triggered)
	}
}

func TestResultsIncludeUntriggeredRules(t *testing.T) {
	set := newTestSet(t)

	tx := quietTransaction()
	tx.AuthMethod = domain.AuthFailed

	out := set.Evaluate(tx)

	if len(out.Results) != set.Len() {
		t.Fatalf("expected %d results, got %d", set.Len(), len(out.Results))
	}

	triggered := 0
	for _, r := range out.Results {
		if r.Triggered {
			triggered++
			if r.RuleID != "builtin-failed-auth" {
				t.Errorf("unexpected triggered rule %s", r.RuleID)
			}
		}
	}
	if triggered != 1 {
		t.Errorf("expected 1 triggered result, got %d", triggered)
	}
}

func TestCustomRulesAppendAfterBuiltins(t *testing.T) {
	custom := Rule{
		ID:     "custom-jakarta",
		Label:  "Transaction outside Jakarta",
		Weight: 0.10,
		Match: func(tx *domain.Transaction) bool {
			return tx.Location != "Jakarta"
		},
	}
	set := newTestSet(t, custom)

	if set.Len() != 8 {
		t.Fatalf("expected 8 rules, got %d", set.Len())
	}

	tx := quietTransaction()
	tx.Location = "Surabaya"
	tx.AuthMethod = domain.AuthFailed

	out := set.Evaluate(tx)

	if len(out.Triggered) != 2 {
		t.Fatalf("expected 2 triggered rules, got %v", out.Triggered)
	}
	// Built-in rules come first, custom rules keep load order after them.
	if out.Triggered[0] != LabelFailedAuth || out.Triggered[1] != "Transaction outside Jakarta" {
		t.Errorf("triggered labels out of order: %v", out.Triggered)
	}
}

func TestNewSetRejectsMalformedRules(t *testing.T) {
	match := func(tx *domain.Transaction) bool { return true }

	cases := []struct {
		name string
		rule Rule
	}{
		{"missing id", Rule{Label: "x", Weight: 0.5, Match: match}},
		{"missing label", Rule{ID: "r1", Weight: 0.5, Match: match}},
		{"zero weight", Rule{ID: "r1", Label: "x", Weight: 0, Match: match}},
		{"weight above one", Rule{ID: "r1", Label: "x", Weight: 1.5, Match: match}},
		{"missing predicate", Rule{ID: "r1", Label: "x", Weight: 0.5}},
		{"duplicate id", Rule{ID: "builtin-high-amount", Label: "x", Weight: 0.5, Match: match}},
	}

	for _, tc := range cases {
		if _, err := NewSet(domain.DefaultRuleThresholds(), tc.rule); err == nil {
			t.Errorf("%s: expected construction error", tc.name)
		}
	}
}
