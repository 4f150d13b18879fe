package rules

import (
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	compiler, err := NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	return compiler
}

func TestCompileSimpleRule(t *testing.T) {
	compiler := newTestCompiler(t)

	rule, err := compiler.Compile(&domain.RuleConfig{
		ID:         "custom-001",
		Name:       "High USD amount",
		Expression: `amount > 1000.0 && currency == "USD"`,
		Label:      "High USD amount",
		Weight:     0.20,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	tx := quietTransaction()
	tx.Amount = 5000
	tx.Currency = "USD"
	if !rule.Match(tx) {
		t.Error("expected rule to match high USD amount")
	}

	tx.Currency = "IDR"
	if rule.Match(tx) {
		t.Error("expected rule not to match IDR transaction")
	}
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	compiler := newTestCompiler(t)

	_, err := compiler.Compile(&domain.RuleConfig{
		ID:         "bad-syntax",
		Expression: "this is not valid CEL !!!",
		Label:      "x",
		Weight:     0.1,
	})
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestCompileRejectsNonBooleanExpression(t *testing.T) {
	compiler := newTestCompiler(t)

	_, err := compiler.Compile(&domain.RuleConfig{
		ID:         "non-bool",
		Expression: "amount * 2.0",
		Label:      "x",
		Weight:     0.1,
	})
	if err == nil {
		t.Error("expected error for non-boolean expression")
	}
}

func TestValidateWithoutCompiling(t *testing.T) {
	compiler := newTestCompiler(t)

	if err := compiler.Validate(&domain.RuleConfig{ID: "ok", Expression: "amount > 0.0"}); err != nil {
		t.Errorf("expected valid expression to pass: %v", err)
	}
	if err := compiler.Validate(&domain.RuleConfig{ID: "bad", Expression: "amount +"}); err == nil {
		t.Error("expected invalid expression to fail validation")
	}
	if err := compiler.Validate(nil); err == nil {
		t.Error("expected nil config to fail validation")
	}
}

func TestEvaluationErrorDoesNotFire(t *testing.T) {
	compiler := newTestCompiler(t)

	// Compiles fine but errors at evaluation time when the key is absent.
	rule, err := compiler.Compile(&domain.RuleConfig{
		ID:         "metadata-probe",
		Expression: `metadata["channel"] == "atm"`,
		Label:      "ATM channel",
		Weight:     0.10,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	tx := quietTransaction()
	tx.Metadata = nil
	if rule.Match(tx) {
		t.Error("expected rule not to fire when metadata key is absent")
	}

	tx.Metadata = map[string]interface{}{"channel": "atm"}
	if !rule.Match(tx) {
		t.Error("expected rule to fire when metadata matches")
	}
}

func TestTemporalVariables(t *testing.T) {
	compiler := newTestCompiler(t)

	rule, err := compiler.Compile(&domain.RuleConfig{
		ID:         "early-morning",
		Expression: "hour < 6 && prev_count > 10",
		Label:      "Early morning on active account",
		Weight:     0.15,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	tx := quietTransaction()
	tx.Timestamp = time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	tx.PreviousTxCount = 25
	if !rule.Match(tx) {
		t.Error("expected rule to match 3AM transaction on active account")
	}

	tx.Timestamp = time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	if rule.Match(tx) {
		t.Error("expected rule not to match afternoon transaction")
	}
}

func TestCompileDefaultsLabelToName(t *testing.T) {
	compiler := newTestCompiler(t)

	rule, err := compiler.Compile(&domain.RuleConfig{
		ID:         "no-label",
		Name:       "Named rule",
		Expression: "amount > 0.0",
		Weight:     0.10,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}
	if rule.Label != "Named rule" {
		t.Errorf("expected label to default to name, got %q", rule.Label)
	}
}

func TestCompileAllSkipsDisabled(t *testing.T) {
	compiler := newTestCompiler(t)

	configs := []*domain.RuleConfig{
		{ID: "r1", Expression: "amount > 100.0", Label: "a", Weight: 0.1, Enabled: true},
		{ID: "r2", Expression: "amount > 200.0", Label: "b", Weight: 0.1, Enabled: false},
		{ID: "r3", Expression: "amount > 300.0", Label: "c", Weight: 0.1, Enabled: true},
	}

	compiled, err := compiler.CompileAll(configs)
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}

	if len(compiled) != 2 {
		t.Fatalf("expected 2 compiled rules, got %d", len(compiled))
	}
	if compiled[0].ID != "r1" || compiled[1].ID != "r3" {
		t.Errorf("compiled rules out of order: %s, %s", compiled[0].ID, compiled[1].ID)
	}
}

func TestCompileAllFailsOnBrokenRule(t *testing.T) {
	compiler := newTestCompiler(t)

	configs := []*domain.RuleConfig{
		{ID: "ok", Expression: "amount > 100.0", Label: "a", Weight: 0.1, Enabled: true},
		{ID: "broken", Expression: "amount >", Label: "b", Weight: 0.1, Enabled: true},
	}

	if _, err := compiler.CompileAll(configs); err == nil {
		t.Error("expected error when one rule fails to compile")
	}
}
