package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		Amount:    100,
		Timestamp: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid transaction, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{"negative amount", func(tx *Transaction) { tx.Amount = -1 }},
		{"zero timestamp", func(tx *Transaction) { tx.Timestamp = time.Time{} }},
		{"negative previous count", func(tx *Transaction) { tx.PreviousTxCount = -1 }},
		{"negative distance", func(tx *Transaction) { tx.DistanceKM = -1 }},
		{"negative minutes", func(tx *Transaction) { tx.MinutesSinceLast = -1 }},
		{"negative velocity", func(tx *Transaction) { tx.Velocity = -1 }},
	}

	for _, tc := range cases {
		tx := valid
		tc.mutate(&tx)
		if err := tx.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestToTransactionDefaults(t *testing.T) {
	req := TransactionRequest{
		AccountID: "acc-001",
		Amount:    500,
		Currency:  "USD",
	}

	tx := req.ToTransaction()

	if tx.Location != LocationUnknown {
		t.Errorf("expected location %q, got %q", LocationUnknown, tx.Location)
	}
	if tx.Timestamp.IsZero() {
		t.Error("expected timestamp to default to now")
	}
	if tx.PreviousTxCount != 0 || tx.Velocity != 0 {
		t.Error("expected behavioral fields to default to zero")
	}
}

func TestToTransactionPreservesExplicitValues(t *testing.T) {
	prev := 5
	velocity := 3.0
	distance := 42.0
	minutes := 15.0
	ts := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

	req := TransactionRequest{
		AccountID:        "acc-001",
		Amount:           500,
		Timestamp:        ts,
		Location:         "Jakarta",
		PreviousTxCount:  &prev,
		Velocity:         &velocity,
		DistanceKM:       &distance,
		MinutesSinceLast: &minutes,
	}

	tx := req.ToTransaction()

	if !tx.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp preserved, got %v", tx.Timestamp)
	}
	if tx.Location != "Jakarta" {
		t.Errorf("expected Jakarta, got %s", tx.Location)
	}
	if tx.PreviousTxCount != 5 || tx.Velocity != 3 || tx.DistanceKM != 42 || tx.MinutesSinceLast != 15 {
		t.Errorf("behavioral fields not preserved: %+v", tx)
	}
}

func TestRecommendationForIsTotal(t *testing.T) {
	cases := map[RiskLevel]Recommendation{
		RiskHigh:   RecommendBlock,
		RiskMedium: RecommendReview,
		RiskLow:    RecommendMonitor,
		RiskSafe:   RecommendApprove,
	}

	for level, want := range cases {
		got, err := RecommendationFor(level)
		if err != nil {
			t.Errorf("%s: unexpected error %v", level, err)
		}
		if got != want {
			t.Errorf("%s: expected %s, got %s", level, want, got)
		}
	}

	if _, err := RecommendationFor(RiskLevel("CRITICAL")); err == nil {
		t.Error("expected error for unknown risk level")
	}
}

func TestVerdictRequiresAction(t *testing.T) {
	if !(&Verdict{RiskLevel: RiskHigh}).RequiresAction() {
		t.Error("expected HIGH to require action")
	}
	if !(&Verdict{RiskLevel: RiskMedium}).RequiresAction() {
		t.Error("expected MEDIUM to require action")
	}
	if (&Verdict{RiskLevel: RiskLow}).RequiresAction() {
		t.Error("expected LOW not to require action")
	}
	if (&Verdict{RiskLevel: RiskSafe}).RequiresAction() {
		t.Error("expected SAFE not to require action")
	}
}

func TestIsNightWrapsMidnight(t *testing.T) {
	thresholds := DefaultRuleThresholds()

	for _, hour := range []int{22, 23, 0, 3, 6} {
		if !thresholds.IsNight(hour) {
			t.Errorf("expected hour %d to be night", hour)
		}
	}
	for _, hour := range []int{7, 12, 21} {
		if thresholds.IsNight(hour) {
			t.Errorf("expected hour %d not to be night", hour)
		}
	}

	// Non-wrapping window.
	daytime := RuleThresholds{NightStartHour: 1, NightEndHour: 5}
	if !daytime.IsNight(3) {
		t.Error("expected hour 3 inside [1,5]")
	}
	if daytime.IsNight(6) {
		t.Error("expected hour 6 outside [1,5]")
	}
}

func TestEngineConfigValidate(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Errorf("expected default config to validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"negative weight", func(c *EngineConfig) { c.MLWeight = -0.1; c.RuleWeight = 0.95 }},
		{"weights not summing to one", func(c *EngineConfig) { c.MLWeight = 0.9 }},
		{"ml only", func(c *EngineConfig) { c.MLWeight = 1; c.RuleWeight = 0; c.AnomalyWeight = 0 }},
		{"thresholds out of order", func(c *EngineConfig) { c.MediumThreshold = 0.8 }},
		{"zero low threshold", func(c *EngineConfig) { c.LowThreshold = 0 }},
		{"non-positive z threshold", func(c *EngineConfig) { c.AnomalyZThreshold = 0 }},
		{"negative min samples", func(c *EngineConfig) { c.AnomalyMinSamples = -1 }},
	}

	for _, tc := range cases {
		cfg := DefaultEngineConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestBaselineEncode(t *testing.T) {
	baseline := &Baseline{
		Encodings: map[string]map[string]int{
			"currency": {"IDR": 0, "USD": 1},
		},
	}

	if code := baseline.Encode("currency", "USD"); code != 1 {
		t.Errorf("expected code 1, got %d", code)
	}
	if code := baseline.Encode("currency", "GBP"); code != UnknownCategoryCode {
		t.Errorf("expected unknown code for unseen value, got %d", code)
	}
	if code := baseline.Encode("card_type", "debit"); code != UnknownCategoryCode {
		t.Errorf("expected unknown code for unseen attribute, got %d", code)
	}

	var nilBaseline *Baseline
	if code := nilBaseline.Encode("currency", "USD"); code != UnknownCategoryCode {
		t.Errorf("expected unknown code for nil baseline, got %d", code)
	}
	if _, ok := nilBaseline.Stats(FieldAmount); ok {
		t.Error("expected no statistics for nil baseline")
	}
}

func TestFieldStatsIQR(t *testing.T) {
	stats := FieldStats{Q1: 10, Q3: 35}
	if stats.IQR() != 25 {
		t.Errorf("expected IQR 25, got %.1f", stats.IQR())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	if cfg.Tier != TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Engine.MLWeight != 0.5 {
		t.Errorf("expected ml weight 0.5, got %.2f", cfg.Engine.MLWeight)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	content := `
server:
  port: 9090
engine:
  highThreshold: 0.8
`
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.HighThreshold != 0.8 {
		t.Errorf("expected high threshold 0.8, got %.2f", cfg.Engine.HighThreshold)
	}
	// Untouched settings keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %s", cfg.Server.Host)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("KESTREL_SERVER_PORT", "7070")
	t.Setenv("KESTREL_SQLITE_PATH", "/tmp/test-kestrel.db")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/test-kestrel.db" {
		t.Errorf("expected env sqlite path, got %s", cfg.Repository.SQLitePath)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("KESTREL_SERVER_PORT", "not-a-number")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for malformed port override")
	}
}

func TestLoadConfigRejectsInvalidEnginePolicy(t *testing.T) {
	content := `
engine:
  mlWeight: 0.9
`
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for weights not summing to 1")
	}
}
