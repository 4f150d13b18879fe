package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// testBaseline returns a baseline where every monitored field has mean 100,
// stddev 10, and a sample count comfortably above the minimum.
func testBaseline() *domain.Baseline {
	fields := make(map[string]domain.FieldStats)
	for _, f := range monitoredFields {
		fields[f] = domain.FieldStats{Count: 100, Mean: 100, StdDev: 10}
	}
	return &domain.Baseline{
		ID:          "baseline-001",
		TenantID:    "tenant-001",
		Fields:      fields,
		SampleCount: 100,
		TrainedAt:   time.Now().UTC(),
	}
}

func TestScoreZeroAtBaselineMean(t *testing.T) {
	detector := NewDetector(3.0, 30)

	tx := &domain.Transaction{
		Amount:           100,
		Velocity:         100,
		DistanceKM:       100,
		MinutesSinceLast: 100,
	}

	score := detector.Score(tx, testBaseline())
	if score != 0 {
		t.Errorf("expected score 0 at baseline mean, got %.4f", score)
	}
}

func TestScoreSingleDeviantField(t *testing.T) {
	detector := NewDetector(3.0, 30)

	// Amount at mean + 1.5 stddev: contribution 1.5/3 = 0.5, averaged over
	// 4 fields = 0.125.
	tx := &domain.Transaction{
		Amount:           115,
		Velocity:         100,
		DistanceKM:       100,
		MinutesSinceLast: 100,
	}

	score := detector.Score(tx, testBaseline())
	if math.Abs(score-0.125) > 1e-9 {
		t.Errorf("expected score 0.125, got %.4f", score)
	}
}

func TestContributionClampsAtOne(t *testing.T) {
	detector := NewDetector(3.0, 30)

	// Amount 50 stddevs out; the per-field contribution saturates at 1.
	tx := &domain.Transaction{
		Amount:           600,
		Velocity:         100,
		DistanceKM:       100,
		MinutesSinceLast: 100,
	}

	contributions := detector.Contributions(tx, testBaseline())
	if contributions[domain.FieldAmount] != 1.0 {
		t.Errorf("expected amount contribution 1.0, got %.4f", contributions[domain.FieldAmount])
	}

	score := detector.Score(tx, testBaseline())
	if math.Abs(score-0.25) > 1e-9 {
		t.Errorf("expected score 0.25 with one saturated field, got %.4f", score)
	}
}

func TestNegativeDeviationCountsEqually(t *testing.T) {
	detector := NewDetector(3.0, 30)

	below := &domain.Transaction{Amount: 85, Velocity: 100, DistanceKM: 100, MinutesSinceLast: 100}
	above := &domain.Transaction{Amount: 115, Velocity: 100, DistanceKM: 100, MinutesSinceLast: 100}

	b := detector.Score(below, testBaseline())
	a := detector.Score(above, testBaseline())
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("expected symmetric deviation scores, got %.4f vs %.4f", a, b)
	}
}

func TestNilBaselineScoresZero(t *testing.T) {
	detector := NewDetector(3.0, 30)

	tx := &domain.Transaction{Amount: 1_000_000, Velocity: 500}
	if score := detector.Score(tx, nil); score != 0 {
		t.Errorf("expected score 0 without baseline, got %.4f", score)
	}
}

func TestInsufficientSamplesScoreZero(t *testing.T) {
	detector := NewDetector(3.0, 30)

	baseline := testBaseline()
	for f, stats := range baseline.Fields {
		stats.Count = 10 // below the 30-sample minimum
		baseline.Fields[f] = stats
	}

	tx := &domain.Transaction{Amount: 600, Velocity: 600, DistanceKM: 600, MinutesSinceLast: 600}
	if score := detector.Score(tx, baseline); score != 0 {
		t.Errorf("expected score 0 with insufficient samples, got %.4f", score)
	}
}

func TestZeroStdDevScoresZero(t *testing.T) {
	detector := NewDetector(3.0, 30)

	baseline := testBaseline()
	stats := baseline.Fields[domain.FieldAmount]
	stats.StdDev = 0
	baseline.Fields[domain.FieldAmount] = stats

	tx := &domain.Transaction{Amount: 10_000, Velocity: 100, DistanceKM: 100, MinutesSinceLast: 100}
	if score := detector.Score(tx, baseline); score != 0 {
		t.Errorf("expected degenerate field to contribute 0, got %.4f", score)
	}
}

func TestDetectorDefaultsZThreshold(t *testing.T) {
	detector := NewDetector(0, 30)

	// With the 3.0 default, a 3-sigma deviation saturates one field.
	tx := &domain.Transaction{Amount: 130, Velocity: 100, DistanceKM: 100, MinutesSinceLast: 100}
	score := detector.Score(tx, testBaseline())
	if math.Abs(score-0.25) > 1e-9 {
		t.Errorf("expected score 0.25 with default threshold, got %.4f", score)
	}
}

func TestLearnFieldStatistics(t *testing.T) {
	population := []*domain.Transaction{
		{Amount: 10, Velocity: 1, DistanceKM: 5, MinutesSinceLast: 60, Currency: "USD", Location: "Jakarta"},
		{Amount: 20, Velocity: 2, DistanceKM: 10, MinutesSinceLast: 30, Currency: "USD", Location: "Bandung"},
		{Amount: 30, Velocity: 3, DistanceKM: 15, MinutesSinceLast: 90, Currency: "IDR", Location: "Jakarta"},
		{Amount: 40, Velocity: 4, DistanceKM: 20, MinutesSinceLast: 45, Currency: "EUR", Location: "Surabaya"},
	}

	baseline := Learn("tenant-001", population)

	if baseline.ID == "" {
		t.Error("expected a generated baseline id")
	}
	if baseline.TenantID != "tenant-001" {
		t.Errorf("expected tenant-001, got %s", baseline.TenantID)
	}
	if baseline.SampleCount != 4 {
		t.Errorf("expected sample count 4, got %d", baseline.SampleCount)
	}

	stats, ok := baseline.Stats(domain.FieldAmount)
	if !ok {
		t.Fatal("expected amount statistics")
	}
	if stats.Count != 4 {
		t.Errorf("expected count 4, got %d", stats.Count)
	}
	if math.Abs(stats.Mean-25) > 1e-9 {
		t.Errorf("expected mean 25, got %.4f", stats.Mean)
	}
	// Sample stddev of {10,20,30,40} is sqrt(500/3).
	want := math.Sqrt(500.0 / 3.0)
	if math.Abs(stats.StdDev-want) > 1e-9 {
		t.Errorf("expected stddev %.4f, got %.4f", want, stats.StdDev)
	}
	if stats.Min != 10 || stats.Max != 40 {
		t.Errorf("expected min 10 max 40, got %.1f / %.1f", stats.Min, stats.Max)
	}
	// Interpolated quartiles of {10,20,30,40}.
	if math.Abs(stats.Q1-17.5) > 1e-9 {
		t.Errorf("expected Q1 17.5, got %.4f", stats.Q1)
	}
	if math.Abs(stats.Q3-32.5) > 1e-9 {
		t.Errorf("expected Q3 32.5, got %.4f", stats.Q3)
	}
}

func TestLearnEncodingsAreLexicographic(t *testing.T) {
	population := []*domain.Transaction{
		{Currency: "USD", Location: "Jakarta"},
		{Currency: "IDR", Location: "Bandung"},
		{Currency: "EUR", Location: "Jakarta"},
		{Currency: "", Location: ""}, // empty values are not encoded
	}

	baseline := Learn("tenant-001", population)

	currencies := baseline.Encodings["currency"]
	if len(currencies) != 3 {
		t.Fatalf("expected 3 currency codes, got %d", len(currencies))
	}
	if currencies["EUR"] != 0 || currencies["IDR"] != 1 || currencies["USD"] != 2 {
		t.Errorf("expected lexicographic codes, got %v", currencies)
	}

	if baseline.Encode("currency", "USD") != 2 {
		t.Errorf("expected code 2 for USD, got %d", baseline.Encode("currency", "USD"))
	}
	if baseline.Encode("currency", "GBP") != domain.UnknownCategoryCode {
		t.Errorf("expected unknown code for unseen currency")
	}
	if baseline.Encode("currency", "") != domain.UnknownCategoryCode {
		t.Errorf("expected unknown code for empty value")
	}
}

func TestLearnEmptyPopulation(t *testing.T) {
	baseline := Learn("tenant-001", nil)

	if baseline.SampleCount != 0 {
		t.Errorf("expected sample count 0, got %d", baseline.SampleCount)
	}

	stats, ok := baseline.Stats(domain.FieldAmount)
	if !ok {
		t.Fatal("expected amount statistics entry")
	}
	if stats.Count != 0 || stats.StdDev != 0 {
		t.Errorf("expected zero statistics, got %+v", stats)
	}

	// A baseline with zero counts must never produce anomaly signal.
	detector := NewDetector(3.0, 30)
	tx := &domain.Transaction{Amount: 1_000_000}
	if score := detector.Score(tx, baseline); score != 0 {
		t.Errorf("expected score 0 against empty baseline, got %.4f", score)
	}
}

func TestLearnSingleSample(t *testing.T) {
	baseline := Learn("tenant-001", []*domain.Transaction{{Amount: 42}})

	stats, _ := baseline.Stats(domain.FieldAmount)
	if stats.Count != 1 {
		t.Errorf("expected count 1, got %d", stats.Count)
	}
	if stats.StdDev != 0 {
		t.Errorf("expected stddev 0 for single sample, got %.4f", stats.StdDev)
	}
	if stats.Q1 != 42 || stats.Q3 != 42 {
		t.Errorf("expected degenerate quartiles 42, got %.1f / %.1f", stats.Q1, stats.Q3)
	}
}
