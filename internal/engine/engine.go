// Package engine implements the hybrid risk-decision pipeline: feature
// transform, probability model, rule evaluation, and anomaly scoring merged
// by a fixed weighting policy into one verdict.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openrisk/kestrel/internal/anomaly"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/features"
	"github.com/openrisk/kestrel/internal/model"
	"github.com/openrisk/kestrel/internal/rules"
)

// Snapshot bundles the read-only state an evaluation scores against. It is
// replaced wholesale on retraining or rule reload so in-flight evaluations
// always see one consistent pair, never a half-updated rule list or baseline.
type Snapshot struct {
	Rules    *rules.Set
	Baseline *domain.Baseline
}

// Options tunes a single evaluation.
type Options struct {
	// MLEnabled gates the probability model call. When false the engine
	// evaluates in degraded mode without attempting a prediction.
	MLEnabled bool
}

// DefaultOptions enables the full pipeline.
func DefaultOptions() Options {
	return Options{MLEnabled: true}
}

// Engine evaluates transactions. All per-request computation is pure over
// the immutable snapshot, so Evaluate is safe to call concurrently from any
// number of goroutines with no locking.
type Engine struct {
	cfg         domain.EngineConfig
	transformer *features.Transformer
	detector    *anomaly.Detector
	model       model.Model

	snapshot atomic.Pointer[Snapshot]
}

// New constructs an engine. Configuration and snapshot are validated
// eagerly; a malformed policy never survives to request time.
func New(cfg domain.EngineConfig, m model.Model, snap *Snapshot) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if snap == nil || snap.Rules == nil {
		return nil, &domain.ConfigError{Component: "engine", Reason: "a rule set snapshot is required"}
	}
	if m == nil {
		m = model.Unavailable{}
	}

	e := &Engine{
		cfg:         cfg,
		transformer: features.NewTransformer(cfg.Rules),
		detector:    anomaly.NewDetector(cfg.AnomalyZThreshold, cfg.AnomalyMinSamples),
		model:       m,
	}
	e.snapshot.Store(snap)
	return e, nil
}

// Swap atomically replaces the rule set and baseline. In-flight evaluations
// keep the snapshot they loaded; new evaluations see the new one.
func (e *Engine) Swap(snap *Snapshot) error {
	if snap == nil || snap.Rules == nil {
		return &domain.ConfigError{Component: "engine", Reason: "a rule set snapshot is required"}
	}
	e.snapshot.Store(snap)
	return nil
}

// Snapshot returns the snapshot current evaluations score against.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Config returns the engine's scoring policy.
func (e *Engine) Config() domain.EngineConfig {
	return e.cfg
}

// Evaluate scores one transaction and returns its verdict. Invalid input is
// rejected with a validation error before any scoring: "could not be
// evaluated" is never allowed to look like "evaluated as SAFE". Model
// failure or timeout degrades the verdict instead of failing the request.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, opts Options) (*domain.Verdict, error) {
	if tx == nil {
		return nil, &domain.ValidationError{Field: "transaction", Reason: "is required"}
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	snap := e.snapshot.Load()

	vector := e.transformer.Transform(tx, snap.Baseline)

	mlScore, degradedReason := e.predict(ctx, vector, opts)
	degraded := degradedReason != ""

	ruleOutcome := snap.Rules.Evaluate(tx)
	anomalyFields := e.detector.Contributions(tx, snap.Baseline)
	anomalyScore := meanContribution(anomalyFields)

	combined := e.combine(mlScore, ruleOutcome.Score, anomalyScore, degraded)
	level := e.riskLevel(combined)

	recommendation, err := domain.RecommendationFor(level)
	if err != nil {
		return nil, err
	}

	return &domain.Verdict{
		ID:             uuid.New().String(),
		TenantID:       tx.TenantID,
		TxID:           tx.ID,
		IsFraud:        level == domain.RiskHigh || level == domain.RiskMedium,
		MLScore:        mlScore,
		RuleScore:      ruleOutcome.Score,
		AnomalyScore:   anomalyScore,
		AnomalyFields:  anomalyFields,
		CombinedScore:  combined,
		RiskLevel:      level,
		Recommendation: recommendation,
		TriggeredRules: ruleOutcome.Triggered,
		Degraded:       degraded,
		DegradedReason: degradedReason,
		Timestamp:      time.Now().UTC(),
		ProcessingMS:   time.Since(start).Milliseconds(),
	}, nil
}

// meanContribution averages the per-field anomaly contributions. It equals
// Detector.Score over the same baseline; the breakdown is kept so the
// verdict can report which fields drove the score.
func meanContribution(fields map[string]float64) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, c := range fields {
		sum += c
	}
	return sum / float64(len(fields))
}

// BatchItem pairs one batch entry with its verdict or its rejection.
type BatchItem struct {
	Index   int             `json:"index"`
	Verdict *domain.Verdict `json:"verdict,omitempty"`
	Err     error           `json:"-"`
}

// EvaluateBatch evaluates transactions independently. Each verdict is
// self-contained; one invalid entry does not fail its neighbors and no
// state is shared across entries.
func (e *Engine) EvaluateBatch(ctx context.Context, txs []*domain.Transaction, opts Options) []BatchItem {
	items := make([]BatchItem, len(txs))
	for i, tx := range txs {
		verdict, err := e.Evaluate(ctx, tx, opts)
		items[i] = BatchItem{Index: i, Verdict: verdict, Err: err}
	}
	return items
}

// predict calls the probability model bounded by the configured timeout.
// An empty reason means the score is usable; any failure is recovered
// locally by reporting the degradation reason.
func (e *Engine) predict(ctx context.Context, vector []float64, opts Options) (float64, string) {
	if !opts.MLEnabled {
		return 0, "ML disabled by caller"
	}

	if e.cfg.ModelTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.ModelTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	score, err := e.model.PredictProbability(ctx, vector)
	if err != nil {
		return 0, fmt.Sprintf("ML unavailable: %v", err)
	}

	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score, ""
}

// combine merges the component scores with the configured weights. In
// degraded mode the ML weight is redistributed proportionally across the
// rule and anomaly components: a missing model must not silently look like
// "definitely not fraud".
func (e *Engine) combine(mlScore, ruleScore, anomalyScore float64, degraded bool) float64 {
	var combined float64
	if degraded {
		total := e.cfg.RuleWeight + e.cfg.AnomalyWeight
		combined = (e.cfg.RuleWeight/total)*ruleScore + (e.cfg.AnomalyWeight/total)*anomalyScore
	} else {
		combined = e.cfg.MLWeight*mlScore + e.cfg.RuleWeight*ruleScore + e.cfg.AnomalyWeight*anomalyScore
	}

	if combined < 0 {
		return 0
	}
	if combined > 1 {
		return 1
	}
	return combined
}

// riskLevel maps a combined score to its tier. Bands are evaluated high to
// low so boundary values resolve toward the higher risk tier.
func (e *Engine) riskLevel(combined float64) domain.RiskLevel {
	switch {
	case combined >= e.cfg.HighThreshold:
		return domain.RiskHigh
	case combined >= e.cfg.MediumThreshold:
		return domain.RiskMedium
	case combined >= e.cfg.LowThreshold:
		return domain.RiskLow
	default:
		return domain.RiskSafe
	}
}

// BuildAlert packages a verdict that requires action into its alert payload.
func BuildAlert(v *domain.Verdict, tx *domain.Transaction) *domain.Alert {
	return &domain.Alert{
		AlertID:        uuid.New().String(),
		TxID:           v.TxID,
		TenantID:       v.TenantID,
		RiskLevel:      v.RiskLevel,
		RiskScore:      v.CombinedScore,
		Amount:         tx.Amount,
		Location:       tx.Location,
		TriggeredRules: v.TriggeredRules,
		Recommendation: v.Recommendation,
		Timestamp:      v.Timestamp,
	}
}

// Summarize aggregates fleet statistics over a set of verdicts.
func Summarize(verdicts []*domain.Verdict) domain.Statistics {
	stats := domain.Statistics{
		Total: len(verdicts),
		RiskDistribution: map[domain.RiskLevel]int{
			domain.RiskSafe:   0,
			domain.RiskLow:    0,
			domain.RiskMedium: 0,
			domain.RiskHigh:   0,
		},
	}
	if len(verdicts) == 0 {
		return stats
	}

	var scoreSum float64
	for _, v := range verdicts {
		if v.IsFraud {
			stats.FraudDetected++
		}
		if v.Degraded {
			stats.DegradedVerdicts++
		}
		stats.RiskDistribution[v.RiskLevel]++
		scoreSum += v.CombinedScore
	}

	stats.FraudRate = float64(stats.FraudDetected) / float64(stats.Total)
	stats.AverageRiskScore = scoreSum / float64(stats.Total)
	return stats
}
