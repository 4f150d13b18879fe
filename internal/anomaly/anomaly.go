// Package anomaly scores how far a transaction's numeric fields deviate
// from a baseline learned on a reference population. It catches jointly
// unusual combinations of individually normal-looking values that neither
// the rule layer nor the probability model was designed to catch.
package anomaly

import (
	"github.com/openrisk/kestrel/internal/domain"
)

// monitoredFields are the numeric fields scored against the baseline, in a
// fixed order so per-field breakdowns are deterministic.
var monitoredFields = []string{
	domain.FieldAmount,
	domain.FieldVelocity,
	domain.FieldDistanceKM,
	domain.FieldMinutesSinceLast,
}

// Detector is a stateless scorer over a fixed baseline snapshot.
type Detector struct {
	// zThreshold is the |z-score| at which a field is fully anomalous.
	zThreshold float64

	// minSamples is the baseline sample count below which a field's
	// deviation is unknown and contributes 0. Unknown deviation is not
	// evidence of fraud.
	minSamples int
}

// NewDetector creates a detector. Non-positive zThreshold falls back to the
// calibrated default of 3.0 standard deviations.
func NewDetector(zThreshold float64, minSamples int) *Detector {
	if zThreshold <= 0 {
		zThreshold = 3.0
	}
	if minSamples < 0 {
		minSamples = 0
	}
	return &Detector{zThreshold: zThreshold, minSamples: minSamples}
}

// Score aggregates per-field deviations into one anomaly score in [0,1]:
// the unweighted mean of clamp(|z|/zThreshold, 0, 1) over the monitored
// fields. Scoring never mutates the baseline and never fails.
func (d *Detector) Score(tx *domain.Transaction, baseline *domain.Baseline) float64 {
	if len(monitoredFields) == 0 {
		return 0
	}

	var sum float64
	for _, field := range monitoredFields {
		sum += d.fieldContribution(fieldValue(tx, field), field, baseline)
	}
	return sum / float64(len(monitoredFields))
}

// Contributions returns the per-field breakdown in monitored-field order.
func (d *Detector) Contributions(tx *domain.Transaction, baseline *domain.Baseline) map[string]float64 {
	out := make(map[string]float64, len(monitoredFields))
	for _, field := range monitoredFields {
		out[field] = d.fieldContribution(fieldValue(tx, field), field, baseline)
	}
	return out
}

func (d *Detector) fieldContribution(value float64, field string, baseline *domain.Baseline) float64 {
	stats, ok := baseline.Stats(field)
	if !ok || stats.Count < d.minSamples || stats.StdDev <= 0 {
		return 0
	}

	z := (value - stats.Mean) / stats.StdDev
	if z < 0 {
		z = -z
	}

	contribution := z / d.zThreshold
	if contribution > 1 {
		contribution = 1
	}
	return contribution
}

func fieldValue(tx *domain.Transaction, field string) float64 {
	switch field {
	case domain.FieldAmount:
		return tx.Amount
	case domain.FieldVelocity:
		return tx.Velocity
	case domain.FieldDistanceKM:
		return tx.DistanceKM
	case domain.FieldMinutesSinceLast:
		return tx.MinutesSinceLast
	}
	return 0
}
