package domain

import (
	"time"
)

// Monitored numeric field names. These are the keys of Baseline.Fields and
// the fields the anomaly detector scores.
const (
	FieldAmount           = "amount"
	FieldVelocity         = "velocity"
	FieldDistanceKM       = "distance_km"
	FieldMinutesSinceLast = "minutes_since_last"
)

// UnknownCategoryCode is the reserved encoding for categorical values not
// present in the baseline's encoding table. Unseen categories are encoded,
// never rejected.
const UnknownCategoryCode = -1

// FieldStats holds the summary statistics of one numeric field learned from
// a reference transaction population.
type FieldStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// IQR returns the interquartile range.
func (s FieldStats) IQR() float64 {
	return s.Q3 - s.Q1
}

// Baseline is the read-only statistical snapshot the anomaly detector and
// feature transformer score against. It is built once from a reference
// population and replaced wholesale on retraining; it is never mutated
// during request handling.
type Baseline struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Per-field summary statistics, keyed by monitored field name
	Fields map[string]FieldStats `json:"fields"`

	// Encoding tables for categorical attributes, keyed by attribute name
	// then by observed value
	Encodings map[string]map[string]int `json:"encodings"`

	// SampleCount is the size of the reference population
	SampleCount int `json:"sampleCount"`

	TrainedAt time.Time `json:"trainedAt"`
}

// Stats returns the statistics for a field and whether they exist.
func (b *Baseline) Stats(field string) (FieldStats, bool) {
	if b == nil || b.Fields == nil {
		return FieldStats{}, false
	}
	s, ok := b.Fields[field]
	return s, ok
}

// Encode maps a categorical value to its baseline-time code, or the reserved
// unknown code when the value or the attribute was never seen.
func (b *Baseline) Encode(attribute, value string) int {
	if b == nil || b.Encodings == nil {
		return UnknownCategoryCode
	}
	table, ok := b.Encodings[attribute]
	if !ok {
		return UnknownCategoryCode
	}
	code, ok := table[value]
	if !ok {
		return UnknownCategoryCode
	}
	return code
}
