package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/openrisk/kestrel/internal/domain"
)

// categoricalAttributes are the attributes an encoding table is built for,
// with accessors into the transaction.
var categoricalAttributes = map[string]func(*domain.Transaction) string{
	"card_type":   func(tx *domain.Transaction) string { return tx.CardType },
	"auth_method": func(tx *domain.Transaction) string { return tx.AuthMethod },
	"category":    func(tx *domain.Transaction) string { return tx.Category },
	"currency":    func(tx *domain.Transaction) string { return tx.Currency },
	"location":    func(tx *domain.Transaction) string { return tx.Location },
	"status":      func(tx *domain.Transaction) string { return tx.Status },
}

// Learn builds a baseline from a reference transaction population: per-field
// summary statistics plus the categorical encoding tables the feature
// transformer uses. The returned baseline is a fresh snapshot; callers swap
// it in atomically and never mutate it afterwards.
func Learn(tenantID string, population []*domain.Transaction) *domain.Baseline {
	baseline := &domain.Baseline{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Fields:      make(map[string]domain.FieldStats, len(monitoredFields)),
		Encodings:   make(map[string]map[string]int, len(categoricalAttributes)),
		SampleCount: len(population),
		TrainedAt:   time.Now().UTC(),
	}

	for _, field := range monitoredFields {
		values := make([]float64, 0, len(population))
		for _, tx := range population {
			values = append(values, fieldValue(tx, field))
		}
		baseline.Fields[field] = summarize(values)
	}

	for attr, get := range categoricalAttributes {
		baseline.Encodings[attr] = encode(population, get)
	}

	return baseline
}

// summarize computes the field statistics for one numeric column.
func summarize(values []float64) domain.FieldStats {
	n := len(values)
	if n == 0 {
		return domain.FieldStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	std := 0.0
	if n > 1 {
		std = math.Sqrt(sq / float64(n-1))
	}

	return domain.FieldStats{
		Count:  n,
		Mean:   mean,
		StdDev: std,
		Q1:     quantile(sorted, 0.25),
		Q3:     quantile(sorted, 0.75),
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// quantile returns the q-th quantile of a sorted sample using linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// encode builds the value-to-code table for one categorical attribute.
// Codes are assigned in lexicographic value order so retraining over the
// same population is deterministic. Empty values are not encoded; they map
// to the unknown code at inference time.
func encode(population []*domain.Transaction, get func(*domain.Transaction) string) map[string]int {
	distinct := make(map[string]struct{})
	for _, tx := range population {
		if v := get(tx); v != "" {
			distinct[v] = struct{}{}
		}
	}

	values := make([]string, 0, len(distinct))
	for v := range distinct {
		values = append(values, v)
	}
	sort.Strings(values)

	table := make(map[string]int, len(values))
	for i, v := range values {
		table[v] = i
	}
	return table
}
