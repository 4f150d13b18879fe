// Package model defines the probability-model capability consumed by the
// risk engine. The engine treats any implementation as an opaque oracle:
// a feature vector goes in, a fraud probability in [0,1] comes out.
package model

import (
	"context"

	"github.com/openrisk/kestrel/internal/domain"
)

// Model is the single-method interface any classifier must satisfy.
// Implementations may be slow or unavailable; the engine bounds calls with a
// timeout and degrades to rule+anomaly scoring when prediction fails.
type Model interface {
	PredictProbability(ctx context.Context, features []float64) (float64, error)
}

// Unavailable is a Model that always fails. It stands in when no trained
// artifact is configured and forces the engine's degraded path.
type Unavailable struct{}

// PredictProbability always returns ErrModelUnavailable.
func (Unavailable) PredictProbability(ctx context.Context, features []float64) (float64, error) {
	return 0, domain.ErrModelUnavailable
}

// Static is a Model returning a fixed probability. Used in tests and
// benchmarks where the classifier itself is not under test.
type Static struct {
	Probability float64
}

// PredictProbability returns the configured probability.
func (s Static) PredictProbability(ctx context.Context, features []float64) (float64, error) {
	return s.Probability, nil
}
