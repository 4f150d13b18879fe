package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/openrisk/kestrel/internal/features"
)

// LogisticModel scores a feature vector with exported logistic-regression
// coefficients. Training happens elsewhere; this only consumes the artifact.
type LogisticModel struct {
	Bias    float64   `json:"bias"`
	Weights []float64 `json:"weights"`

	// Per-feature standardization applied before the dot product.
	// Empty slices disable scaling.
	Means  []float64 `json:"means,omitempty"`
	Scales []float64 `json:"scales,omitempty"`
}

// LoadLogistic reads logistic coefficients from a JSON artifact.
func LoadLogistic(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}

	if len(m.Weights) != features.VectorSize {
		return nil, fmt.Errorf("model artifact has %d weights, feature vector has %d", len(m.Weights), features.VectorSize)
	}

	// Standardization vectors are optional, but a partial pair would only
	// surface at predict time. Malformed artifacts must fail here.
	if len(m.Means) != len(m.Scales) {
		return nil, fmt.Errorf("model artifact has %d means but %d scales", len(m.Means), len(m.Scales))
	}
	if len(m.Means) != 0 && len(m.Means) != features.VectorSize {
		return nil, fmt.Errorf("model artifact standardization has width %d, feature vector has %d", len(m.Means), features.VectorSize)
	}

	return &m, nil
}

// PredictProbability computes sigmoid(bias + w·x).
func (m *LogisticModel) PredictProbability(ctx context.Context, vec []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(vec) != len(m.Weights) {
		return 0, fmt.Errorf("feature vector length %d does not match model width %d", len(vec), len(m.Weights))
	}

	standardize := len(m.Means) == len(vec) && len(m.Scales) == len(vec)

	sum := m.Bias
	for i, x := range vec {
		if standardize && m.Scales[i] != 0 {
			x = (x - m.Means[i]) / m.Scales[i]
		}
		sum += m.Weights[i] * x
	}

	return 1.0 / (1.0 + math.Exp(-sum)), nil
}
