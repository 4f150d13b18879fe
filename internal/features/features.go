// Package features maps raw transactions into the fixed-order numeric
// vector consumed by the probability model.
package features

import (
	"math"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// Vector indices. The order is part of the model contract: a trained model
// consumes features by position.
const (
	IdxHour = iota
	IdxDayOfWeek
	IdxIsWeekend
	IdxIsNight
	IdxIsBusinessHours
	IdxAmount
	IdxLogAmount
	IdxAmountZScore
	IdxAmountPercentile
	IdxVelocity
	IdxDistanceKM
	IdxMinutesSinceLast
	IdxPreviousTxCount
	IdxVelocityDistance
	IdxAmountPerPrevTx
	IdxCardTypeCode
	IdxAuthMethodCode
	IdxCategoryCode
	IdxCurrencyCode
	IdxLocationCode
	IdxStatusCode

	// VectorSize is the fixed length of the feature vector.
	VectorSize = IdxStatusCode + 1
)

// Business hours window for the is-business-hours flag, inclusive.
const (
	businessStartHour = 9
	businessEndHour   = 17
)

// Z-scores beyond this magnitude are clamped; a production scorer never
// refuses a transaction over an extreme numeric value.
const maxZScore = 10.0

// names is the positional name table, aligned with the index constants.
var names = []string{
	"hour",
	"day_of_week",
	"is_weekend",
	"is_night",
	"is_business_hours",
	"amount",
	"log_amount",
	"amount_zscore",
	"amount_percentile",
	"velocity",
	"distance_km",
	"minutes_since_last",
	"previous_tx_count",
	"velocity_distance",
	"amount_per_prev_tx",
	"card_type_code",
	"auth_method_code",
	"category_code",
	"currency_code",
	"location_code",
	"status_code",
}

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Transformer derives the feature vector for a transaction. Transform is a
// pure function of the transaction and the baseline snapshot; it holds no
// mutable state and never fails for a structurally valid transaction.
type Transformer struct {
	thresholds domain.RuleThresholds
}

// NewTransformer creates a transformer using the configured overnight window.
func NewTransformer(thresholds domain.RuleThresholds) *Transformer {
	return &Transformer{thresholds: thresholds}
}

// Transform produces the fixed-order feature vector. Unseen categorical
// values encode to the reserved unknown code and missing baseline statistics
// yield neutral values; neither is an error.
func (t *Transformer) Transform(tx *domain.Transaction, baseline *domain.Baseline) []float64 {
	v := make([]float64, VectorSize)

	hour := tx.Timestamp.Hour()
	dow := int(tx.Timestamp.Weekday())

	v[IdxHour] = float64(hour)
	v[IdxDayOfWeek] = float64(dow)
	v[IdxIsWeekend] = boolToFloat(isWeekend(tx.Timestamp))
	v[IdxIsNight] = boolToFloat(t.thresholds.IsNight(hour))
	v[IdxIsBusinessHours] = boolToFloat(hour >= businessStartHour && hour <= businessEndHour)

	v[IdxAmount] = tx.Amount
	v[IdxLogAmount] = math.Log1p(tx.Amount)

	z, pct := amountDeviation(tx.Amount, baseline)
	v[IdxAmountZScore] = z
	v[IdxAmountPercentile] = pct

	v[IdxVelocity] = tx.Velocity
	v[IdxDistanceKM] = tx.DistanceKM
	v[IdxMinutesSinceLast] = tx.MinutesSinceLast
	v[IdxPreviousTxCount] = float64(tx.PreviousTxCount)

	v[IdxVelocityDistance] = tx.Velocity * tx.DistanceKM
	v[IdxAmountPerPrevTx] = tx.Amount / float64(tx.PreviousTxCount+1)

	v[IdxCardTypeCode] = float64(baseline.Encode("card_type", tx.CardType))
	v[IdxAuthMethodCode] = float64(baseline.Encode("auth_method", tx.AuthMethod))
	v[IdxCategoryCode] = float64(baseline.Encode("category", tx.Category))
	v[IdxCurrencyCode] = float64(baseline.Encode("currency", tx.Currency))
	v[IdxLocationCode] = float64(baseline.Encode("location", tx.Location))
	v[IdxStatusCode] = float64(baseline.Encode("status", tx.Status))

	return v
}

// amountDeviation returns the z-score and percentile rank of the amount
// against the baseline. Without usable statistics the deviation is neutral:
// zero z-score, median percentile.
func amountDeviation(amount float64, baseline *domain.Baseline) (z, percentile float64) {
	stats, ok := baseline.Stats(domain.FieldAmount)
	if !ok || stats.StdDev <= 0 {
		return 0, 0.5
	}

	z = (amount - stats.Mean) / stats.StdDev
	if z > maxZScore {
		z = maxZScore
	} else if z < -maxZScore {
		z = -maxZScore
	}

	// Percentile rank via the normal CDF of the z-score.
	percentile = 0.5 * (1 + math.Erf(z/math.Sqrt2))
	return z, percentile
}

func isWeekend(ts time.Time) bool {
	wd := ts.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
