package rules

import (
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// Built-in rule labels. The label is the value that appears in the verdict's
// triggered list; declaration order below is the order labels appear in.
const (
	LabelHighAmount      = "High transaction amount"
	LabelHighVelocity    = "High transaction velocity"
	LabelLongDistance    = "Long distance between transactions"
	LabelRapidSuccession = "Rapid succession transactions"
	LabelNight           = "Night time transaction"
	LabelWeekend         = "Weekend transaction"
	LabelFailedAuth      = "Failed authentication"
)

// builtinRules constructs the canonical ordered rule set against the given
// thresholds. Velocity, distance, and rapid-succession compare a transaction
// to the account's prior activity, so they are marked history-dependent and
// skipped for a first-ever transaction: with no prior transaction those
// fields describe nothing and a trigger would be spurious.
func builtinRules(t domain.RuleThresholds) []Rule {
	return []Rule{
		{
			ID:     "builtin-high-amount",
			Label:  LabelHighAmount,
			Weight: 0.30,
			Match: func(tx *domain.Transaction) bool {
				return tx.Amount > t.HighAmount
			},
		},
		{
			ID:               "builtin-high-velocity",
			Label:            LabelHighVelocity,
			Weight:           0.20,
			HistoryDependent: true,
			Match: func(tx *domain.Transaction) bool {
				return tx.Velocity > t.HighVelocity
			},
		},
		{
			ID:               "builtin-long-distance",
			Label:            LabelLongDistance,
			Weight:           0.15,
			HistoryDependent: true,
			Match: func(tx *domain.Transaction) bool {
				return tx.DistanceKM > t.LongDistanceKM
			},
		},
		{
			ID:               "builtin-rapid-succession",
			Label:            LabelRapidSuccession,
			Weight:           0.15,
			HistoryDependent: true,
			Match: func(tx *domain.Transaction) bool {
				return tx.MinutesSinceLast < t.RapidSuccessionM
			},
		},
		{
			ID:     "builtin-night",
			Label:  LabelNight,
			Weight: 0.10,
			Match: func(tx *domain.Transaction) bool {
				return t.IsNight(tx.Timestamp.Hour())
			},
		},
		{
			ID:     "builtin-weekend",
			Label:  LabelWeekend,
			Weight: 0.05,
			Match: func(tx *domain.Transaction) bool {
				wd := tx.Timestamp.Weekday()
				return wd == time.Saturday || wd == time.Sunday
			},
		},
		{
			ID:     "builtin-failed-auth",
			Label:  LabelFailedAuth,
			Weight: 0.25,
			Match: func(tx *domain.Transaction) bool {
				return tx.AuthMethod == domain.AuthFailed
			},
		},
	}
}
