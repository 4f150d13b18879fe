package domain

// RuleConfig defines an operator-supplied custom rule. Custom rules are CEL
// expressions over the transaction that must evaluate to a boolean; when the
// expression is true the rule contributes its weight to the rule score and
// its label to the triggered list, after the built-in rules.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate; must return bool
	Expression string `json:"expression"`

	// Label appended to the verdict's triggered rules when the rule fires
	Label string `json:"label"`

	// Weight contributed to the rule score, in (0,1]
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the outcome of evaluating one rule against a transaction.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Label     string  `json:"label"`
	Weight    float64 `json:"weight"`
	Triggered bool    `json:"triggered"`
}

// RuleThresholds holds the numeric thresholds of the built-in rule set.
// These are configuration, not hard-coded law; defaults reproduce the
// calibrated production values.
type RuleThresholds struct {
	HighAmount       float64 `json:"highAmount" yaml:"highAmount"`
	HighVelocity     float64 `json:"highVelocity" yaml:"highVelocity"`
	LongDistanceKM   float64 `json:"longDistanceKm" yaml:"longDistanceKm"`
	RapidSuccessionM float64 `json:"rapidSuccessionMinutes" yaml:"rapidSuccessionMinutes"`

	// Overnight window for the night-transaction rule. The window wraps
	// midnight; both bounds are inclusive hours.
	NightStartHour int `json:"nightStartHour" yaml:"nightStartHour"`
	NightEndHour   int `json:"nightEndHour" yaml:"nightEndHour"`
}

// DefaultRuleThresholds returns the calibrated default thresholds.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		HighAmount:       75_000_000,
		HighVelocity:     10,
		LongDistanceKM:   500,
		RapidSuccessionM: 1,
		NightStartHour:   22,
		NightEndHour:     6,
	}
}

// IsNight reports whether an hour of day falls inside the overnight window.
func (t RuleThresholds) IsNight(hour int) bool {
	if t.NightStartHour <= t.NightEndHour {
		return hour >= t.NightStartHour && hour <= t.NightEndHour
	}
	return hour >= t.NightStartHour || hour <= t.NightEndHour
}
