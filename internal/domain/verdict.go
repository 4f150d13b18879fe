package domain

import (
	"time"
)

// RiskLevel is the ordered risk tier assigned to a transaction.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "SAFE"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Recommendation is the action derived from a risk level.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendMonitor Recommendation = "MONITOR"
	RecommendReview  Recommendation = "REVIEW"
	RecommendBlock   Recommendation = "BLOCK"
)

// RecommendationFor maps a risk level to its recommendation. The mapping is
// total: every level has exactly one recommendation and an unrecognized
// level is reported rather than silently mis-mapped.
func RecommendationFor(level RiskLevel) (Recommendation, error) {
	switch level {
	case RiskHigh:
		return RecommendBlock, nil
	case RiskMedium:
		return RecommendReview, nil
	case RiskLow:
		return RecommendMonitor, nil
	case RiskSafe:
		return RecommendApprove, nil
	}
	return "", &ConfigError{Component: "decision policy", Reason: "unknown risk level " + string(level)}
}

// Verdict is the complete risk assessment for a single transaction.
type Verdict struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TxID     string `json:"txId"`

	IsFraud bool `json:"isFraud"`

	// Component and combined scores, all in [0,1]
	MLScore       float64 `json:"mlScore"`
	RuleScore     float64 `json:"ruleScore"`
	AnomalyScore  float64 `json:"anomalyScore"`
	CombinedScore float64 `json:"combinedScore"`

	// AnomalyFields breaks the anomaly score down per monitored field.
	// Carried in responses and events; not persisted with the verdict row.
	AnomalyFields map[string]float64 `json:"anomalyFields,omitempty"`

	RiskLevel      RiskLevel      `json:"riskLevel"`
	Recommendation Recommendation `json:"recommendation"`

	// Labels of triggered rules in rule declaration order
	TriggeredRules []string `json:"triggeredRules"`

	// Degraded marks a verdict produced without the probability model.
	// Callers must be able to tell a full assessment from a partial one.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degradedReason,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	ProcessingMS int64     `json:"processingMs"`
}

// RequiresAction reports whether the verdict needs operator intervention.
func (v *Verdict) RequiresAction() bool {
	return v.RiskLevel == RiskHigh || v.RiskLevel == RiskMedium
}

// Alert is the event payload published for verdicts that require action.
type Alert struct {
	AlertID        string         `json:"alertId"`
	TxID           string         `json:"txId"`
	TenantID       string         `json:"tenantId"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	RiskScore      float64        `json:"riskScore"`
	Amount         float64        `json:"amount"`
	Location       string         `json:"location"`
	TriggeredRules []string       `json:"triggeredRules"`
	Recommendation Recommendation `json:"recommendation"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Statistics summarizes a set of verdicts.
type Statistics struct {
	Total            int               `json:"total"`
	FraudDetected    int               `json:"fraudDetected"`
	FraudRate        float64           `json:"fraudRate"`
	RiskDistribution map[RiskLevel]int `json:"riskDistribution"`
	AverageRiskScore float64           `json:"averageRiskScore"`
	DegradedVerdicts int               `json:"degradedVerdicts"`
}
