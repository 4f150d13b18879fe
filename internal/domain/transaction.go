package domain

import (
	"time"
)

// LocationUnknown is the sentinel for a transaction with no usable location.
const LocationUnknown = "Unknown"

// AuthFailed is the sentinel authentication outcome marking a failed
// authentication attempt on the transaction.
const AuthFailed = "Failed"

// Transaction represents an incoming transaction to be scored.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Account the transaction belongs to
	AccountID string `json:"accountId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Descriptive attributes
	Location   string `json:"location"`
	CardType   string `json:"cardType"`
	Status     string `json:"status"`
	Category   string `json:"category"`
	AuthMethod string `json:"authMethod"`

	// Behavioral attributes relative to the account's history
	PreviousTxCount  int     `json:"previousTxCount"`
	DistanceKM       float64 `json:"distanceKm"`
	MinutesSinceLast float64 `json:"minutesSinceLast"`
	Velocity         float64 `json:"velocity"`

	// Optional metadata passed through to custom rules
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks structural validity before scoring. A transaction that
// fails validation must never be scored; a fabricated score would mask a
// data problem as a risk assessment.
func (t *Transaction) Validate() error {
	if t.Amount < 0 {
		return &ValidationError{Field: "amount", Reason: "must be non-negative"}
	}
	if t.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if t.PreviousTxCount < 0 {
		return &ValidationError{Field: "previousTxCount", Reason: "must be non-negative"}
	}
	if t.DistanceKM < 0 {
		return &ValidationError{Field: "distanceKm", Reason: "must be non-negative"}
	}
	if t.MinutesSinceLast < 0 {
		return &ValidationError{Field: "minutesSinceLast", Reason: "must be non-negative"}
	}
	if t.Velocity < 0 {
		return &ValidationError{Field: "velocity", Reason: "must be non-negative"}
	}
	return nil
}

// TransactionRequest is the API request payload for transaction evaluation.
// Behavioral fields are pointers so the handler can tell "absent" from "zero"
// and enrich absent ones from stored history.
type TransactionRequest struct {
	AccountID  string    `json:"accountId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"location,omitempty"`
	CardType   string    `json:"cardType,omitempty"`
	Status     string    `json:"status,omitempty"`
	Category   string    `json:"category,omitempty"`
	AuthMethod string    `json:"authMethod,omitempty"`

	PreviousTxCount  *int     `json:"previousTxCount,omitempty"`
	DistanceKM       *float64 `json:"distanceKm,omitempty"`
	MinutesSinceLast *float64 `json:"minutesSinceLast,omitempty"`
	Velocity         *float64 `json:"velocity,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
// Absent optional fields default to zero; an absent location defaults to the
// Unknown sentinel.
func (r *TransactionRequest) ToTransaction() *Transaction {
	tx := &Transaction{
		AccountID:  r.AccountID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		Timestamp:  r.Timestamp,
		Location:   r.Location,
		CardType:   r.CardType,
		Status:     r.Status,
		Category:   r.Category,
		AuthMethod: r.AuthMethod,
		CreatedAt:  time.Now().UTC(),
		Metadata:   r.Metadata,
	}
	if tx.Location == "" {
		tx.Location = LocationUnknown
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if r.PreviousTxCount != nil {
		tx.PreviousTxCount = *r.PreviousTxCount
	}
	if r.DistanceKM != nil {
		tx.DistanceKM = *r.DistanceKM
	}
	if r.MinutesSinceLast != nil {
		tx.MinutesSinceLast = *r.MinutesSinceLast
	}
	if r.Velocity != nil {
		tx.Velocity = *r.Velocity
	}
	return tx
}
