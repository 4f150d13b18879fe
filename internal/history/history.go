// Package history derives an account's behavioral attributes — velocity,
// prior transaction count, minutes since last — from stored transactions and
// cache counters, for callers that cannot supply them.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// DefaultVelocityWindow is the rolling window for velocity counting.
const DefaultVelocityWindow = time.Hour

// Service computes account history attributes.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	window time.Duration
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	return &Service{repo: repo, cache: cache, window: window}
}

// RecordObservation bumps the account's velocity counter for the current
// window and returns the count including this transaction.
func (s *Service) RecordObservation(ctx context.Context, tenantID, accountID string) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("tenantID and accountID are required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no cache available")
	}
	return s.cache.IncrementCounter(ctx, tenantID, "velocity:"+accountID, s.window)
}

// Velocity returns the number of stored transactions for the account inside
// the rolling window.
func (s *Service) Velocity(ctx context.Context, tenantID, accountID string) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("tenantID and accountID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	since := time.Now().Add(-s.window)
	return s.repo.CountTransactionsByAccount(ctx, tenantID, accountID, since)
}

// Enrich fills behavioral fields the caller omitted from the request. Fields
// the caller supplied are left untouched; enrichment failures leave the
// zero default rather than failing the evaluation.
func (s *Service) Enrich(ctx context.Context, tenantID string, req *domain.TransactionRequest, tx *domain.Transaction) {
	if s.repo == nil || tx.AccountID == "" {
		return
	}

	if req.Velocity == nil {
		if count, err := s.Velocity(ctx, tenantID, tx.AccountID); err == nil {
			tx.Velocity = float64(count)
		}
	}

	if req.PreviousTxCount == nil {
		// All-time count; the zero value of since covers the full history.
		if count, err := s.repo.CountTransactionsByAccount(ctx, tenantID, tx.AccountID, time.Time{}); err == nil {
			tx.PreviousTxCount = int(count)
		}
	}

	if req.MinutesSinceLast == nil && tx.PreviousTxCount > 0 {
		since := tx.Timestamp.Add(-30 * 24 * time.Hour)
		txs, err := s.repo.GetTransactionsByAccount(ctx, tenantID, tx.AccountID, since)
		if err == nil && len(txs) > 0 {
			// Most recent first per repository ordering.
			gap := tx.Timestamp.Sub(txs[0].Timestamp)
			if gap > 0 {
				tx.MinutesSinceLast = gap.Minutes()
			}
		}
	}
}
