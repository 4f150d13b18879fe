// Package worker provides async transaction processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/engine"
)

// Worker consumes ingested transactions from the event bus and runs them
// through the evaluation pipeline, letting producers fire-and-forget
// instead of calling the HTTP API.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	cancel context.CancelFunc
	ctx    context.Context
	subs   []domain.Subscription
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants to consume. Empty falls back to the
	// shared "_global" subject.
	TenantIDs []string
}

// Stats describes the worker's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// NewWorker creates a new async worker. A nil repository disables
// persistence; verdicts are still published.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingestion topic for each configured tenant. A
// tenant whose subscription fails is logged and skipped so the remaining
// tenants still get a consumer.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.listen("_global")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.listen(tenantID); err != nil {
			slog.Error("worker subscription failed", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("async worker started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) listen(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.consume(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subs = append(w.subs, sub)

	slog.Info("worker listening",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// consume evaluates one ingested transaction end to end: decode, evaluate,
// persist, publish.
func (w *Worker) consume(ctx context.Context, tenantID string, msg *domain.Message) error {
	started := time.Now()

	tx, err := decodeTransaction(tenantID, msg)
	if err != nil {
		slog.Error("ignoring undecodable transaction", "message_id", msg.ID, "error", err)
		return err
	}

	verdict, err := w.engine.Evaluate(ctx, tx, engine.DefaultOptions())
	if err != nil {
		slog.Error("evaluation failed", "tx_id", tx.ID, "error", err)
		return err
	}

	w.persist(ctx, tx, verdict)
	w.publish(ctx, tx, verdict)

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"risk_level", verdict.RiskLevel,
		"score", verdict.CombinedScore,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// decodeTransaction parses the message payload and fills in the fields an
// upstream producer may omit.
func decodeTransaction(tenantID string, msg *domain.Message) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		return nil, err
	}

	if tx.TenantID == "" {
		tx.TenantID = tenantID
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.Location == "" {
		tx.Location = domain.LocationUnknown
	}
	return &tx, nil
}

// persist saves the transaction and its verdict. Storage failures are
// logged but do not abort the pipeline: the verdict still gets published.
func (w *Worker) persist(ctx context.Context, tx *domain.Transaction, verdict *domain.Verdict) {
	if w.repo == nil {
		return
	}
	if err := w.repo.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	}
	if err := w.repo.SaveVerdict(ctx, tx.TenantID, verdict); err != nil {
		slog.Error("failed to save verdict", "tx_id", tx.ID, "error", err)
	}
}

// publish emits the verdict, plus an alert when the verdict demands
// operator attention.
func (w *Worker) publish(ctx context.Context, tx *domain.Transaction, verdict *domain.Verdict) {
	payload, _ := json.Marshal(verdict)
	if err := w.bus.Publish(ctx, tx.TenantID, domain.TopicVerdict, payload); err != nil {
		slog.Error("failed to publish verdict", "tx_id", tx.ID, "error", err)
	}

	if !verdict.RequiresAction() {
		return
	}
	alertPayload, _ := json.Marshal(engine.BuildAlert(verdict, tx))
	if err := w.bus.Publish(ctx, tx.TenantID, domain.TopicAlert, alertPayload); err != nil {
		slog.Error("failed to publish alert", "tx_id", tx.ID, "error", err)
	}
}

// Stop cancels all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil

	slog.Info("async worker stopped")
	return nil
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subs))
	for i, sub := range w.subs {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subs),
		Topics:            topics,
	}
}
