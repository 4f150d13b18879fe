package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openrisk/kestrel/internal/anomaly"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/engine"
	"github.com/openrisk/kestrel/internal/history"
	"github.com/openrisk/kestrel/internal/repository"
	"github.com/openrisk/kestrel/internal/rules"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// verdictCacheTTL bounds how long verdict lookups are served from cache.
const verdictCacheTTL = 5 * time.Minute

// maxRecentVerdicts caps the in-memory window the statistics endpoint
// aggregates over.
const maxRecentVerdicts = 10000

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	compiler *rules.Compiler
	history  *history.Service
	version  string

	mu     sync.Mutex
	recent []*domain.Verdict
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, compiler *rules.Compiler, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		compiler: compiler,
		history:  hist,
		version:  version,
	}
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	// Parse request
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	verdict, status, errMsg := h.evaluateOne(r, tenantID, &req)
	if errMsg != "" {
		writeJSON(w, status, map[string]string{"error": errMsg})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// BatchResult pairs one batch entry with its verdict or rejection reason.
type BatchResult struct {
	Index   int             `json:"index"`
	Verdict *domain.Verdict `json:"verdict,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EvaluateBatch handles POST /evaluate/batch requests. Entries are evaluated
// independently: one invalid transaction does not fail its neighbors.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var reqs []domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body: expected an array of transactions",
		})
		return
	}

	results := make([]BatchResult, len(reqs))
	evaluated := 0
	for i := range reqs {
		verdict, _, errMsg := h.evaluateOne(r, tenantID, &reqs[i])
		results[i] = BatchResult{Index: i, Verdict: verdict, Error: errMsg}
		if errMsg == "" {
			evaluated++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":   results,
		"count":     len(results),
		"evaluated": evaluated,
	})
}

// evaluateOne runs the full scoring pipeline for a single request: enrich,
// evaluate, persist, cache, publish.
func (h *Handler) evaluateOne(r *http.Request, tenantID string, req *domain.TransactionRequest) (*domain.Verdict, int, string) {
	ctx := r.Context()

	if req.AccountID == "" {
		return nil, http.StatusBadRequest, "accountId is required"
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()
	tx.TenantID = tenantID

	// Fill behavioral fields the caller omitted from stored history
	if h.history != nil {
		h.history.Enrich(ctx, tenantID, req, tx)
	}

	opts := engine.DefaultOptions()
	if r.URL.Query().Get("ml") == "false" {
		opts.MLEnabled = false
	}

	verdict, err := h.engine.Evaluate(ctx, tx, opts)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return nil, http.StatusBadRequest, verr.Error()
		}
		slog.Error("evaluation failed",
			"tx_id", tx.ID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		return nil, http.StatusInternalServerError, "evaluation failed"
	}

	// Persist transaction and verdict
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveVerdict(ctx, tenantID, verdict); err != nil {
			slog.Error("failed to save verdict", "verdict_id", verdict.ID, "error", err)
		}
	}

	// Bump the account's velocity counter
	if h.history != nil {
		if _, err := h.history.RecordObservation(ctx, tenantID, tx.AccountID); err != nil {
			slog.Debug("failed to record velocity observation", "account_id", tx.AccountID, "error", err)
		}
	}

	// Cache verdict for fast retrieval
	if h.cache != nil {
		if data, err := json.Marshal(verdict); err == nil {
			_ = h.cache.Set(ctx, tenantID, "verdict:"+verdict.ID, data, verdictCacheTTL)
		}
	}

	h.publishVerdict(ctx, tenantID, verdict, tx)
	h.track(verdict)

	return verdict, http.StatusOK, ""
}

// publishVerdict emits the verdict event and, for verdicts that require
// operator action, the alert event.
func (h *Handler) publishVerdict(ctx context.Context, tenantID string, verdict *domain.Verdict, tx *domain.Transaction) {
	if h.bus == nil {
		return
	}

	if data, err := json.Marshal(verdict); err == nil {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicVerdict, data); err != nil {
			slog.Error("failed to publish verdict", "verdict_id", verdict.ID, "error", err)
		}
	}

	if verdict.RequiresAction() {
		alert := engine.BuildAlert(verdict, tx)
		if data, err := json.Marshal(alert); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, data); err != nil {
				slog.Error("failed to publish alert", "alert_id", alert.AlertID, "error", err)
			}
		}
	}
}

// track records the verdict in the bounded in-memory window used by the
// statistics endpoint.
func (h *Handler) track(v *domain.Verdict) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, v)
	if len(h.recent) > maxRecentVerdicts {
		h.recent = h.recent[len(h.recent)-maxRecentVerdicts:]
	}
}

// GetStatistics returns aggregate statistics over recent verdicts.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	verdicts := make([]*domain.Verdict, len(h.recent))
	copy(verdicts, h.recent)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, engine.Summarize(verdicts))
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetVerdict retrieves a verdict by ID, cache first.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	verdictID := chi.URLParam(r, "id")

	if verdictID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "verdict id is required",
		})
		return
	}

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, tenantID, "verdict:"+verdictID); err == nil && data != nil {
			var v domain.Verdict
			if err := json.Unmarshal(data, &v); err == nil {
				writeJSON(w, http.StatusOK, &v)
				return
			}
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdict, err := h.repo.GetVerdict(ctx, tenantID, verdictID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get verdict", "id", verdictID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "verdict not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns all custom rule configurations from the database.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	configs, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  configs,
		"count":  len(configs),
		"loaded": h.engine.Snapshot().Rules.Len(),
		"source": "database",
	})
}

// GetRule retrieves a custom rule configuration by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	cfg, err := h.repo.GetRuleConfig(ctx, GlobalTenantID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Label       string  `json:"label,omitempty"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight <= 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be in (0, 1]",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Label:       req.Label,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting
	if err := h.compiler.Validate(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	configs, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	custom, err := h.compiler.CompileAll(configs)
	if err != nil {
		slog.Error("failed to compile custom rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compile rules: " + err.Error(),
		})
		return
	}

	set, err := rules.NewSet(h.engine.Config().Rules, custom...)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build rule set: " + err.Error(),
		})
		return
	}

	// Keep the current baseline, swap only the rules
	snap := h.engine.Snapshot()
	if err := h.engine.Swap(&engine.Snapshot{Rules: set, Baseline: snap.Baseline}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to swap rule set: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "custom_count", len(custom), "total_count", set.Len())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(custom),
	})
}

// GetBaseline returns the baseline the engine currently scores against.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if snap.Baseline == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no baseline loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, snap.Baseline)
}

// RebuildBaselineRequest tunes the baseline rebuild.
type RebuildBaselineRequest struct {
	// MaxTransactions caps the reference population size. Zero means the
	// default of 10000 most recent transactions.
	MaxTransactions int `json:"maxTransactions,omitempty"`
}

// RebuildBaseline learns a fresh baseline from the tenant's stored
// transactions and swaps it into the engine.
func (h *Handler) RebuildBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req RebuildBaselineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.MaxTransactions <= 0 {
		req.MaxTransactions = 10000
	}

	population, err := h.repo.ListTransactions(ctx, tenantID, req.MaxTransactions)
	if err != nil {
		slog.Error("failed to load transactions for baseline", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transactions",
		})
		return
	}

	if len(population) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no transactions available to learn a baseline from",
		})
		return
	}

	baseline := anomaly.Learn(tenantID, population)

	if err := h.repo.SaveBaseline(ctx, tenantID, baseline); err != nil {
		slog.Error("failed to save baseline", "baseline_id", baseline.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save baseline",
		})
		return
	}

	// Keep the current rules, swap only the baseline
	snap := h.engine.Snapshot()
	if err := h.engine.Swap(&engine.Snapshot{Rules: snap.Rules, Baseline: baseline}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to swap baseline: " + err.Error(),
		})
		return
	}

	if h.bus != nil {
		if data, err := json.Marshal(baseline); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicBaselineRebuilt, data); err != nil {
				slog.Error("failed to publish baseline event", "error", err)
			}
		}
	}

	slog.Info("baseline rebuilt",
		"baseline_id", baseline.ID,
		"sample_count", baseline.SampleCount,
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"baselineId":  baseline.ID,
		"sampleCount": baseline.SampleCount,
		"trainedAt":   baseline.TrainedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
