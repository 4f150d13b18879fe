// Kestrel - Hybrid transaction fraud-risk scoring engine.
// Copyright (c) 2025 openrisk
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openrisk/kestrel/internal/api"
	"github.com/openrisk/kestrel/internal/bus"
	"github.com/openrisk/kestrel/internal/cache"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/engine"
	"github.com/openrisk/kestrel/internal/history"
	"github.com/openrisk/kestrel/internal/model"
	"github.com/openrisk/kestrel/internal/repository"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration: tier defaults + optional YAML file + env overrides
	cfg, err := domain.LoadConfig(os.Getenv("KESTREL_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Reapply log level from configuration
	if lvl := parseLogLevel(cfg.Logging.Level); lvl != logLevel {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: lvl,
		})))
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl, history.DefaultVelocityWindow)
	slog.Info("history service initialized")

	// Initialize custom rule compiler
	compiler, err := rules.NewCompiler()
	if err != nil {
		slog.Error("failed to initialize rule compiler", "error", err)
		os.Exit(1)
	}

	// Build the rule set: built-in rules plus custom rules from the database
	ruleSet, err := buildRuleSet(ctx, repo, compiler, cfg.Engine.Rules)
	if err != nil {
		slog.Error("failed to build rule set", "error", err)
		os.Exit(1)
	}
	slog.Info("rule set built", "rules_count", ruleSet.Len())

	// Load the latest anomaly baseline, if one has been trained
	baseline := loadBaseline(ctx, repo)

	// Load the probability model artifact, if configured
	m := loadModel()

	// Initialize the scoring engine
	eng, err := engine.New(cfg.Engine, m, &engine.Snapshot{
		Rules:    ruleSet,
		Baseline: baseline,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized",
		"ml_weight", cfg.Engine.MLWeight,
		"rule_weight", cfg.Engine.RuleWeight,
		"anomaly_weight", cfg.Engine.AnomalyWeight,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			stats := asyncWorker.GetStats()
			slog.Info("async worker started",
				"subscriptions", stats.SubscriptionCount,
				"topics", stats.Topics,
			)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, compiler, historySvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// buildRuleSet compiles custom rules from the database and combines them with
// the built-in rules. Custom rules can be added via POST /rules and
// hot-reloaded via POST /rules/reload.
func buildRuleSet(ctx context.Context, repo domain.Repository, compiler *rules.Compiler, thresholds domain.RuleThresholds) (*rules.Set, error) {
	configs, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return rules.NewSet(thresholds)
	}

	custom, err := compiler.CompileAll(configs)
	if err != nil {
		return nil, err
	}

	if len(custom) > 0 {
		slog.Info("loaded custom rules from database", "count", len(custom))
	}

	return rules.NewSet(thresholds, custom...)
}

// loadBaseline returns the most recently trained anomaly baseline, or nil.
// Without a baseline the anomaly component scores zero and feature deviation
// falls back to neutral values; train one via POST /baseline/rebuild.
func loadBaseline(ctx context.Context, repo domain.Repository) *domain.Baseline {
	tenantID := os.Getenv("KESTREL_BASELINE_TENANT")
	if tenantID == "" {
		tenantID = GlobalTenantID
	}

	baseline, err := repo.GetLatestBaseline(ctx, tenantID)
	if err != nil {
		slog.Info("no anomaly baseline loaded - train one via POST /baseline/rebuild")
		return nil
	}

	slog.Info("baseline loaded",
		"baseline_id", baseline.ID,
		"sample_count", baseline.SampleCount,
		"trained_at", baseline.TrainedAt,
	)
	return baseline
}

// loadModel returns the configured probability model. Without an artifact the
// engine runs in degraded mode (rules + anomaly only).
func loadModel() model.Model {
	path := os.Getenv("KESTREL_MODEL_PATH")
	if path == "" {
		slog.Info("no model artifact configured - running in degraded mode")
		return model.Unavailable{}
	}

	m, err := model.LoadLogistic(path)
	if err != nil {
		slog.Error("failed to load model artifact - running in degraded mode",
			"path", path,
			"error", err,
		)
		return model.Unavailable{}
	}

	slog.Info("model artifact loaded", "path", path)
	return m
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                 ║")
	fmt.Println("  ║      Fraud Risk Scoring Engine           ║")
	fmt.Println("  ║      A verdict for every transaction.    ║")
	fmt.Println("  ╚═════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate          - Score a transaction")
	fmt.Println("    POST /evaluate/batch    - Score a batch of transactions")
	fmt.Println("    GET  /verdicts/{id}     - Get verdict by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /rules             - List custom rules")
	fmt.Println("    POST /rules             - Create a custom rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /baseline          - Inspect the anomaly baseline")
	fmt.Println("    POST /baseline/rebuild  - Retrain the anomaly baseline")
	fmt.Println("    GET  /statistics        - Aggregate verdict statistics")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
