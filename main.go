package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caresentry/caregiver-safeguard-backend/internal/api/rest"
	"github.com/caresentry/caregiver-safeguard-backend/internal/api/websocket"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/cache"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/clients"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/config"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/repository"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/telemetry"
	"github.com/caresentry/caregiver-safeguard-backend/internal/metrics"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/alerting"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/analytics"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/detection"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/retention"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting caregiver safeguard backend",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port)

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.SamplingRate = cfg.Telemetry.SampleRate

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	meters, err := metrics.NewRegistry("caregiver-safeguard-backend")
	if err != nil {
		return fmt.Errorf("creating metric registry: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating infrastructure logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	// Storage
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	riskCache, err := cache.NewRiskCache(&cfg.Redis, zapLogger)
	if err != nil {
		// The engine stays correct without the cache; reads just hit Postgres.
		logger.Warn("risk cache unavailable, continuing without it", "error", err)
		riskCache = nil
	} else {
		defer func() { _ = riskCache.Close() }()
	}

	assessmentRepo := repository.NewAssessmentRepository(pool)
	if riskCache != nil {
		assessmentRepo = assessmentRepo.WithRiskCache(riskCache)
	}
	alertRepo := repository.NewAlertRepository(pool)
	ruleRepo := repository.NewRuleRepository(pool)
	linkRepo := repository.NewLinkRepository(pool)
	meters.ObserveActiveAlerts(alertRepo.CountActive)

	// External collaborators
	snapshotClient := clients.NewSnapshotClient(cfg.Clients.SnapshotServiceURL, cfg.Clients.Timeout, logger)
	var notifier alerting.NotificationSink
	if cfg.Alerting.NotificationsEnabled {
		notifier = clients.NewNotifierClient(cfg.Clients.NotifierURL, cfg.Clients.Timeout, logger)
	}

	// Websocket alert stream
	wsHandler := websocket.NewHandler(zapLogger)
	wsHandler.Start(ctx)
	defer wsHandler.Stop()

	// Services
	alertingSvc := alerting.NewService(alertRepo, assessmentRepo, notifier, wsHandler.GetAlertEventHub(), alerting.Config{
		MinSequence:        cfg.Alerting.EscalationMinSequence,
		MinNetIncrease:     cfg.Alerting.EscalationMinIncrease,
		EscalationLookback: cfg.Alerting.EscalationLookback,
	}, logger, meters)

	detectionSvc := detection.NewService(snapshotClient, linkRepo, assessmentRepo, ruleRepo, nil, alertingSvc, detection.Config{
		SnapshotTimeout: cfg.Detection.SnapshotTimeout,
		PersistTimeout:  cfg.Detection.PersistTimeout,
		DefaultWindow:   cfg.Detection.DefaultWindow,
	}, logger, meters)

	analyticsSvc := analytics.NewService(assessmentRepo, alertRepo, cfg.Redis.RiskCacheTTL, logger)

	retentionSvc := retention.NewService(assessmentRepo, alertRepo, retention.Config{
		MaxAge:       cfg.Retention.MaxAge,
		Interval:     cfg.Retention.Interval,
		SweepTimeout: cfg.Retention.SweepTimeout,
	}, logger, meters)

	go func() {
		if err := retentionSvc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("retention loop stopped", "error", err)
		}
	}()

	// HTTP front
	handler := rest.NewHandler(rest.HandlerConfig{
		Version:         cfg.Version,
		DefaultWindow:   cfg.Detection.DefaultWindow,
		RetentionMaxAge: cfg.Retention.MaxAge,
	}, detectionSvc, alertingSvc, analyticsSvc, retentionSvc, logger)
	if riskCache != nil {
		handler = handler.WithRiskStates(riskCache)
	}

	server := rest.NewServer(cfg, handler, wsHandler, logger)
	return server.Start(ctx)
}
