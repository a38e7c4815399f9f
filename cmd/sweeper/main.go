// Command sweeper runs a single retention sweep and exits. The API server
// runs the same sweep on a timer; this binary exists for cron-driven
// deployments and ad-hoc runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/config"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/repository"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/telemetry"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/retention"
)

var (
	maxAgeDays = flag.Int("max-age-days", 0, "Override retention age in days (0 = configured value)")
	dryRun     = flag.Bool("dry-run", false, "Report the cutoff without deleting anything")
)

func main() {
	flag.Parse()

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	maxAge := cfg.Retention.MaxAge
	if *maxAgeDays > 0 {
		maxAge = time.Duration(*maxAgeDays) * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	if *dryRun {
		logger.Info("dry run, nothing deleted",
			"cutoff", cutoff.Format(time.RFC3339), "max_age", maxAge)
		return
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := retention.NewService(
		repository.NewAssessmentRepository(pool),
		repository.NewAlertRepository(pool),
		retention.Config{
			MaxAge:       maxAge,
			SweepTimeout: cfg.Retention.SweepTimeout,
		},
		logger,
		nil,
	)

	deleted, err := svc.CleanupOldData(ctx, cutoff)
	if err != nil {
		logger.Error("retention sweep failed", "error", err, "deleted", deleted)
		os.Exit(1)
	}

	logger.Info("retention sweep completed",
		"cutoff", cutoff.Format(time.RFC3339), "deleted", deleted)
}
