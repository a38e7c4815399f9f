// Package retention removes assessments and closed alerts that have aged out
// of the configured window. ACTIVE alerts are never removed regardless of age.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/metrics"
)

// AssessmentPurger deletes assessments older than a cutoff. Age is the only
// criterion; assessments have no lifecycle state.
type AssessmentPurger interface {
	DeleteAssessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertPurger deletes alerts created before the cutoff that are in a terminal
// status. Implementations must leave ACTIVE alerts untouched.
type AlertPurger interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the cleanup schedule.
type Config struct {
	// MaxAge is how long records are retained.
	MaxAge time.Duration
	// Interval is the pause between cleanup sweeps.
	Interval time.Duration
	// SweepTimeout bounds one sweep's database work.
	SweepTimeout time.Duration
}

// DefaultConfig retains one year of history, sweeping daily.
func DefaultConfig() Config {
	return Config{
		MaxAge:       365 * 24 * time.Hour,
		Interval:     24 * time.Hour,
		SweepTimeout: 5 * time.Minute,
	}
}

// Service runs retention sweeps.
type Service struct {
	assessments AssessmentPurger
	alerts      AlertPurger
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Registry
}

// NewService creates the retention sweeper. metrics may be nil.
func NewService(assessments AssessmentPurger, alerts AlertPurger, cfg Config, logger *slog.Logger, m *metrics.Registry) *Service {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = def.SweepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assessments: assessments,
		alerts:      alerts,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
	}
}

// CleanupOldData deletes records older than the cutoff and returns the total
// number removed. A failure on one record class does not stop the other.
func (s *Service) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.NewValidationError("INVALID_CUTOFF", "cutoff time is required")
	}

	var total int64
	var sweepErr error

	assessments, err := s.assessments.DeleteAssessedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("assessment purge failed", "cutoff", cutoff, "error", err)
		sweepErr = err
	} else {
		total += assessments
		if s.metrics != nil && assessments > 0 {
			s.metrics.RecordPurged(ctx, "assessment", assessments)
		}
	}

	alerts, err := s.alerts.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("alert purge failed", "cutoff", cutoff, "error", err)
		sweepErr = err
	} else {
		total += alerts
		if s.metrics != nil && alerts > 0 {
			s.metrics.RecordPurged(ctx, "alert", alerts)
		}
	}

	if sweepErr != nil {
		return total, errors.NewInternalError("retention sweep incomplete").WithCause(sweepErr)
	}

	s.logger.Info("retention sweep complete",
		"cutoff", cutoff,
		"assessments_removed", assessments,
		"alerts_removed", alerts)
	return total, nil
}

// Run sweeps on the configured interval until the context is cancelled. Sweep
// failures are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		"max_age", s.cfg.MaxAge, "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
			cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)
			if _, err := s.CleanupOldData(sweepCtx, cutoff); err != nil {
				s.logger.Error("retention sweep failed, will retry next interval", "error", err)
			}
			cancel()
		}
	}
}
