package detection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/metrics"
)

// Config bounds the evaluation pipeline's external calls.
type Config struct {
	// SnapshotTimeout bounds behavior snapshot acquisition.
	SnapshotTimeout time.Duration
	// PersistTimeout bounds assessment persistence.
	PersistTimeout time.Duration
	// DefaultWindow is used when the caller passes a non-positive window.
	DefaultWindow time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotTimeout: 5 * time.Second,
		PersistTimeout:  5 * time.Second,
		DefaultWindow:   7 * 24 * time.Hour,
	}
}

// service implements the Service interface
type service struct {
	snapshots   SnapshotProvider
	permissions PermissionChecker
	assessments AssessmentStore
	rules       RuleStore
	registry    *Registry
	alerts      AlertSink
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Registry

	// pairLocks serializes evaluation runs per (caregiver, user) pair so
	// concurrent runs cannot interleave assessment history.
	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// NewService creates the evaluation pipeline. alerts and permissions may be
// nil; metrics may be nil in tests.
func NewService(
	snapshots SnapshotProvider,
	permissions PermissionChecker,
	assessments AssessmentStore,
	rules RuleStore,
	registry *Registry,
	alerts AlertSink,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Registry,
) Service {
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultConfig().SnapshotTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultConfig().PersistTimeout
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = DefaultConfig().DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		snapshots:   snapshots,
		permissions: permissions,
		assessments: assessments,
		rules:       rules,
		registry:    registry,
		alerts:      alerts,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		pairLocks:   make(map[string]*sync.Mutex),
	}
}

// EvaluateCaregiver runs one evaluation for a pair. See Service.
func (s *service) EvaluateCaregiver(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*safeguard.Assessment, error) {
	if caregiverID == uuid.Nil || userID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PAIR", "caregiver and user ids are required")
	}
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}

	if s.permissions != nil {
		linked, err := s.permissions.IsLinked(ctx, caregiverID, userID)
		if err != nil {
			return nil, errors.NewExternalError("permission", "caregiver link lookup failed").WithCause(err)
		}
		if !linked {
			return nil, errors.NewForbiddenError("caregiver is not linked to this user")
		}
	}

	lock := s.lockFor(caregiverID, userID)
	lock.Lock()
	defer lock.Unlock()

	// A run superseded while waiting for the lock is abandoned here rather
	// than producing a stale assessment.
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTimeoutError("evaluation").WithCause(err)
	}

	now := time.Now().UTC()
	tw := safeguard.TimeWindow{From: now.Add(-window), To: now}

	snapCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	snap, err := s.snapshots.Snapshot(snapCtx, caregiverID, userID, tw)
	cancel()
	if err != nil {
		s.logger.Warn("behavior snapshot unavailable, abandoning evaluation run",
			"caregiver_id", caregiverID, "user_id", userID, "error", err)
		return nil, errors.NewExternalError("snapshot", "behavior snapshot unavailable").WithCause(err)
	}

	enabled, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, errors.NewInternalError("failed to load enabled rules").WithCause(err)
	}

	factors := s.runRules(enabled, snap)

	// Cooperative cancellation: partially computed factors are discarded,
	// never partially persisted.
	if err := ctx.Err(); err != nil {
		s.logger.Warn("evaluation cancelled before persistence",
			"caregiver_id", caregiverID, "user_id", userID)
		return nil, errors.NewTimeoutError("evaluation").WithCause(err)
	}

	assessment := safeguard.NewAssessment(caregiverID, userID, factors, tw, now)

	persistCtx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	err = s.assessments.Insert(persistCtx, assessment)
	cancel()
	if err != nil {
		return nil, errors.NewInternalError("failed to persist assessment").WithCause(err)
	}

	if s.metrics != nil {
		s.metrics.RecordAssessment(ctx, string(assessment.Level), time.Since(now))
	}
	s.logger.Info("assessment recorded",
		"assessment_id", assessment.ID,
		"caregiver_id", caregiverID,
		"user_id", userID,
		"score", assessment.Score,
		"level", assessment.Level,
		"factors", len(assessment.Factors))

	if s.alerts != nil {
		if err := s.alerts.ProcessAssessment(ctx, assessment); err != nil {
			// The assessment is already durable; alerting failures are
			// retried by the next evaluation cycle.
			s.logger.Error("alert processing failed",
				"assessment_id", assessment.ID, "error", err)
		}
	}

	return assessment, nil
}

// runRules applies every enabled rule, isolating per-rule failures.
func (s *service) runRules(rules []*safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) []safeguard.RiskFactor {
	factors := make([]safeguard.RiskFactor, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := rule.Validate(); err != nil {
			s.logger.Warn("skipping malformed rule", "rule_id", rule.ID, "rule", rule.Name, "error", err)
			if s.metrics != nil {
				s.metrics.RecordRuleSkipped(context.Background(), string(rule.Type))
			}
			continue
		}
		factor, err := s.registry.Apply(rule, snap)
		if err != nil {
			s.logger.Warn("rule evaluation failed, continuing with remaining rules",
				"rule_id", rule.ID, "rule", rule.Name, "error", err)
			if s.metrics != nil {
				s.metrics.RecordRuleSkipped(context.Background(), string(rule.Type))
			}
			continue
		}
		if factor != nil {
			factors = append(factors, *factor)
		}
	}
	return factors
}

func (s *service) GetAssessment(ctx context.Context, id uuid.UUID) (*safeguard.Assessment, error) {
	assessment, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, errors.ErrAssessmentNotFound
	}
	return assessment, nil
}

func (s *service) GetRecentAssessments(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) ([]*safeguard.Assessment, error) {
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}
	since := time.Now().UTC().Add(-window)
	return s.assessments.ListSince(ctx, caregiverID, userID, since)
}

func (s *service) GetAssessmentsByLevel(ctx context.Context, caregiverID, userID uuid.UUID, level safeguard.RiskLevel) ([]*safeguard.Assessment, error) {
	if _, err := safeguard.ParseRiskLevel(string(level)); err != nil {
		return nil, errors.NewValidationError("INVALID_RISK_LEVEL", err.Error())
	}
	return s.assessments.ListByLevel(ctx, caregiverID, userID, level)
}

func (s *service) InsertRule(ctx context.Context, rule *safeguard.DetectionRule) error {
	if rule == nil {
		return errors.NewValidationError("INVALID_RULE", "rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return errors.NewValidationError("INVALID_RULE", err.Error())
	}
	if _, ok := s.registry.Lookup(rule.Type); !ok {
		return errors.NewValidationError("INVALID_RULE", "no evaluator registered for rule type "+string(rule.Type))
	}
	return s.rules.Insert(ctx, rule)
}

func (s *service) GetEnabledRules(ctx context.Context) ([]*safeguard.DetectionRule, error) {
	return s.rules.ListEnabled(ctx)
}

func (s *service) GetRulesByType(ctx context.Context, ruleType safeguard.RuleType) ([]*safeguard.DetectionRule, error) {
	return s.rules.ListByType(ctx, ruleType)
}

func (s *service) UpdateRuleConfiguration(ctx context.Context, id uuid.UUID, config map[string]string) (*safeguard.DetectionRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.ErrRuleNotFound
	}

	rule.ReplaceConfig(config)
	if err := rule.Validate(); err != nil {
		return nil, errors.NewValidationError("INVALID_RULE", err.Error())
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, errors.NewInternalError("failed to update rule").WithCause(err)
	}
	return rule, nil
}

func (s *service) SetRuleEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*safeguard.DetectionRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.ErrRuleNotFound
	}

	if enabled {
		rule.Enable()
	} else {
		rule.Disable()
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, errors.NewInternalError("failed to update rule").WithCause(err)
	}
	return rule, nil
}

// lockFor returns the mutex serializing runs for one pair.
func (s *service) lockFor(caregiverID, userID uuid.UUID) *sync.Mutex {
	key := caregiverID.String() + ":" + userID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.pairLocks[key] = lock
	}
	return lock
}
