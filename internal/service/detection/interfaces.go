package detection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// Service runs the evaluation pipeline for a caregiver/user pair.
type Service interface {
	// EvaluateCaregiver fetches a fresh behavior snapshot over the window,
	// applies enabled detection rules, classifies the result and persists a
	// new assessment. Runs for the same pair are serialized.
	EvaluateCaregiver(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*safeguard.Assessment, error)
	// GetAssessment returns a persisted assessment by id.
	GetAssessment(ctx context.Context, id uuid.UUID) (*safeguard.Assessment, error)
	// GetRecentAssessments returns assessments for a pair inside the trailing
	// window, ascending by timestamp.
	GetRecentAssessments(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) ([]*safeguard.Assessment, error)
	// GetAssessmentsByLevel filters a pair's assessments by risk level.
	GetAssessmentsByLevel(ctx context.Context, caregiverID, userID uuid.UUID, level safeguard.RiskLevel) ([]*safeguard.Assessment, error)

	// Rule administration. Disabling a rule excludes it from the next
	// evaluation without altering previously persisted assessments.
	InsertRule(ctx context.Context, rule *safeguard.DetectionRule) error
	GetEnabledRules(ctx context.Context) ([]*safeguard.DetectionRule, error)
	GetRulesByType(ctx context.Context, ruleType safeguard.RuleType) ([]*safeguard.DetectionRule, error)
	UpdateRuleConfiguration(ctx context.Context, id uuid.UUID, config map[string]string) (*safeguard.DetectionRule, error)
	SetRuleEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*safeguard.DetectionRule, error)
}

// SnapshotProvider supplies pre-aggregated caregiver behavior. It is an
// external collaborator; the engine never collects raw signals itself.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, caregiverID, userID uuid.UUID, window safeguard.TimeWindow) (*safeguard.BehaviorSnapshot, error)
}

// PermissionChecker decides whether a caregiver is linked to a user and thus
// eligible for assessment at all.
type PermissionChecker interface {
	IsLinked(ctx context.Context, caregiverID, userID uuid.UUID) (bool, error)
}

// AssessmentStore persists immutable assessments.
type AssessmentStore interface {
	Insert(ctx context.Context, assessment *safeguard.Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*safeguard.Assessment, error)
	// ListSince returns assessments for the pair with AssessedAt >= since,
	// ascending by AssessedAt.
	ListSince(ctx context.Context, caregiverID, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error)
	ListByLevel(ctx context.Context, caregiverID, userID uuid.UUID, level safeguard.RiskLevel) ([]*safeguard.Assessment, error)
}

// RuleStore persists detection rules.
type RuleStore interface {
	Insert(ctx context.Context, rule *safeguard.DetectionRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*safeguard.DetectionRule, error)
	ListEnabled(ctx context.Context) ([]*safeguard.DetectionRule, error)
	ListByType(ctx context.Context, ruleType safeguard.RuleType) ([]*safeguard.DetectionRule, error)
	Update(ctx context.Context, rule *safeguard.DetectionRule) error
}

// AlertSink receives freshly persisted assessments for alert generation.
// Implemented by the alerting service; injected to keep the dependency
// one-directional.
type AlertSink interface {
	ProcessAssessment(ctx context.Context, assessment *safeguard.Assessment) error
}
