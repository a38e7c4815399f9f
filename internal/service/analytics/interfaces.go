package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// Service computes read-only summaries over assessment and alert history.
type Service interface {
	GetStatisticsSummary(ctx context.Context, userID uuid.UUID, window time.Duration) (*StatisticsSummary, error)
	GetRiskTrend(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*RiskTrend, error)
	GetMostFrequentRiskFactors(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) ([]FactorFrequency, error)
}

// AssessmentReader is the read surface analytics needs over assessments.
type AssessmentReader interface {
	// ListByUserSince returns every assessment for the user, any caregiver,
	// with AssessedAt >= since, ascending.
	ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error)
	// ListByPairSince is scoped to one caregiver/user pair, ascending.
	ListByPairSince(ctx context.Context, caregiverID, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error)
}

// AlertReader counts alerts for summary reporting.
type AlertReader interface {
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// StatisticsSummary aggregates a user's safeguarding history over a window.
type StatisticsSummary struct {
	UserID              uuid.UUID     `json:"user_id"`
	Window              time.Duration `json:"window"`
	TotalAssessments    int           `json:"total_assessments"`
	TotalAlerts         int64         `json:"total_alerts"`
	HighRiskAssessments int           `json:"high_risk_assessments"`
	// AverageRiskScore is sum/count with integer truncation; zero when the
	// window holds no assessments.
	AverageRiskScore int `json:"average_risk_score"`
}

// TrendDirection summarizes the movement of a score series.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// TrendPoint is one assessment in a trend series.
type TrendPoint struct {
	Timestamp time.Time           `json:"timestamp"`
	Score     int                 `json:"score"`
	Level     safeguard.RiskLevel `json:"level"`
}

// RiskTrend is the chronological score series for one caregiver/user pair.
type RiskTrend struct {
	CaregiverID uuid.UUID      `json:"caregiver_id"`
	UserID      uuid.UUID      `json:"user_id"`
	Points      []TrendPoint   `json:"points"`
	Direction   TrendDirection `json:"direction"`
	NetChange   int            `json:"net_change"`
}

// FactorFrequency ranks one factor type's occurrences across a window.
type FactorFrequency struct {
	Type       safeguard.FactorType `json:"type"`
	Count      int                  `json:"count"`
	TotalScore int                  `json:"total_score"`
}
