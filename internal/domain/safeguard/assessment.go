package safeguard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the ordinal classification of an aggregate risk score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Score boundaries for risk level classification. These are the single source
// of truth; no call site carries its own threshold literals.
const (
	mediumScoreFloor   = 40
	highScoreFloor     = 70
	criticalScoreFloor = 90

	// MaxRiskScore caps both factor scores and aggregate scores.
	MaxRiskScore = 100
)

// ClassifyScore maps an aggregate score to its risk level. The mapping is
// total: any clamped score in [0,100] classifies to exactly one level.
func ClassifyScore(score int) RiskLevel {
	switch {
	case score >= criticalScoreFloor:
		return LevelCritical
	case score >= highScoreFloor:
		return LevelHigh
	case score >= mediumScoreFloor:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return RiskLevel(s), nil
	default:
		return "", fmt.Errorf("unknown risk level: %q", s)
	}
}

// AtLeast reports whether l is at or above the given level in severity order.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.ordinal() >= other.ordinal()
}

func (l RiskLevel) ordinal() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// FactorType identifies the behavioral concern a risk factor reports.
type FactorType string

const (
	FactorContactManipulation  FactorType = "contact_manipulation"
	FactorPermissionEscalation FactorType = "permission_escalation"
	FactorBurstActivity        FactorType = "burst_activity"
	FactorEmergencyTampering   FactorType = "emergency_tampering"
	FactorNightActivity        FactorType = "night_activity"
	FactorIsolationPattern     FactorType = "isolation_pattern"
)

// FactorSeverity buckets an individual factor score.
type FactorSeverity string

const (
	SeverityMinimal  FactorSeverity = "MINIMAL"
	SeverityLow      FactorSeverity = "LOW"
	SeverityMedium   FactorSeverity = "MEDIUM"
	SeverityHigh     FactorSeverity = "HIGH"
	SeverityCritical FactorSeverity = "CRITICAL"
)

// SeverityForScore derives the severity bucket for a factor score.
func SeverityForScore(score int) FactorSeverity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	case score >= 20:
		return SeverityLow
	default:
		return SeverityMinimal
	}
}

// RiskFactor is one named, scored contributor to an assessment. It is a value
// object: severity is always derived from the score, never set independently.
type RiskFactor struct {
	Type        FactorType        `json:"type"`
	Score       int               `json:"score"`
	Severity    FactorSeverity    `json:"severity"`
	Evidence    map[string]string `json:"evidence,omitempty"`
	Description string            `json:"description"`

	// RequiresImmediateAction marks factors that demand an alert regardless
	// of the aggregate score (e.g. emergency feature tampering).
	RequiresImmediateAction bool `json:"requires_immediate_action,omitempty"`
}

// NewRiskFactor builds a factor, clamping the score into [0,100] and deriving
// the severity bucket.
func NewRiskFactor(factorType FactorType, score int, description string, evidence map[string]string) RiskFactor {
	score = ClampScore(score)
	return RiskFactor{
		Type:        factorType,
		Score:       score,
		Severity:    SeverityForScore(score),
		Evidence:    evidence,
		Description: description,
	}
}

// ClampScore bounds a score into [0, MaxRiskScore].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// AggregateScore sums factor scores with a ceiling of MaxRiskScore. Additive
// aggregation keeps independent concerns compounding instead of averaging a
// single extreme factor away.
func AggregateScore(factors []RiskFactor) int {
	total := 0
	for _, f := range factors {
		total += f.Score
	}
	return ClampScore(total)
}

// Assessment is an immutable record of one evaluation run for a
// (caregiver, user) pair. It is created once by the evaluation pipeline and
// removed only by retention cleanup.
type Assessment struct {
	ID          uuid.UUID    `json:"id"`
	CaregiverID uuid.UUID    `json:"caregiver_id"`
	UserID      uuid.UUID    `json:"user_id"`
	Score       int          `json:"score"`
	Level       RiskLevel    `json:"level"`
	Factors     []RiskFactor `json:"factors"`
	Window      TimeWindow   `json:"window"`
	AssessedAt  time.Time    `json:"assessed_at"`
}

// NewAssessment aggregates the factors into a single score and classifies it.
// The level is always a pure function of the score.
func NewAssessment(caregiverID, userID uuid.UUID, factors []RiskFactor, window TimeWindow, at time.Time) *Assessment {
	score := AggregateScore(factors)
	return &Assessment{
		ID:          uuid.New(),
		CaregiverID: caregiverID,
		UserID:      userID,
		Score:       score,
		Level:       ClassifyScore(score),
		Factors:     factors,
		Window:      window,
		AssessedAt:  at,
	}
}

// RequiresImmediateAction reports whether the assessment's level or any
// individual factor demands immediate attention.
func (a *Assessment) RequiresImmediateAction() bool {
	if a.Level.AtLeast(LevelHigh) {
		return true
	}
	for _, f := range a.Factors {
		if f.RequiresImmediateAction {
			return true
		}
	}
	return false
}

// EscalationPattern describes a chronological run of assessments whose scores
// rise meaningfully over time.
type EscalationPattern struct {
	CaregiverID uuid.UUID     `json:"caregiver_id"`
	UserID      uuid.UUID     `json:"user_id"`
	Assessments []*Assessment `json:"assessments"`
	FirstScore  int           `json:"first_score"`
	LastScore   int           `json:"last_score"`
	NetIncrease int           `json:"net_increase"`
	Detected    bool          `json:"detected"`
}
