package safeguard_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score int
		want  safeguard.RiskLevel
	}{
		{0, safeguard.LevelLow},
		{25, safeguard.LevelLow},
		{39, safeguard.LevelLow},
		{40, safeguard.LevelMedium},
		{55, safeguard.LevelMedium},
		{69, safeguard.LevelMedium},
		{70, safeguard.LevelHigh},
		{75, safeguard.LevelHigh},
		{80, safeguard.LevelHigh},
		{85, safeguard.LevelHigh},
		{89, safeguard.LevelHigh},
		{90, safeguard.LevelCritical},
		{100, safeguard.LevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, safeguard.ClassifyScore(tt.score), "score %d", tt.score)
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score int
		want  safeguard.FactorSeverity
	}{
		{0, safeguard.SeverityMinimal},
		{19, safeguard.SeverityMinimal},
		{20, safeguard.SeverityLow},
		{39, safeguard.SeverityLow},
		{40, safeguard.SeverityMedium},
		{59, safeguard.SeverityMedium},
		{60, safeguard.SeverityHigh},
		{79, safeguard.SeverityHigh},
		{80, safeguard.SeverityCritical},
		{100, safeguard.SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, safeguard.SeverityForScore(tt.score), "score %d", tt.score)
	}
}

func TestNewRiskFactor(t *testing.T) {
	tests := []struct {
		name         string
		score        int
		wantScore    int
		wantSeverity safeguard.FactorSeverity
	}{
		{"clamps negative score to zero", -10, 0, safeguard.SeverityMinimal},
		{"clamps score above ceiling", 150, 100, safeguard.SeverityCritical},
		{"keeps in-range score", 45, 45, safeguard.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := safeguard.NewRiskFactor(safeguard.FactorContactManipulation, tt.score, "contact changes", nil)
			assert.Equal(t, tt.wantScore, f.Score)
			assert.Equal(t, tt.wantSeverity, f.Severity)
			assert.Equal(t, safeguard.FactorContactManipulation, f.Type)
		})
	}
}

func TestAggregateScore(t *testing.T) {
	factor := func(score int) safeguard.RiskFactor {
		return safeguard.NewRiskFactor(safeguard.FactorBurstActivity, score, "burst", nil)
	}

	tests := []struct {
		name    string
		factors []safeguard.RiskFactor
		want    int
	}{
		{"no factors scores zero", nil, 0},
		{"single factor passes through", []safeguard.RiskFactor{factor(35)}, 35},
		{"factors are additive", []safeguard.RiskFactor{factor(30), factor(25)}, 55},
		{"sum capped at one hundred", []safeguard.RiskFactor{factor(60), factor(70)}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeguard.AggregateScore(tt.factors))
		})
	}
}

func TestNewAssessment(t *testing.T) {
	caregiverID := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC()
	window := safeguard.TimeWindow{From: now.Add(-24 * time.Hour), To: now}

	factors := []safeguard.RiskFactor{
		safeguard.NewRiskFactor(safeguard.FactorContactManipulation, 30, "contact changes", nil),
		safeguard.NewRiskFactor(safeguard.FactorPermissionEscalation, 25, "new grants", nil),
	}

	a := safeguard.NewAssessment(caregiverID, userID, factors, window, now)
	require.NotNil(t, a)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, caregiverID, a.CaregiverID)
	assert.Equal(t, userID, a.UserID)
	assert.Equal(t, 55, a.Score)
	assert.Equal(t, safeguard.LevelMedium, a.Level)
	assert.Equal(t, safeguard.ClassifyScore(a.Score), a.Level)
	assert.Len(t, a.Factors, 2)
	assert.Equal(t, now, a.AssessedAt)
}

func TestAssessment_RequiresImmediateAction(t *testing.T) {
	caregiverID := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC()
	window := safeguard.TimeWindow{From: now.Add(-24 * time.Hour), To: now}

	t.Run("high level requires action", func(t *testing.T) {
		a := safeguard.NewAssessment(caregiverID, userID, []safeguard.RiskFactor{
			safeguard.NewRiskFactor(safeguard.FactorBurstActivity, 75, "burst", nil),
		}, window, now)
		assert.Equal(t, safeguard.LevelHigh, a.Level)
		assert.True(t, a.RequiresImmediateAction())
	})

	t.Run("low level without flagged factor does not", func(t *testing.T) {
		a := safeguard.NewAssessment(caregiverID, userID, []safeguard.RiskFactor{
			safeguard.NewRiskFactor(safeguard.FactorNightActivity, 25, "late events", nil),
		}, window, now)
		assert.False(t, a.RequiresImmediateAction())
	})

	t.Run("flagged factor forces action at any level", func(t *testing.T) {
		f := safeguard.NewRiskFactor(safeguard.FactorEmergencyTampering, 30, "sos cancelled", nil)
		f.RequiresImmediateAction = true
		a := safeguard.NewAssessment(caregiverID, userID, []safeguard.RiskFactor{f}, window, now)
		assert.Equal(t, safeguard.LevelLow, a.Level)
		assert.True(t, a.RequiresImmediateAction())
	})
}

func TestRiskLevel_AtLeast(t *testing.T) {
	assert.True(t, safeguard.LevelCritical.AtLeast(safeguard.LevelHigh))
	assert.True(t, safeguard.LevelHigh.AtLeast(safeguard.LevelHigh))
	assert.False(t, safeguard.LevelMedium.AtLeast(safeguard.LevelHigh))
	assert.False(t, safeguard.LevelLow.AtLeast(safeguard.LevelMedium))
}

func TestParseRiskLevel(t *testing.T) {
	lvl, err := safeguard.ParseRiskLevel("HIGH")
	require.NoError(t, err)
	assert.Equal(t, safeguard.LevelHigh, lvl)

	_, err = safeguard.ParseRiskLevel("SEVERE")
	assert.Error(t, err)
}
