package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

const defaultWindow = 30 * 24 * time.Hour

type service struct {
	assessments AssessmentReader
	alerts      AlertReader
	logger      *slog.Logger

	cacheTTL time.Duration
	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
}

type cacheEntry struct {
	summary   *StatisticsSummary
	expiresAt time.Time
}

// NewService creates the analytics service. cacheTTL <= 0 disables the
// summary cache.
func NewService(assessments AssessmentReader, alerts AlertReader, cacheTTL time.Duration, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		assessments: assessments,
		alerts:      alerts,
		logger:      logger,
		cacheTTL:    cacheTTL,
		cache:       make(map[string]cacheEntry),
	}
}

func (s *service) GetStatisticsSummary(ctx context.Context, userID uuid.UUID, window time.Duration) (*StatisticsSummary, error) {
	if userID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_USER_ID", "user ID is required")
	}
	if window <= 0 {
		window = defaultWindow
	}

	key := fmt.Sprintf("summary:%s:%d", userID, window)
	if cached := s.cachedSummary(key); cached != nil {
		return cached, nil
	}

	since := time.Now().UTC().Add(-window)
	assessments, err := s.assessments.ListByUserSince(ctx, userID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to list assessments").WithCause(err)
	}
	alertCount, err := s.alerts.CountByUserSince(ctx, userID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to count alerts").WithCause(err)
	}

	summary := &StatisticsSummary{
		UserID:           userID,
		Window:           window,
		TotalAssessments: len(assessments),
		TotalAlerts:      alertCount,
	}
	var scoreSum int
	for _, a := range assessments {
		scoreSum += a.Score
		if a.Level.AtLeast(safeguard.LevelHigh) {
			summary.HighRiskAssessments++
		}
	}
	if len(assessments) > 0 {
		summary.AverageRiskScore = scoreSum / len(assessments)
	}

	s.storeSummary(key, summary)
	return summary, nil
}

func (s *service) GetRiskTrend(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*RiskTrend, error) {
	if caregiverID == uuid.Nil || userID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PAIR", "caregiver and user IDs are required")
	}
	if window <= 0 {
		window = defaultWindow
	}

	since := time.Now().UTC().Add(-window)
	assessments, err := s.assessments.ListByPairSince(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to list assessments").WithCause(err)
	}

	trend := &RiskTrend{
		CaregiverID: caregiverID,
		UserID:      userID,
		Points:      make([]TrendPoint, 0, len(assessments)),
		Direction:   TrendStable,
	}
	for _, a := range assessments {
		trend.Points = append(trend.Points, TrendPoint{
			Timestamp: a.AssessedAt,
			Score:     a.Score,
			Level:     a.Level,
		})
	}
	if len(trend.Points) >= 2 {
		trend.NetChange = trend.Points[len(trend.Points)-1].Score - trend.Points[0].Score
		switch {
		case trend.NetChange > 0:
			trend.Direction = TrendRising
		case trend.NetChange < 0:
			trend.Direction = TrendFalling
		}
	}
	return trend, nil
}

func (s *service) GetMostFrequentRiskFactors(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) ([]FactorFrequency, error) {
	if caregiverID == uuid.Nil || userID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PAIR", "caregiver and user IDs are required")
	}
	if window <= 0 {
		window = defaultWindow
	}

	since := time.Now().UTC().Add(-window)
	assessments, err := s.assessments.ListByPairSince(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to list assessments").WithCause(err)
	}

	byType := make(map[safeguard.FactorType]*FactorFrequency)
	for _, a := range assessments {
		for _, f := range a.Factors {
			freq, ok := byType[f.Type]
			if !ok {
				freq = &FactorFrequency{Type: f.Type}
				byType[f.Type] = freq
			}
			freq.Count++
			freq.TotalScore += f.Score
		}
	}

	ranked := make([]FactorFrequency, 0, len(byType))
	for _, freq := range byType {
		ranked = append(ranked, *freq)
	}
	// Ties on count are broken by the summed score, highest first.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].TotalScore > ranked[j].TotalScore
	})
	return ranked, nil
}

func (s *service) cachedSummary(key string) *StatisticsSummary {
	if s.cacheTTL <= 0 {
		return nil
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.summary
}

func (s *service) storeSummary(key string, summary *StatisticsSummary) {
	if s.cacheTTL <= 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[key] = cacheEntry{summary: summary, expiresAt: time.Now().Add(s.cacheTTL)}
}
