package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/testutil"
)

var migrationsDir = filepath.Join("..", "..", "..", "migrations")

func storedAssessment(t *testing.T, repo *AssessmentRepository, caregiverID, userID uuid.UUID, score int, assessedAt time.Time) *safeguard.Assessment {
	t.Helper()
	a := &safeguard.Assessment{
		ID:          uuid.New(),
		CaregiverID: caregiverID,
		UserID:      userID,
		Score:       score,
		Level:       safeguard.ClassifyScore(score),
		Factors: []safeguard.RiskFactor{{
			Type:        safeguard.FactorContactManipulation,
			Score:       score,
			Description: "contacts deleted",
		}},
		Window:     safeguard.TimeWindow{From: assessedAt.Add(-7 * 24 * time.Hour), To: assessedAt},
		AssessedAt: assessedAt,
	}
	require.NoError(t, repo.Insert(context.Background(), a))
	return a
}

func storedAlert(t *testing.T, repo *AlertRepository, userID uuid.UUID, status safeguard.AlertStatus, immediate bool, createdAt time.Time) *safeguard.Alert {
	t.Helper()
	a := safeguard.NewAlert(uuid.New(), userID, safeguard.LevelHigh, safeguard.AlertThresholdExceeded, "risk threshold exceeded")
	a.RequiresImmediateAction = immediate
	a.CreatedAt = createdAt
	if status != safeguard.AlertStatusActive {
		details := "reviewed by care team"
		resolvedAt := createdAt.Add(time.Hour)
		a.Status = status
		a.ResolutionDetails = &details
		a.ResolvedAt = &resolvedAt
	}
	require.NoError(t, repo.Insert(context.Background(), a))
	return a
}

func TestAssessmentRepositoryListSince(t *testing.T) {
	pool := testutil.NewPostgresPool(t, migrationsDir)
	repo := NewAssessmentRepository(pool)
	ctx := context.Background()

	caregiverID := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC()

	old := storedAssessment(t, repo, caregiverID, userID, 25, now.Add(-30*24*time.Hour))
	recent := storedAssessment(t, repo, caregiverID, userID, 55, now.Add(-3*24*time.Hour))
	storedAssessment(t, repo, uuid.New(), userID, 80, now.Add(-24*time.Hour)) // other pair

	t.Run("seven day window excludes the thirty day old row", func(t *testing.T) {
		got, err := repo.ListSince(ctx, caregiverID, userID, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, recent.ID, got[0].ID)
	})

	t.Run("wider window includes both, oldest first", func(t *testing.T) {
		got, err := repo.ListSince(ctx, caregiverID, userID, now.Add(-35*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, old.ID, got[0].ID)
		assert.Equal(t, recent.ID, got[1].ID)
	})

	t.Run("factors survive the round trip", func(t *testing.T) {
		got, err := repo.GetByID(ctx, recent.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got.Factors, 1)
		assert.Equal(t, safeguard.FactorContactManipulation, got.Factors[0].Type)
		assert.Equal(t, safeguard.LevelMedium, got.Level)
	})
}

func TestAlertRepositoryDeleteTerminalBefore(t *testing.T) {
	pool := testutil.NewPostgresPool(t, migrationsDir)
	repo := NewAlertRepository(pool)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()
	cutoff := now.Add(-365 * 24 * time.Hour)

	oldActive := storedAlert(t, repo, userID, safeguard.AlertStatusActive, false, now.Add(-400*24*time.Hour))
	oldResolved := storedAlert(t, repo, userID, safeguard.AlertStatusResolved, false, now.Add(-400*24*time.Hour))
	recentResolved := storedAlert(t, repo, userID, safeguard.AlertStatusResolved, false, now.Add(-10*24*time.Hour))

	deleted, err := repo.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// An ACTIVE alert survives the sweep no matter how old it is.
	got, err := repo.GetByID(ctx, oldActive.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = repo.GetByID(ctx, oldResolved.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByID(ctx, recentResolved.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestAlertRepositoryListImmediateByUser(t *testing.T) {
	pool := testutil.NewPostgresPool(t, migrationsDir)
	repo := NewAlertRepository(pool)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()

	immediateActive := storedAlert(t, repo, userID, safeguard.AlertStatusActive, true, now.Add(-time.Hour))
	immediateResolved := storedAlert(t, repo, userID, safeguard.AlertStatusResolved, true, now.Add(-2*time.Hour))
	storedAlert(t, repo, userID, safeguard.AlertStatusActive, false, now.Add(-time.Minute))
	storedAlert(t, repo, uuid.New(), safeguard.AlertStatusActive, true, now)

	got, err := repo.ListImmediateByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Resolved immediate alerts stay in the listing; newest first.
	assert.Equal(t, immediateActive.ID, got[0].ID)
	assert.Equal(t, immediateResolved.ID, got[1].ID)
}

func TestAlertRepositoryTransitionFromActive(t *testing.T) {
	pool := testutil.NewPostgresPool(t, migrationsDir)
	repo := NewAlertRepository(pool)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()
	details := "caregiver contacted, behavior explained"

	alert := storedAlert(t, repo, userID, safeguard.AlertStatusActive, false, now.Add(-time.Hour))

	got, err := repo.TransitionFromActive(ctx, alert.ID, safeguard.AlertStatusResolved, &details, now)
	require.NoError(t, err)
	assert.Equal(t, safeguard.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolutionDetails)
	assert.Equal(t, details, *got.ResolutionDetails)

	// Second transition loses the compare-and-swap.
	_, err = repo.TransitionFromActive(ctx, alert.ID, safeguard.AlertStatusDismissed, nil, now)
	assert.ErrorIs(t, err, apperrors.ErrAlertNotActive)

	_, err = repo.TransitionFromActive(ctx, uuid.New(), safeguard.AlertStatusResolved, &details, now)
	assert.ErrorIs(t, err, apperrors.ErrAlertNotFound)
}

func TestLinkRepository(t *testing.T) {
	pool := testutil.NewPostgresPool(t, migrationsDir)
	repo := NewLinkRepository(pool)
	ctx := context.Background()

	caregiverID := uuid.New()
	userID := uuid.New()

	linked, err := repo.IsLinked(ctx, caregiverID, userID)
	require.NoError(t, err)
	assert.False(t, linked)

	require.NoError(t, repo.Link(ctx, caregiverID, userID))

	linked, err = repo.IsLinked(ctx, caregiverID, userID)
	require.NoError(t, err)
	assert.True(t, linked)

	// Revoked links do not grant access; re-linking reactivates the row.
	_, err = pool.Exec(ctx,
		`UPDATE caregiver_links SET revoked_at = NOW() WHERE caregiver_id = $1 AND user_id = $2`,
		caregiverID, userID)
	require.NoError(t, err)

	linked, err = repo.IsLinked(ctx, caregiverID, userID)
	require.NoError(t, err)
	assert.False(t, linked)

	require.NoError(t, repo.Link(ctx, caregiverID, userID))
	linked, err = repo.IsLinked(ctx, caregiverID, userID)
	require.NoError(t, err)
	assert.True(t, linked)

	testutil.TruncateTables(t, pool, "caregiver_links")
	linked, err = repo.IsLinked(ctx, caregiverID, userID)
	require.NoError(t, err)
	assert.False(t, linked)
}
