package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// RiskStateWriter receives each successfully persisted assessment. Failures
// are logged and swallowed; the database row is the source of truth.
type RiskStateWriter interface {
	Store(ctx context.Context, assessment *safeguard.Assessment) error
}

// AssessmentRepository handles assessment persistence. Assessments are
// insert-only; the single delete path is age-based retention.
type AssessmentRepository struct {
	db        *pgxpool.Pool
	riskCache RiskStateWriter
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// WithRiskCache enables write-through of the latest pair risk state.
func (r *AssessmentRepository) WithRiskCache(w RiskStateWriter) *AssessmentRepository {
	r.riskCache = w
	return r
}

// Insert stores a new assessment. Factors are serialized as JSONB.
func (r *AssessmentRepository) Insert(ctx context.Context, a *safeguard.Assessment) error {
	if a == nil {
		return errors.New("assessment cannot be nil")
	}

	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, caregiver_id, user_id, score, level,
			factors, window_from, window_to, assessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		a.ID, a.CaregiverID, a.UserID, a.Score, string(a.Level),
		factorsJSON, a.Window.From, a.Window.To, a.AssessedAt,
	)
	if err != nil {
		return err
	}

	if r.riskCache != nil {
		// Best-effort; a stale or missing cache entry only costs a DB read.
		_ = r.riskCache.Store(ctx, a)
	}
	return nil
}

// GetByID returns an assessment, or nil when no row matches.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*safeguard.Assessment, error) {
	query := `
		SELECT id, caregiver_id, user_id, score, level,
		       factors, window_from, window_to, assessed_at
		FROM risk_assessments
		WHERE id = $1`

	a, err := scanAssessment(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListSince returns a pair's assessments with assessed_at >= since, oldest
// first.
func (r *AssessmentRepository) ListSince(ctx context.Context, caregiverID, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error) {
	query := `
		SELECT id, caregiver_id, user_id, score, level,
		       factors, window_from, window_to, assessed_at
		FROM risk_assessments
		WHERE caregiver_id = $1 AND user_id = $2 AND assessed_at >= $3
		ORDER BY assessed_at ASC`

	rows, err := r.db.Query(ctx, query, caregiverID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssessments(rows)
}

// ListByLevel returns a pair's assessments at the given level, newest first.
func (r *AssessmentRepository) ListByLevel(ctx context.Context, caregiverID, userID uuid.UUID, level safeguard.RiskLevel) ([]*safeguard.Assessment, error) {
	query := `
		SELECT id, caregiver_id, user_id, score, level,
		       factors, window_from, window_to, assessed_at
		FROM risk_assessments
		WHERE caregiver_id = $1 AND user_id = $2 AND level = $3
		ORDER BY assessed_at DESC`

	rows, err := r.db.Query(ctx, query, caregiverID, userID, string(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssessments(rows)
}

// ListByUserSince returns every assessment for a user across caregivers,
// oldest first.
func (r *AssessmentRepository) ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error) {
	query := `
		SELECT id, caregiver_id, user_id, score, level,
		       factors, window_from, window_to, assessed_at
		FROM risk_assessments
		WHERE user_id = $1 AND assessed_at >= $2
		ORDER BY assessed_at ASC`

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssessments(rows)
}

// ListByPairSince is the analytics read path; identical ordering to
// ListSince.
func (r *AssessmentRepository) ListByPairSince(ctx context.Context, caregiverID, userID uuid.UUID, since time.Time) ([]*safeguard.Assessment, error) {
	return r.ListSince(ctx, caregiverID, userID, since)
}

// DeleteAssessedBefore removes every assessment older than the cutoff and
// returns the number removed.
func (r *AssessmentRepository) DeleteAssessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM risk_assessments WHERE assessed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*safeguard.Assessment, error) {
	var (
		a           safeguard.Assessment
		level       string
		factorsJSON []byte
	)
	err := row.Scan(
		&a.ID, &a.CaregiverID, &a.UserID, &a.Score, &level,
		&factorsJSON, &a.Window.From, &a.Window.To, &a.AssessedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Level = safeguard.RiskLevel(level)
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
		}
	}
	return &a, nil
}

func collectAssessments(rows pgx.Rows) ([]*safeguard.Assessment, error) {
	var out []*safeguard.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
