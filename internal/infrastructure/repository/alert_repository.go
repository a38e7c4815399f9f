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

	apperrors "github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// AlertRepository handles alert persistence. Status transitions are
// compare-and-swap against the ACTIVE state so concurrent resolvers cannot
// both win.
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, caregiver_id, user_id, level, type, message,
	recommended_actions, requires_immediate_action, triggered_by,
	status, notifications, created_at, resolution_details, resolved_at`

// Insert stores a new alert.
func (r *AlertRepository) Insert(ctx context.Context, a *safeguard.Alert) error {
	if a == nil {
		return errors.New("alert cannot be nil")
	}

	actionsJSON, err := json.Marshal(a.RecommendedActions)
	if err != nil {
		return fmt.Errorf("failed to marshal recommended actions: %w", err)
	}
	notificationsJSON, err := json.Marshal(a.Notifications)
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	query := `
		INSERT INTO safety_alerts (` + alertColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.Exec(ctx, query,
		a.ID, a.CaregiverID, a.UserID, string(a.Level), string(a.Type), a.Message,
		actionsJSON, a.RequiresImmediateAction, a.TriggeredBy,
		string(a.Status), notificationsJSON, a.CreatedAt, a.ResolutionDetails, a.ResolvedAt,
	)
	return err
}

// GetByID returns an alert, or nil when no row matches.
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*safeguard.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM safety_alerts WHERE id = $1`

	a, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListActiveByUser returns a user's ACTIVE alerts, newest first.
func (r *AlertRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM safety_alerts
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID, string(safeguard.AlertStatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListImmediateByUser returns alerts flagged for immediate action regardless
// of status, newest first.
func (r *AlertRepository) ListImmediateByUser(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM safety_alerts
		WHERE user_id = $1 AND requires_immediate_action
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// TransitionFromActive atomically moves an ACTIVE alert into a terminal
// status. The WHERE clause is the CAS: zero rows affected means the alert is
// either unknown or already terminal, discriminated by a follow-up read.
func (r *AlertRepository) TransitionFromActive(ctx context.Context, id uuid.UUID, status safeguard.AlertStatus, details *string, at time.Time) (*safeguard.Alert, error) {
	query := `
		UPDATE safety_alerts
		SET status = $2, resolution_details = $3, resolved_at = $4
		WHERE id = $1 AND status = $5`

	tag, err := r.db.Exec(ctx, query, id, string(status), details, at, string(safeguard.AlertStatusActive))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperrors.ErrAlertNotFound
		}
		return nil, apperrors.ErrAlertNotActive
	}
	return r.GetByID(ctx, id)
}

// CountActive counts ACTIVE alerts across all users. Backs the active alerts
// gauge; runs once per metric collection cycle.
func (r *AlertRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM safety_alerts WHERE status = $1`
	err := r.db.QueryRow(ctx, query, string(safeguard.AlertStatusActive)).Scan(&count)
	return count, err
}

// CountByUserSince counts a user's alerts created at or after the given time.
func (r *AlertRepository) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM safety_alerts WHERE user_id = $1 AND created_at >= $2`
	err := r.db.QueryRow(ctx, query, userID, since).Scan(&count)
	return count, err
}

// DeleteTerminalBefore removes terminal alerts older than the cutoff and
// returns the number removed. ACTIVE alerts survive regardless of age.
func (r *AlertRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM safety_alerts WHERE created_at < $1 AND status != $2`
	tag, err := r.db.Exec(ctx, query, cutoff, string(safeguard.AlertStatusActive))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row rowScanner) (*safeguard.Alert, error) {
	var (
		a                 safeguard.Alert
		level, alertType  string
		status            string
		actionsJSON       []byte
		notificationsJSON []byte
	)
	err := row.Scan(
		&a.ID, &a.CaregiverID, &a.UserID, &level, &alertType, &a.Message,
		&actionsJSON, &a.RequiresImmediateAction, &a.TriggeredBy,
		&status, &notificationsJSON, &a.CreatedAt, &a.ResolutionDetails, &a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Level = safeguard.RiskLevel(level)
	a.Type = safeguard.AlertType(alertType)
	a.Status = safeguard.AlertStatus(status)
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &a.RecommendedActions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommended actions: %w", err)
		}
	}
	if len(notificationsJSON) > 0 {
		if err := json.Unmarshal(notificationsJSON, &a.Notifications); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notifications: %w", err)
		}
	}
	return &a, nil
}

func collectAlerts(rows pgx.Rows) ([]*safeguard.Alert, error) {
	var out []*safeguard.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
