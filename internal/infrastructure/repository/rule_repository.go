package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// RuleRepository handles detection rule persistence.
type RuleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

// Insert stores a new detection rule.
func (r *RuleRepository) Insert(ctx context.Context, rule *safeguard.DetectionRule) error {
	if rule == nil {
		return errors.New("rule cannot be nil")
	}

	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `
		INSERT INTO detection_rules (id, name, type, enabled, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		rule.ID, rule.Name, string(rule.Type), rule.Enabled, configJSON,
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetByID returns a rule, or nil when no row matches.
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*safeguard.DetectionRule, error) {
	query := `
		SELECT id, name, type, enabled, config, created_at, updated_at
		FROM detection_rules
		WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

// ListEnabled returns all enabled rules, oldest first so evaluation order is
// stable across runs.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*safeguard.DetectionRule, error) {
	query := `
		SELECT id, name, type, enabled, config, created_at, updated_at
		FROM detection_rules
		WHERE enabled
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListByType returns rules of one type regardless of enabled state.
func (r *RuleRepository) ListByType(ctx context.Context, ruleType safeguard.RuleType) ([]*safeguard.DetectionRule, error) {
	query := `
		SELECT id, name, type, enabled, config, created_at, updated_at
		FROM detection_rules
		WHERE type = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, string(ruleType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// Update persists a rule's mutable fields.
func (r *RuleRepository) Update(ctx context.Context, rule *safeguard.DetectionRule) error {
	if rule == nil {
		return errors.New("rule cannot be nil")
	}

	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `
		UPDATE detection_rules
		SET name = $2, enabled = $3, config = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, rule.ID, rule.Name, rule.Enabled, configJSON, rule.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRuleNotFound
	}
	return nil
}

func scanRule(row rowScanner) (*safeguard.DetectionRule, error) {
	var (
		rule       safeguard.DetectionRule
		ruleType   string
		configJSON []byte
	)
	err := row.Scan(&rule.ID, &rule.Name, &ruleType, &rule.Enabled, &configJSON,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Type = safeguard.RuleType(ruleType)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &rule.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule config: %w", err)
		}
	}
	return &rule, nil
}

func collectRules(rows pgx.Rows) ([]*safeguard.DetectionRule, error) {
	var out []*safeguard.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
