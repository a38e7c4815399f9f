package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LinkRepository reads the caregiver/user link table maintained by the
// permission manager. The safeguard engine only checks membership; it never
// creates or revokes links. Implements detection.PermissionChecker.
type LinkRepository struct {
	db *pgxpool.Pool
}

func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

// IsLinked reports whether an active link exists for the pair.
func (r *LinkRepository) IsLinked(ctx context.Context, caregiverID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM caregiver_links
			WHERE caregiver_id = $1 AND user_id = $2
			  AND revoked_at IS NULL
		)`

	var linked bool
	err := r.db.QueryRow(ctx, query, caregiverID, userID).Scan(&linked)
	if err != nil {
		return false, err
	}
	return linked, nil
}

// Link inserts an active link, reactivating a revoked row for the same pair.
// Production links are owned by the permission manager; this path seeds
// integration fixtures.
func (r *LinkRepository) Link(ctx context.Context, caregiverID, userID uuid.UUID) error {
	query := `
		INSERT INTO caregiver_links (caregiver_id, user_id, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (caregiver_id, user_id) DO UPDATE SET revoked_at = NULL`

	_, err := r.db.Exec(ctx, query, caregiverID, userID, time.Now().UTC())
	return err
}
