package membercodes

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

const memberColumns = `org_id, id, name, name_key, code, legacy_code, grade, expiry_date,
	used, used_by, used_at, reset_at, reset_by, created_at, updated_at`

// Repository persists society members.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a member-code repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMember(row pgx.Row) (*models.MemberCode, error) {
	var m models.MemberCode
	err := row.Scan(&m.OrgID, &m.ID, &m.Name, &m.NameKey, &m.Code, &m.LegacyCode, &m.Grade, &m.ExpiryDate,
		&m.Used, &m.UsedBy, &m.UsedAt, &m.ResetAt, &m.ResetBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert implements Store. name_key is always re-derived from the name.
func (r *Repository) Upsert(ctx context.Context, m *models.MemberCode) error {
	m.NameKey = models.NameKey(m.Name)
	const q = `INSERT INTO society_members (org_id, id, name, name_key, code, legacy_code, grade, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, id) DO UPDATE SET name = EXCLUDED.name, name_key = EXCLUDED.name_key,
			code = EXCLUDED.code, legacy_code = EXCLUDED.legacy_code, grade = EXCLUDED.grade,
			expiry_date = EXCLUDED.expiry_date, updated_at = NOW()
		RETURNING used, used_by, used_at, reset_at, reset_by, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, m.OrgID, m.ID, m.Name, m.NameKey, m.Code, m.LegacyCode, m.Grade, m.ExpiryDate).
		Scan(&m.Used, &m.UsedBy, &m.UsedAt, &m.ResetAt, &m.ResetBy, &m.CreatedAt, &m.UpdatedAt)
}

// Find implements Store.
func (r *Repository) Find(ctx context.Context, orgID, nameKey, code string) (*models.MemberCode, error) {
	q := `SELECT ` + memberColumns + ` FROM society_members
		WHERE org_id = $1 AND name_key = $2 AND (code = $3 OR legacy_code = $3)
		ORDER BY used ASC, updated_at DESC LIMIT 1`
	return scanMember(r.pool.QueryRow(ctx, q, orgID, nameKey, code))
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, orgID, memberID string) (*models.MemberCode, error) {
	q := `SELECT ` + memberColumns + ` FROM society_members WHERE org_id = $1 AND id = $2`
	return scanMember(r.pool.QueryRow(ctx, q, orgID, memberID))
}

// MarkUsed implements Store.
func (r *Repository) MarkUsed(ctx context.Context, orgID, memberID, usedBy string, at time.Time) error {
	const q = `UPDATE society_members SET used = TRUE, used_by = $3, used_at = $4, updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND used = FALSE`
	tag, err := r.pool.Exec(ctx, q, orgID, memberID, usedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM society_members WHERE org_id = $1 AND id = $2)`,
		orgID, memberID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrAlreadyUsed
}

// Reset implements Store.
func (r *Repository) Reset(ctx context.Context, orgID, memberID, adminID string, at time.Time) (*models.MemberCode, error) {
	q := `UPDATE society_members SET used = FALSE, used_by = NULL, used_at = NULL,
			reset_at = $3, reset_by = $4, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
		RETURNING ` + memberColumns
	return scanMember(r.pool.QueryRow(ctx, q, orgID, memberID, at, adminID))
}
