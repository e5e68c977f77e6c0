package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

const adminColumns = `id, email, password_hash, full_name, role, created_at, updated_at`

// Repository handles admin account persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAdmin(row pgx.Row) (*models.Admin, error) {
	var a models.Admin
	var role string
	err := row.Scan(&a.ID, &a.Email, &a.Password, &a.FullName, &role, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	return &a, nil
}

// GetByID returns an admin by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	return scanAdmin(r.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
}

// GetByEmail returns an admin by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return scanAdmin(r.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE email = $1`, email))
}

// Create inserts a new admin. passwordHash must already be hashed.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.Admin, error) {
	const q = `INSERT INTO admins (id, email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + adminColumns
	return scanAdmin(r.pool.QueryRow(ctx, q, uuid.New(), email, passwordHash, fullName, string(role)))
}

// CreateIfEmpty inserts the first admin when the table has none. It reports whether a row
// was written.
func (r *Repository) CreateIfEmpty(ctx context.Context, email, passwordHash, fullName string) (bool, error) {
	const q = `INSERT INTO admins (id, email, password_hash, full_name, role)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (SELECT 1 FROM admins)
		ON CONFLICT (email) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, uuid.New(), email, passwordHash, fullName, string(models.RoleAdmin))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
