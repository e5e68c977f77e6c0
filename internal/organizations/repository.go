package organizations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

// Repository handles organization, gateway key and allowed-origin persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert creates or renames an organization.
func (r *Repository) Upsert(ctx context.Context, org *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, gateway_provider)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'toss'))
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING gateway_provider, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, org.ID, org.Name, org.GatewayProvider).
		Scan(&org.GatewayProvider, &org.CreatedAt, &org.UpdatedAt)
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	const q = `SELECT id, name, gateway_provider, created_at, updated_at FROM organizations WHERE id = $1`
	var org models.Organization
	err := r.pool.QueryRow(ctx, q, id).Scan(&org.ID, &org.Name, &org.GatewayProvider, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GatewayCredentials returns the organization's stored gateway keys. Missing keys come
// back as empty strings.
func (r *Repository) GatewayCredentials(ctx context.Context, orgID string) (*models.StoredGatewayCredentials, error) {
	const q = `SELECT id, gateway_provider, COALESCE(gateway_secret_key, ''), COALESCE(gateway_client_key, '')
		FROM organizations WHERE id = $1`
	var c models.StoredGatewayCredentials
	err := r.pool.QueryRow(ctx, q, orgID).Scan(&c.OrgID, &c.Provider, &c.SecretKey, &c.ClientKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetGatewayCredentials stores the organization's gateway keys.
func (r *Repository) SetGatewayCredentials(ctx context.Context, c models.StoredGatewayCredentials) error {
	const q = `UPDATE organizations SET gateway_provider = $2, gateway_secret_key = NULLIF($3, ''),
			gateway_client_key = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, c.OrgID, c.Provider, c.SecretKey, c.ClientKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// AllowedOrigins returns every organization's CORS origins.
func (r *Repository) AllowedOrigins(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT origin FROM allowed_origins ORDER BY origin`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListOrigins returns one organization's origins.
func (r *Repository) ListOrigins(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT origin FROM allowed_origins WHERE org_id = $1 ORDER BY origin`, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AddOrigin allows an origin for an organization. Adding twice is a no-op.
func (r *Repository) AddOrigin(ctx context.Context, orgID, origin string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO allowed_origins (org_id, origin) VALUES ($1, $2)
		ON CONFLICT (org_id, origin) DO NOTHING`, orgID, origin)
	return err
}

// RemoveOrigin revokes an origin.
func (r *Repository) RemoveOrigin(ctx context.Context, orgID, origin string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM allowed_origins WHERE org_id = $1 AND origin = $2`, orgID, origin)
	return err
}
