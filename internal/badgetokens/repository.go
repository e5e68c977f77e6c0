package badgetokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/database"
)

const (
	tokenColumns   = `token, conference_id, registration_id, status, created_at, expires_at, issued_at`
	oneActiveIndex = "badge_tokens_one_active_idx"
)

// Repository persists badge tokens.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a badge token repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanToken(row pgx.Row) (*models.BadgeToken, error) {
	var t models.BadgeToken
	err := row.Scan(&t.Token, &t.ConferenceID, &t.RegistrationID, &t.Status, &t.CreatedAt, &t.ExpiresAt, &t.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, token string) (*models.BadgeToken, error) {
	return scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM badge_tokens WHERE token = $1`, token))
}

// Active implements Store.
func (r *Repository) Active(ctx context.Context, conferenceID, registrationID string) (*models.BadgeToken, error) {
	q := `SELECT ` + tokenColumns + ` FROM badge_tokens
		WHERE conference_id = $1 AND registration_id = $2 AND status = 'ACTIVE'`
	return scanToken(r.pool.QueryRow(ctx, q, conferenceID, registrationID))
}

// Rotate implements Store. The partial unique index on ACTIVE tokens serializes
// concurrent rotations; the loser reads back the winner's token.
func (r *Repository) Rotate(ctx context.Context, t *models.BadgeToken) (*models.BadgeToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE badge_tokens SET status = 'EXPIRED'
		WHERE conference_id = $1 AND registration_id = $2 AND status = 'ACTIVE'`,
		t.ConferenceID, t.RegistrationID); err != nil {
		return nil, fmt.Errorf("expire active tokens: %w", err)
	}
	const ins = `INSERT INTO badge_tokens (token, conference_id, registration_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, ins, t.Token, t.ConferenceID, t.RegistrationID, t.Status, t.CreatedAt, t.ExpiresAt); err != nil {
		if database.IsUniqueViolation(err, oneActiveIndex) {
			_ = tx.Rollback(ctx)
			return r.Active(ctx, t.ConferenceID, t.RegistrationID)
		}
		return nil, fmt.Errorf("insert token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if database.IsUniqueViolation(err, oneActiveIndex) {
			return r.Active(ctx, t.ConferenceID, t.RegistrationID)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// Expire implements Store.
func (r *Repository) Expire(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `UPDATE badge_tokens SET status = 'EXPIRED' WHERE token = $1 AND status = 'ACTIVE'`, token)
	return err
}

// MarkIssued implements Store.
func (r *Repository) MarkIssued(ctx context.Context, conferenceID, token string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE badge_tokens SET status = 'ISSUED', issued_at = $3
		WHERE token = $1 AND conference_id = $2 AND status = 'ACTIVE'`, token, conferenceID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM badge_tokens WHERE token = $1 AND conference_id = $2)`,
		token, conferenceID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrInvalidState
}

// DeleteForRegistration removes a registration's tokens inside the caller's transaction.
func DeleteForRegistration(ctx context.Context, tx pgx.Tx, conferenceID, registrationID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM badge_tokens WHERE conference_id = $1 AND registration_id = $2`, conferenceID, registrationID)
	return err
}
