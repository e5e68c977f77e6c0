package conferences

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/database"
)

const conferenceColumns = `id, org_id, title, start_date, end_date, COALESCE(badge_base_url, ''), created_at, updated_at`

// Repository handles conference persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a conference repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanConference(row pgx.Row) (*models.Conference, error) {
	var c models.Conference
	err := row.Scan(&c.ID, &c.OrgID, &c.Title, &c.StartDate, &c.EndDate, &c.BadgeBaseURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new conference.
func (r *Repository) Create(ctx context.Context, c *models.Conference) error {
	const q = `INSERT INTO conferences (id, org_id, title, start_date, end_date, badge_base_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, c.ID, c.OrgID, c.Title, c.StartDate, c.EndDate, c.BadgeBaseURL).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return apperrors.ErrConflict
	}
	return err
}

// GetByID returns a conference by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Conference, error) {
	return scanConference(r.pool.QueryRow(ctx, `SELECT `+conferenceColumns+` FROM conferences WHERE id = $1`, id))
}

// ListByOrg returns an organization's conferences, newest first.
func (r *Repository) ListByOrg(ctx context.Context, orgID string) ([]*models.Conference, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+conferenceColumns+` FROM conferences
		WHERE org_id = $1 ORDER BY start_date DESC NULLS LAST, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Conference
	for rows.Next() {
		c, err := scanConference(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Update changes title, dates and badge URL. Nil dates keep the stored value.
func (r *Repository) Update(ctx context.Context, id, title string, startDate, endDate *time.Time, badgeBaseURL *string) (*models.Conference, error) {
	q := `UPDATE conferences SET title = $2, start_date = COALESCE($3, start_date), end_date = COALESCE($4, end_date),
			badge_base_url = COALESCE($5, badge_base_url), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + conferenceColumns
	return scanConference(r.pool.QueryRow(ctx, q, id, title, startDate, endDate, badgeBaseURL))
}
