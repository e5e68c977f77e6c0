package integrity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

const alertColumns = `id, alert_date, severity, rule, collection, document_id, description, change_id,
	resolved, resolved_by, resolved_at, created_at`

// Repository persists integrity alerts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an alert repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert implements AlertStore.
func (r *Repository) Insert(ctx context.Context, a *models.IntegrityAlert) (bool, error) {
	const q = `INSERT INTO integrity_alerts (id, alert_date, severity, rule, collection, document_id, description, change_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (change_id, rule) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, a.ID, a.AlertDate, a.Severity, a.Rule, a.Collection, a.DocumentID, a.Description, a.ChangeID, a.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Date     *time.Time
	Resolved *bool
	Severity models.AlertSeverity
	Limit    int
}

// List returns alerts, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.IntegrityAlert, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := `SELECT ` + alertColumns + ` FROM integrity_alerts
		WHERE ($1::date IS NULL OR alert_date = $1::date)
		  AND ($2::boolean IS NULL OR resolved = $2)
		  AND ($3 = '' OR severity = $3)
		ORDER BY created_at DESC
		LIMIT $4`
	rows, err := r.pool.Query(ctx, q, f.Date, f.Resolved, string(f.Severity), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.IntegrityAlert
	for rows.Next() {
		var a models.IntegrityAlert
		if err := rows.Scan(&a.ID, &a.AlertDate, &a.Severity, &a.Rule, &a.Collection, &a.DocumentID, &a.Description,
			&a.ChangeID, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// Resolve marks an alert resolved. Resolving twice keeps the first resolver.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID, by string) (*models.IntegrityAlert, error) {
	q := `UPDATE integrity_alerts SET resolved = TRUE,
			resolved_by = COALESCE(resolved_by, $2), resolved_at = COALESCE(resolved_at, NOW())
		WHERE id = $1
		RETURNING ` + alertColumns
	var a models.IntegrityAlert
	err := r.pool.QueryRow(ctx, q, id, by).Scan(&a.ID, &a.AlertDate, &a.Severity, &a.Rule, &a.Collection, &a.DocumentID,
		&a.Description, &a.ChangeID, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
