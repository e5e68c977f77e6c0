package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/models"
)

// Repository handles notification_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records one delivery attempt.
func (r *Repository) Insert(ctx context.Context, l *models.NotificationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	const q = `INSERT INTO notification_logs (id, job_id, recipient, template_id, status, message_id, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, l.ID, l.JobID, l.Recipient, l.TemplateID, l.Status, l.MessageID, l.ErrorMessage, l.SentAt).
		Scan(&l.CreatedAt)
}

// ListByRecipient returns delivery logs for a phone number, newest first.
func (r *Repository) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*models.NotificationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT id, job_id, recipient, template_id, status, message_id, error_message, sent_at, created_at
		FROM notification_logs
		WHERE recipient = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.NotificationLog
	for rows.Next() {
		var l models.NotificationLog
		var msgID, errMsg *string
		if err := rows.Scan(&l.ID, &l.JobID, &l.Recipient, &l.TemplateID, &l.Status, &msgID, &errMsg, &l.SentAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		if msgID != nil {
			l.MessageID = *msgID
		}
		if errMsg != nil {
			l.ErrorMessage = *errMsg
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
