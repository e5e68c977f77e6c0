package registrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-conference/backend/internal/badgetokens"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/database"
)

const (
	registrationColumns = `conference_id, id, order_id, payment_key, provider, status, payment_status, amount,
	base_amount, options_total, options, receipt_number, user_id, name, email, phone, affiliation, license_number,
	member_verification_data, member_lock_attempted, virtual_account, gateway_result, is_checked_in, checked_in_at,
	badge_issued, badge_qr, confirmation_qr, version, paid_at, created_at, updated_at`

	orderIDIndex = "registrations_order_id_key"
)

// Repository persists registrations and their audit, attendance and participation rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var r models.Registration
	err := row.Scan(&r.ConferenceID, &r.ID, &r.OrderID, &r.PaymentKey, &r.Provider, &r.Status, &r.PaymentStatus, &r.Amount,
		&r.BaseAmount, &r.OptionsTotal, &r.Options, &r.ReceiptNumber, &r.UserID, &r.Name, &r.Email, &r.Phone, &r.Affiliation,
		&r.LicenseNumber, &r.MemberVerification, &r.MemberLockAttempted, &r.VirtualAccount, &r.GatewayResult, &r.IsCheckedIn,
		&r.CheckedInAt, &r.BadgeIssued, &r.BadgeQR, &r.ConfirmationQR, &r.Version, &r.PaidAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func statusStrings(ss []models.RegistrationStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// GetByID returns one registration.
func (r *Repository) GetByID(ctx context.Context, conferenceID, registrationID string) (*models.Registration, error) {
	q := `SELECT ` + registrationColumns + ` FROM registrations WHERE conference_id = $1 AND id = $2`
	return scanRegistration(r.pool.QueryRow(ctx, q, conferenceID, registrationID))
}

// GetByOrderID looks a registration up by its globally unique order id.
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*models.Registration, error) {
	q := `SELECT ` + registrationColumns + ` FROM registrations WHERE order_id = $1`
	return scanRegistration(r.pool.QueryRow(ctx, q, orderID))
}

// ListByConference returns a conference's registrations, newest first, optionally by status.
func (r *Repository) ListByConference(ctx context.Context, conferenceID string, status models.RegistrationStatus) ([]*models.Registration, error) {
	q := `SELECT ` + registrationColumns + ` FROM registrations
		WHERE conference_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, conferenceID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, reg)
	}
	return list, rows.Err()
}

// Replace writes a full snapshot. A stored registration that has already been paid is
// left untouched and Replace reports false.
func (r *Repository) Replace(ctx context.Context, reg *models.Registration) (bool, error) {
	const q = `INSERT INTO registrations (conference_id, id, order_id, payment_key, provider, status, payment_status,
			amount, base_amount, options_total, options, receipt_number, user_id, name, email, phone, affiliation,
			license_number, member_verification_data, virtual_account, gateway_result, confirmation_qr, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (conference_id, id) DO UPDATE SET
			order_id = EXCLUDED.order_id, payment_key = EXCLUDED.payment_key, provider = EXCLUDED.provider,
			status = EXCLUDED.status, payment_status = EXCLUDED.payment_status, amount = EXCLUDED.amount,
			base_amount = EXCLUDED.base_amount, options_total = EXCLUDED.options_total, options = EXCLUDED.options,
			receipt_number = EXCLUDED.receipt_number, user_id = EXCLUDED.user_id, name = EXCLUDED.name,
			email = EXCLUDED.email, phone = EXCLUDED.phone, affiliation = EXCLUDED.affiliation,
			license_number = EXCLUDED.license_number, member_verification_data = EXCLUDED.member_verification_data,
			virtual_account = EXCLUDED.virtual_account, gateway_result = EXCLUDED.gateway_result,
			confirmation_qr = EXCLUDED.confirmation_qr, paid_at = EXCLUDED.paid_at,
			version = registrations.version + 1, updated_at = NOW()
		WHERE registrations.status NOT IN ('PAID', 'REFUND_REQUESTED', 'REFUNDED')
		RETURNING version, member_lock_attempted, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, reg.ConferenceID, reg.ID, reg.OrderID, reg.PaymentKey, reg.Provider, reg.Status,
		reg.PaymentStatus, reg.Amount, reg.BaseAmount, reg.OptionsTotal, reg.Options, reg.ReceiptNumber, reg.UserID,
		reg.Name, reg.Email, reg.Phone, reg.Affiliation, reg.LicenseNumber, reg.MemberVerification, reg.VirtualAccount,
		reg.GatewayResult, reg.ConfirmationQR, reg.PaidAt).
		Scan(&reg.Version, &reg.MemberLockAttempted, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if database.IsUniqueViolation(err, orderIDIndex) {
		return false, fmt.Errorf("order id %s already used: %w", reg.OrderID, apperrors.ErrConflict)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transition moves the registration to `to` if its current status is one of from.
// When the guard fails the current document is returned with apperrors.ErrStaleState.
func (r *Repository) Transition(ctx context.Context, conferenceID, registrationID string, from []models.RegistrationStatus, to models.RegistrationStatus, paidAt *time.Time) (*models.Registration, error) {
	q := `UPDATE registrations SET status = $3, payment_status = $3, paid_at = COALESCE($5, paid_at),
			version = version + 1, updated_at = NOW()
		WHERE conference_id = $1 AND id = $2 AND status = ANY($4)
		RETURNING ` + registrationColumns
	reg, err := scanRegistration(r.pool.QueryRow(ctx, q, conferenceID, registrationID, string(to), statusStrings(from), paidAt))
	if !errors.Is(err, apperrors.ErrNotFound) {
		return reg, err
	}
	current, err := r.GetByID(ctx, conferenceID, registrationID)
	if err != nil {
		return nil, err
	}
	return current, apperrors.ErrStaleState
}

// UpdateVirtualAccount refreshes the deposit instructions of an unpaid registration.
func (r *Repository) UpdateVirtualAccount(ctx context.Context, conferenceID, registrationID string, va json.RawMessage) (bool, error) {
	const q = `UPDATE registrations SET virtual_account = $3, version = version + 1, updated_at = NOW()
		WHERE conference_id = $1 AND id = $2 AND status IN ('PENDING_PAYMENT', 'WAITING_FOR_DEPOSIT')`
	tag, err := r.pool.Exec(ctx, q, conferenceID, registrationID, va)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimMemberLock flips member_lock_attempted once; only the caller that flips it may
// lock the member code.
func (r *Repository) ClaimMemberLock(ctx context.Context, conferenceID, registrationID string) (bool, error) {
	const q = `UPDATE registrations SET member_lock_attempted = TRUE, version = version + 1, updated_at = NOW()
		WHERE conference_id = $1 AND id = $2 AND NOT member_lock_attempted`
	tag, err := r.pool.Exec(ctx, q, conferenceID, registrationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertParticipation records a registered user's paid participation.
func (r *Repository) UpsertParticipation(ctx context.Context, p models.ParticipationRecord) error {
	const q = `INSERT INTO participation_history (user_id, conference_id, registration_id, amount, paid_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, conference_id) DO UPDATE SET registration_id = EXCLUDED.registration_id,
			amount = EXCLUDED.amount, paid_at = EXCLUDED.paid_at, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, p.UserID, p.ConferenceID, p.RegistrationID, p.Amount, p.PaidAt)
	return err
}

// AppendLog inserts an audit entry.
func (r *Repository) AppendLog(ctx context.Context, l *models.RegistrationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	const q = `INSERT INTO registration_logs (id, conference_id, registration_id, action, payload)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	return r.pool.QueryRow(ctx, q, l.ID, l.ConferenceID, l.RegistrationID, l.Action, l.Payload).Scan(&l.CreatedAt)
}

// CheckIn marks a paid registration checked in with its badge printed and records the
// attendance entry in the same transaction.
func (r *Repository) CheckIn(ctx context.Context, conferenceID, registrationID, badgeQR, recordedBy string, at time.Time) (*models.Registration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE registrations SET is_checked_in = TRUE, checked_in_at = COALESCE(checked_in_at, $3),
			badge_issued = TRUE, badge_qr = $4, version = version + 1, updated_at = NOW()
		WHERE conference_id = $1 AND id = $2 AND status = 'PAID'
		RETURNING ` + registrationColumns
	reg, err := scanRegistration(tx.QueryRow(ctx, q, conferenceID, registrationID, at, badgeQR))
	if errors.Is(err, apperrors.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, conferenceID, registrationID); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO attendance_logs (id, conference_id, registration_id, kind, recorded_by)
		VALUES ($1, $2, $3, $4, $5)`, uuid.New(), conferenceID, registrationID, models.AttendanceCheckIn, recordedBy); err != nil {
		return nil, fmt.Errorf("insert attendance log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return reg, nil
}

// Delete removes a registration with its attendance logs, audit logs and badge tokens.
func (r *Repository) Delete(ctx context.Context, conferenceID, registrationID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM attendance_logs WHERE conference_id = $1 AND registration_id = $2`,
		`DELETE FROM registration_logs WHERE conference_id = $1 AND registration_id = $2`,
	} {
		if _, err := tx.Exec(ctx, q, conferenceID, registrationID); err != nil {
			return err
		}
	}
	if err := badgetokens.DeleteForRegistration(ctx, tx, conferenceID, registrationID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM registrations WHERE conference_id = $1 AND id = $2`, conferenceID, registrationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return tx.Commit(ctx)
}
