package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus is the lifecycle state of a registration. PaymentStatus uses the
// same values and is always written together with Status.
type RegistrationStatus string

const (
	StatusPendingPayment    RegistrationStatus = "PENDING_PAYMENT"
	StatusPaid              RegistrationStatus = "PAID"
	StatusWaitingForDeposit RegistrationStatus = "WAITING_FOR_DEPOSIT"
	StatusCanceled          RegistrationStatus = "CANCELED"
	StatusExpired           RegistrationStatus = "EXPIRED"
	StatusRefunded          RegistrationStatus = "REFUNDED"
	StatusRefundRequested   RegistrationStatus = "REFUND_REQUESTED"
)

// Known reports whether s is one of the defined statuses.
func (s RegistrationStatus) Known() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusWaitingForDeposit, StatusCanceled,
		StatusExpired, StatusRefunded, StatusRefundRequested:
		return true
	}
	return false
}

// RegistrationOption is a purchased add-on (workshop, dinner, ...).
type RegistrationOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// MemberVerification references the member code a registration was priced with.
type MemberVerification struct {
	OrgID    string `json:"org_id"`
	MemberID string `json:"member_id"`
	Code     string `json:"code,omitempty"`
	Grade    string `json:"grade,omitempty"`
}

// Registration is one attendee's admission record for one conference.
// JSON names equal the column names so change-feed snapshots decode into this type.
type Registration struct {
	ConferenceID        string               `json:"conference_id"`
	ID                  string               `json:"id"`
	OrderID             string               `json:"order_id"`
	PaymentKey          string               `json:"payment_key"`
	Provider            string               `json:"provider"`
	Status              RegistrationStatus   `json:"status"`
	PaymentStatus       RegistrationStatus   `json:"payment_status"`
	Amount              int64                `json:"amount"`
	BaseAmount          int64                `json:"base_amount"`
	OptionsTotal        int64                `json:"options_total"`
	Options             []RegistrationOption `json:"options"`
	ReceiptNumber       string               `json:"receipt_number"`
	UserID              *string              `json:"user_id"`
	Name                string               `json:"name"`
	Email               string               `json:"email"`
	Phone               string               `json:"phone"`
	Affiliation         string               `json:"affiliation"`
	LicenseNumber       string               `json:"license_number"`
	MemberVerification  *MemberVerification  `json:"member_verification_data"`
	MemberLockAttempted bool                 `json:"member_lock_attempted"`
	VirtualAccount      json.RawMessage      `json:"virtual_account"`
	GatewayResult       json.RawMessage      `json:"gateway_result"`
	IsCheckedIn         bool                 `json:"is_checked_in"`
	CheckedInAt         *time.Time           `json:"checked_in_at"`
	BadgeIssued         bool                 `json:"badge_issued"`
	BadgeQR             string               `json:"badge_qr"`
	ConfirmationQR      string               `json:"confirmation_qr"`
	Version             int64                `json:"version"`
	PaidAt              *time.Time           `json:"paid_at"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// IsGuest reports whether the attendee registered without an account.
func (r *Registration) IsGuest() bool {
	return r.UserID == nil || *r.UserID == ""
}

// RegistrationPublic is the sanitized view handed to attendee-facing endpoints, which
// speak camelCase like their request bodies.
type RegistrationPublic struct {
	ID            string             `json:"id"`
	ConferenceID  string             `json:"conferenceId"`
	Name          string             `json:"name"`
	Affiliation   string             `json:"affiliation"`
	LicenseNumber string             `json:"licenseNumber,omitempty"`
	Status        RegistrationStatus `json:"status"`
	ReceiptNumber string             `json:"receiptNumber"`
	IsCheckedIn   bool               `json:"isCheckedIn"`
	BadgeIssued   bool               `json:"badgeIssued"`
}

// ToPublic strips payment identifiers, contact details and gateway payloads.
func (r *Registration) ToPublic() RegistrationPublic {
	return RegistrationPublic{
		ID:            r.ID,
		ConferenceID:  r.ConferenceID,
		Name:          r.Name,
		Affiliation:   r.Affiliation,
		LicenseNumber: r.LicenseNumber,
		Status:        r.Status,
		ReceiptNumber: r.ReceiptNumber,
		IsCheckedIn:   r.IsCheckedIn,
		BadgeIssued:   r.BadgeIssued,
	}
}

// Registration log actions.
const (
	LogActionConfirmed       = "CONFIRMED"
	LogActionDepositDone     = "DEPOSIT_DONE"
	LogActionCanceled        = "CANCELED"
	LogActionExpired         = "EXPIRED"
	LogActionRefunded        = "REFUNDED"
	LogActionRefundRequested = "REFUND_REQUESTED"
)

// RegistrationLog is an append-only audit entry for a registration.
type RegistrationLog struct {
	ID             uuid.UUID       `json:"id"`
	ConferenceID   string          `json:"conference_id"`
	RegistrationID string          `json:"registration_id"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Attendance log kinds.
const (
	AttendanceCheckIn  = "CHECK_IN"
	AttendanceCheckOut = "CHECK_OUT"
)

// AttendanceLog records on-site attendance. Purged with its registration.
type AttendanceLog struct {
	ID             uuid.UUID `json:"id"`
	ConferenceID   string    `json:"conference_id"`
	RegistrationID string    `json:"registration_id"`
	Kind           string    `json:"kind"`
	RecordedBy     string    `json:"recorded_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipationRecord is a registered user's paid participation in a conference.
type ParticipationRecord struct {
	UserID         string    `json:"user_id"`
	ConferenceID   string    `json:"conference_id"`
	RegistrationID string    `json:"registration_id"`
	Amount         int64     `json:"amount"`
	PaidAt         time.Time `json:"paid_at"`
}
