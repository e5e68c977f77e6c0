package models

import "time"

// BadgeTokenStatus is the lifecycle state of a badge-preparation token.
type BadgeTokenStatus string

const (
	TokenActive  BadgeTokenStatus = "ACTIVE"
	TokenExpired BadgeTokenStatus = "EXPIRED"
	TokenIssued  BadgeTokenStatus = "ISSUED"
)

// BadgeToken gates the badge-preparation page for one registration.
type BadgeToken struct {
	Token          string           `json:"token"`
	ConferenceID   string           `json:"conference_id"`
	RegistrationID string           `json:"registration_id"`
	Status         BadgeTokenStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
	IssuedAt       *time.Time       `json:"issued_at,omitempty"`
}

// IsExpiredAt reports whether the token is past its expiry at t.
func (t *BadgeToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
