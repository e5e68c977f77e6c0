package models

import (
	"strings"
	"time"
	"unicode"
)

// MemberCode is a one-time verification/discount code tied to a society membership.
// Once Used it stays used; only an administrative reset (which stamps ResetAt) clears it.
type MemberCode struct {
	OrgID      string     `json:"org_id"`
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	NameKey    string     `json:"name_key"`
	Code       string     `json:"code"`
	LegacyCode *string    `json:"legacy_code"`
	Grade      string     `json:"grade"`
	ExpiryDate *time.Time `json:"expiry_date"`
	Used       bool       `json:"used"`
	UsedBy     *string    `json:"used_by"`
	UsedAt     *time.Time `json:"used_at"`
	ResetAt    *time.Time `json:"reset_at"`
	ResetBy    *string    `json:"reset_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsExpired reports whether the membership lapsed before now.
func (m *MemberCode) IsExpired(now time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(now)
}

// NameKey normalizes a member name for lookups: all whitespace removed.
func NameKey(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}
