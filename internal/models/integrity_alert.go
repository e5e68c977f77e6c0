package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity ranks integrity alerts.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityMedium   AlertSeverity = "MEDIUM"
)

// Watched collections.
const (
	CollectionRegistrations  = "registrations"
	CollectionSocietyMembers = "society_members"
)

// IntegrityAlert is an observational record of one violated rule. Written once per
// (change, rule); operators resolve it.
type IntegrityAlert struct {
	ID          uuid.UUID     `json:"id"`
	AlertDate   time.Time     `json:"alert_date"`
	Severity    AlertSeverity `json:"severity"`
	Rule        string        `json:"rule"`
	Collection  string        `json:"collection"`
	DocumentID  string        `json:"document_id"`
	Description string        `json:"description"`
	ChangeID    string        `json:"change_id"`
	Resolved    bool          `json:"resolved"`
	ResolvedBy  *string       `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
