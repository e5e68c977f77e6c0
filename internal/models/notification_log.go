package models

import (
	"time"

	"github.com/google/uuid"
)

// Message template ids understood by the messaging API.
const (
	TemplateBadgePrepLink   = "BADGE_PREP_LINK"
	TemplatePaymentCanceled = "PAYMENT_CANCELED"
	TemplateDepositExpired  = "DEPOSIT_EXPIRED"
	TemplateRefundProcessed = "REFUND_PROCESSED"
)

// NotificationLogStatus for delivery.
const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// NotificationLog records a delivery attempt made by the notification worker.
type NotificationLog struct {
	ID           uuid.UUID  `json:"id"`
	JobID        string     `json:"job_id"`
	Recipient    string     `json:"recipient"`
	TemplateID   string     `json:"template_id"`
	Status       string     `json:"status"`
	MessageID    string     `json:"message_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
