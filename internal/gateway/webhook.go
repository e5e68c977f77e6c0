package gateway

import (
	"encoding/json"
	"errors"
	"strings"
)

// Webhook statuses after normalization.
const (
	WebhookDone              = "DONE"
	WebhookCanceled          = "CANCELED"
	WebhookWaitingForDeposit = "WAITING_FOR_DEPOSIT"
	WebhookExpired           = "EXPIRED"
	WebhookPartialCanceled   = "PARTIAL_CANCELED"
)

// ErrMalformedWebhook is returned for payloads that are not JSON objects or lack
// status/orderId.
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// WebhookEvent is a provider-neutral gateway notification.
type WebhookEvent struct {
	Status         string
	OrderID        string
	VirtualAccount json.RawMessage
	CancelReason   string
	Raw            json.RawMessage
}

type webhookPayload struct {
	Status         string          `json:"status"`
	OrderID        string          `json:"orderId"`
	VirtualAccount json.RawMessage `json:"virtualAccount"`
	VBank          json.RawMessage `json:"vbank"`
	Cancels        []struct {
		CancelReason string `json:"cancelReason"`
	} `json:"cancels"`
	Data json.RawMessage `json:"data"`
}

// nice reports lowercase statuses; toss already uses the normalized names.
var niceWebhookStatus = map[string]string{
	"paid":             WebhookDone,
	"cancelled":        WebhookCanceled,
	"partialCancelled": WebhookPartialCanceled,
	"ready":            WebhookWaitingForDeposit,
	"expired":          WebhookExpired,
}

// ParseWebhook decodes a gateway webhook body. Both the flat shape and the
// {"eventType":..., "data":{...}} envelope are accepted. Unknown statuses are
// passed through unchanged so the caller can log and acknowledge them.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformedWebhook
	}
	if p.Status == "" && len(p.Data) > 0 {
		var inner webhookPayload
		if err := json.Unmarshal(p.Data, &inner); err != nil {
			return nil, ErrMalformedWebhook
		}
		p = inner
	}
	p.Status = strings.TrimSpace(p.Status)
	p.OrderID = strings.TrimSpace(p.OrderID)
	if p.Status == "" || p.OrderID == "" {
		return nil, ErrMalformedWebhook
	}

	ev := &WebhookEvent{Status: p.Status, OrderID: p.OrderID, VirtualAccount: p.VirtualAccount, Raw: body}
	if s, ok := niceWebhookStatus[p.Status]; ok {
		ev.Status = s
	}
	if len(ev.VirtualAccount) == 0 {
		ev.VirtualAccount = p.VBank
	}
	if len(p.Cancels) > 0 {
		ev.CancelReason = p.Cancels[len(p.Cancels)-1].CancelReason
	}
	return ev, nil
}
