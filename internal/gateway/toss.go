package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aura-conference/backend/internal/models"
)

// TossClient talks to a Toss-style API: Basic auth with "secretKey:" and a
// confirm endpoint keyed by paymentKey.
type TossClient struct {
	baseURL string
	http    *http.Client
}

// NewTossClient returns a TossClient. A nil httpClient uses http.DefaultClient.
func NewTossClient(baseURL string, httpClient *http.Client) *TossClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TossClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type tossConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type tossPayment struct {
	PaymentKey     string          `json:"paymentKey"`
	OrderID        string          `json:"orderId"`
	Status         string          `json:"status"`
	TotalAmount    int64           `json:"totalAmount"`
	VirtualAccount json.RawMessage `json:"virtualAccount"`
}

type tossFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tossCancelRequest struct {
	CancelReason string `json:"cancelReason"`
	CancelAmount int64  `json:"cancelAmount,omitempty"`
}

func (c *TossClient) headers(secret, idempotencyKey string) map[string]string {
	h := map[string]string{"Authorization": basicAuth(secret, "")}
	if idempotencyKey != "" {
		h["Idempotency-Key"] = idempotencyKey
	}
	return h
}

// Approve confirms the payment. DONE settles immediately; WAITING_FOR_DEPOSIT is a
// virtual account awaiting transfer.
func (c *TossClient) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	status, raw, err := postJSON(ctx, c.http, models.PaymentProviderToss, c.baseURL+"/v1/payments/confirm",
		c.headers(req.Credentials.SecretKey, "confirm-"+req.OrderID),
		tossConfirmRequest{PaymentKey: req.TransactionID, OrderID: req.OrderID, Amount: req.Amount})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, tossError(status, raw)
	}
	var p tossPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &Error{Provider: models.PaymentProviderToss, Code: "BAD_RESPONSE", Message: "decode confirm response", StatusCode: status, Err: err}
	}
	if p.TotalAmount != 0 && p.TotalAmount != req.Amount {
		return nil, &Error{Provider: models.PaymentProviderToss, Code: "AMOUNT_MISMATCH",
			Message: fmt.Sprintf("approved %d, expected %d", p.TotalAmount, req.Amount), StatusCode: status}
	}
	res := &ApproveResult{Raw: raw}
	switch p.Status {
	case "DONE":
		res.SettlementStatus = SettlementImmediate
	case "WAITING_FOR_DEPOSIT":
		res.SettlementStatus = SettlementDeferred
		res.VirtualAccount = p.VirtualAccount
	default:
		return nil, &Error{Provider: models.PaymentProviderToss, Code: "UNEXPECTED_STATUS", Message: "payment status " + p.Status, StatusCode: status}
	}
	return res, nil
}

// Cancel cancels the payment, fully when req.Amount is 0.
func (c *TossClient) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s/cancel", c.baseURL, url.PathEscape(req.TransactionID))
	status, raw, err := postJSON(ctx, c.http, models.PaymentProviderToss, endpoint,
		c.headers(req.Credentials.SecretKey, ""),
		tossCancelRequest{CancelReason: req.Reason, CancelAmount: req.Amount})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, tossError(status, raw)
	}
	var p tossPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &Error{Provider: models.PaymentProviderToss, Code: "BAD_RESPONSE", Message: "decode cancel response", StatusCode: status, Err: err}
	}
	switch p.Status {
	case "CANCELED":
		return &CancelResult{Status: CancelStatusCanceled, Raw: raw}, nil
	case "PARTIAL_CANCELED":
		return &CancelResult{Status: CancelStatusPartial, Raw: raw}, nil
	}
	return nil, &Error{Provider: models.PaymentProviderToss, Code: "UNEXPECTED_STATUS", Message: "cancel status " + p.Status, StatusCode: status}
}

func tossError(status int, raw []byte) *Error {
	var f tossFailure
	_ = json.Unmarshal(raw, &f)
	if f.Message == "" {
		f.Message = http.StatusText(status)
	}
	return &Error{Provider: models.PaymentProviderToss, Code: f.Code, Message: f.Message, StatusCode: status}
}
