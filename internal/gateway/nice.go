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

const niceResultOK = "0000"

// NiceClient talks to a NicePay-style API: Basic auth with "clientKey:secretKey",
// approval keyed by tid and a resultCode envelope on every response.
type NiceClient struct {
	baseURL string
	http    *http.Client
}

// NewNiceClient returns a NiceClient. A nil httpClient uses http.DefaultClient.
func NewNiceClient(baseURL string, httpClient *http.Client) *NiceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NiceClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type niceApproveRequest struct {
	Amount int64 `json:"amount"`
}

type niceCancelRequest struct {
	Reason    string `json:"reason"`
	OrderID   string `json:"orderId"`
	CancelAmt int64  `json:"cancelAmt,omitempty"`
}

type nicePayment struct {
	ResultCode string          `json:"resultCode"`
	ResultMsg  string          `json:"resultMsg"`
	TID        string          `json:"tid"`
	OrderID    string          `json:"orderId"`
	Status     string          `json:"status"`
	Amount     int64           `json:"amount"`
	VBank      json.RawMessage `json:"vbank"`
}

func (c *NiceClient) auth(cred Credentials) map[string]string {
	return map[string]string{"Authorization": basicAuth(cred.ClientKey, cred.SecretKey)}
}

// Approve approves the tid. "paid" settles immediately; "ready" is a virtual account.
func (c *NiceClient) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(req.TransactionID))
	p, raw, err := c.call(ctx, endpoint, req.Credentials, niceApproveRequest{Amount: req.Amount})
	if err != nil {
		return nil, err
	}
	if p.Amount != 0 && p.Amount != req.Amount {
		return nil, &Error{Provider: models.PaymentProviderNice, Code: "AMOUNT_MISMATCH",
			Message: fmt.Sprintf("approved %d, expected %d", p.Amount, req.Amount), StatusCode: http.StatusOK}
	}
	res := &ApproveResult{Raw: raw}
	switch p.Status {
	case "paid":
		res.SettlementStatus = SettlementImmediate
	case "ready":
		res.SettlementStatus = SettlementDeferred
		res.VirtualAccount = p.VBank
	default:
		return nil, &Error{Provider: models.PaymentProviderNice, Code: "UNEXPECTED_STATUS", Message: "payment status " + p.Status, StatusCode: http.StatusOK}
	}
	return res, nil
}

// Cancel cancels the tid, fully when req.Amount is 0.
func (c *NiceClient) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s/cancel", c.baseURL, url.PathEscape(req.TransactionID))
	p, raw, err := c.call(ctx, endpoint, req.Credentials,
		niceCancelRequest{Reason: req.Reason, OrderID: req.OrderID, CancelAmt: req.Amount})
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case "cancelled":
		return &CancelResult{Status: CancelStatusCanceled, Raw: raw}, nil
	case "partialCancelled":
		return &CancelResult{Status: CancelStatusPartial, Raw: raw}, nil
	}
	return nil, &Error{Provider: models.PaymentProviderNice, Code: "UNEXPECTED_STATUS", Message: "cancel status " + p.Status, StatusCode: http.StatusOK}
}

func (c *NiceClient) call(ctx context.Context, endpoint string, cred Credentials, body any) (*nicePayment, []byte, error) {
	status, raw, err := postJSON(ctx, c.http, models.PaymentProviderNice, endpoint, c.auth(cred), body)
	if err != nil {
		return nil, nil, err
	}
	var p nicePayment
	if jsonErr := json.Unmarshal(raw, &p); jsonErr != nil {
		if status != http.StatusOK {
			return nil, nil, &Error{Provider: models.PaymentProviderNice, Message: http.StatusText(status), StatusCode: status}
		}
		return nil, nil, &Error{Provider: models.PaymentProviderNice, Code: "BAD_RESPONSE", Message: "decode response", StatusCode: status, Err: jsonErr}
	}
	if status != http.StatusOK || p.ResultCode != niceResultOK {
		msg := p.ResultMsg
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, nil, &Error{Provider: models.PaymentProviderNice, Code: p.ResultCode, Message: msg, StatusCode: status}
	}
	return &p, raw, nil
}
