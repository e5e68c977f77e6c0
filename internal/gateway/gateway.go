// Package gateway puts the two supported payment providers behind one approve/cancel
// contract. Provider-specific request and response shapes never leave this package.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/metrics"
)

// SettlementStatus tells whether funds moved at approval time.
type SettlementStatus string

const (
	// SettlementImmediate: card-style payment, money captured on approval.
	SettlementImmediate SettlementStatus = "IMMEDIATE"
	// SettlementDeferred: virtual-account bank transfer, settled later by webhook.
	SettlementDeferred SettlementStatus = "DEFERRED"
)

// CancelStatus is the provider's answer to a cancel call.
type CancelStatus string

const (
	CancelStatusCanceled CancelStatus = "CANCELED"
	CancelStatusPartial  CancelStatus = "PARTIAL_CANCELED"
)

// Credentials select the provider and authenticate against it.
type Credentials struct {
	Provider  string
	SecretKey string
	ClientKey string
}

// ApproveRequest approves an authorized transaction.
type ApproveRequest struct {
	Credentials   Credentials
	TransactionID string
	OrderID       string
	Amount        int64
}

// ApproveResult is the normalized approval outcome.
type ApproveResult struct {
	Provider         string           `json:"provider"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	VirtualAccount   json.RawMessage  `json:"virtual_account,omitempty"`
	Raw              json.RawMessage  `json:"raw"`
}

// CancelRequest cancels (refunds) a transaction. Amount 0 cancels the full amount.
type CancelRequest struct {
	Credentials   Credentials
	TransactionID string
	OrderID       string
	Reason        string
	Amount        int64
}

// CancelResult is the normalized cancel outcome.
type CancelResult struct {
	Status CancelStatus    `json:"status"`
	Raw    json.RawMessage `json:"raw"`
}

// Client is the uniform provider contract.
type Client interface {
	Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error)
}

// Config holds provider endpoints.
type Config struct {
	TossBaseURL string
	NiceBaseURL string
	Timeout     time.Duration
}

// Router dispatches to the provider named in the request credentials.
type Router struct {
	providers map[string]Client
	logger    *zap.Logger
}

// NewRouter builds a Router with both providers sharing one HTTP client. The client
// timeout is the only deadline on gateway calls besides the caller's context.
func NewRouter(cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Router{
		providers: map[string]Client{
			models.PaymentProviderToss: NewTossClient(cfg.TossBaseURL, httpClient),
			models.PaymentProviderNice: NewNiceClient(cfg.NiceBaseURL, httpClient),
		},
		logger: logger,
	}
}

// NewRouterWith builds a Router from explicit provider clients.
func NewRouterWith(providers map[string]Client, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{providers: providers, logger: logger}
}

// Approve implements Client.
func (r *Router) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	p, err := r.provider(req.Credentials.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := p.Approve(ctx, req)
	metrics.GatewayLatency.WithLabelValues(req.Credentials.Provider, "approve").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("gateway approve failed",
			zap.String("provider", req.Credentials.Provider),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return nil, err
	}
	res.Provider = req.Credentials.Provider
	return res, nil
}

// Cancel implements Client.
func (r *Router) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	p, err := r.provider(req.Credentials.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := p.Cancel(ctx, req)
	metrics.GatewayLatency.WithLabelValues(req.Credentials.Provider, "cancel").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("gateway cancel failed",
			zap.String("provider", req.Credentials.Provider),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return nil, err
	}
	return res, nil
}

func (r *Router) provider(name string) (Client, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &Error{Provider: name, Code: "UNKNOWN_PROVIDER", Message: fmt.Sprintf("unsupported payment provider %q", name)}
	}
	return p, nil
}
