package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/aura-conference/backend/internal/models"
)

type GatewaySuite struct {
	suite.Suite
	ctx context.Context
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *GatewaySuite) server(h http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(h)
	s.T().Cleanup(srv.Close)
	return srv
}

// ============================================================================
// Toss
// ============================================================================

func (s *GatewaySuite) TestTossApprove() {
	s.Run("done settles immediately", func() {
		srv := s.server(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("/v1/payments/confirm", r.URL.Path)
			s.Equal(basicAuth("sk_test", ""), r.Header.Get("Authorization"))
			s.Equal("confirm-ORD-1", r.Header.Get("Idempotency-Key"))
			var body tossConfirmRequest
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
			s.Equal("pk_1", body.PaymentKey)
			s.Equal("ORD-1", body.OrderID)
			s.Equal(int64(50000), body.Amount)
			_, _ = w.Write([]byte(`{"paymentKey":"pk_1","orderId":"ORD-1","status":"DONE","totalAmount":50000}`))
		})
		res, err := NewTossClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{
			Credentials:   Credentials{Provider: models.PaymentProviderToss, SecretKey: "sk_test"},
			TransactionID: "pk_1", OrderID: "ORD-1", Amount: 50000,
		})
		s.Require().NoError(err)
		s.Equal(SettlementImmediate, res.SettlementStatus)
		s.Contains(string(res.Raw), `"DONE"`)
	})

	s.Run("waiting for deposit carries virtual account", func() {
		srv := s.server(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"WAITING_FOR_DEPOSIT","totalAmount":1000,"virtualAccount":{"accountNumber":"123"}}`))
		})
		res, err := NewTossClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{TransactionID: "pk", OrderID: "o", Amount: 1000})
		s.Require().NoError(err)
		s.Equal(SettlementDeferred, res.SettlementStatus)
		s.JSONEq(`{"accountNumber":"123"}`, string(res.VirtualAccount))
	})

	s.Run("provider failure becomes gateway error", func() {
		srv := s.server(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"REJECT_CARD_COMPANY","message":"card rejected"}`))
		})
		_, err := NewTossClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{TransactionID: "pk", OrderID: "o", Amount: 1})
		ge, ok := AsError(err)
		s.Require().True(ok)
		s.Equal("REJECT_CARD_COMPANY", ge.Code)
		s.Equal(http.StatusBadRequest, ge.StatusCode)
		s.Equal(models.PaymentProviderToss, ge.Provider)
	})

	s.Run("amount mismatch fails closed", func() {
		srv := s.server(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"DONE","totalAmount":999}`))
		})
		_, err := NewTossClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{TransactionID: "pk", OrderID: "o", Amount: 1000})
		ge, ok := AsError(err)
		s.Require().True(ok)
		s.Equal("AMOUNT_MISMATCH", ge.Code)
	})
}

func (s *GatewaySuite) TestTossCancel() {
	srv := s.server(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/v1/payments/pk_9/cancel", r.URL.Path)
		var body tossCancelRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("admin cancel", body.CancelReason)
		if body.CancelAmount > 0 {
			_, _ = w.Write([]byte(`{"status":"PARTIAL_CANCELED"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"CANCELED"}`))
	})
	c := NewTossClient(srv.URL, srv.Client())

	res, err := c.Cancel(s.ctx, CancelRequest{TransactionID: "pk_9", Reason: "admin cancel"})
	s.Require().NoError(err)
	s.Equal(CancelStatusCanceled, res.Status)

	res, err = c.Cancel(s.ctx, CancelRequest{TransactionID: "pk_9", Reason: "admin cancel", Amount: 10})
	s.Require().NoError(err)
	s.Equal(CancelStatusPartial, res.Status)
}

// ============================================================================
// Nice
// ============================================================================

func (s *GatewaySuite) TestNiceApprove() {
	s.Run("paid settles immediately", func() {
		srv := s.server(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("/v1/payments/tid-1", r.URL.Path)
			auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Basic ")
			decoded, err := base64.StdEncoding.DecodeString(auth)
			s.Require().NoError(err)
			s.Equal("ck:sk", string(decoded))
			_, _ = w.Write([]byte(`{"resultCode":"0000","resultMsg":"ok","tid":"tid-1","status":"paid","amount":3000}`))
		})
		res, err := NewNiceClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{
			Credentials:   Credentials{Provider: models.PaymentProviderNice, ClientKey: "ck", SecretKey: "sk"},
			TransactionID: "tid-1", OrderID: "o", Amount: 3000,
		})
		s.Require().NoError(err)
		s.Equal(SettlementImmediate, res.SettlementStatus)
	})

	s.Run("ready is deferred", func() {
		srv := s.server(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"resultCode":"0000","status":"ready","vbank":{"vbankNumber":"42"}}`))
		})
		res, err := NewNiceClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{TransactionID: "t", Amount: 1})
		s.Require().NoError(err)
		s.Equal(SettlementDeferred, res.SettlementStatus)
		s.JSONEq(`{"vbankNumber":"42"}`, string(res.VirtualAccount))
	})

	s.Run("non-zero result code is a gateway error", func() {
		srv := s.server(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"resultCode":"3011","resultMsg":"card limit"}`))
		})
		_, err := NewNiceClient(srv.URL, srv.Client()).Approve(s.ctx, ApproveRequest{TransactionID: "t", Amount: 1})
		ge, ok := AsError(err)
		s.Require().True(ok)
		s.Equal("3011", ge.Code)
		s.Equal("card limit", ge.Message)
	})
}

func (s *GatewaySuite) TestNiceCancel() {
	srv := s.server(func(w http.ResponseWriter, r *http.Request) {
		var body niceCancelRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("ORD-7", body.OrderID)
		_, _ = w.Write([]byte(`{"resultCode":"0000","status":"partialCancelled"}`))
	})
	res, err := NewNiceClient(srv.URL, srv.Client()).Cancel(s.ctx, CancelRequest{TransactionID: "t", OrderID: "ORD-7", Reason: "r", Amount: 5})
	s.Require().NoError(err)
	s.Equal(CancelStatusPartial, res.Status)
}

// ============================================================================
// Router
// ============================================================================

type stubClient struct {
	approved []ApproveRequest
	res      *ApproveResult
}

func (c *stubClient) Approve(_ context.Context, req ApproveRequest) (*ApproveResult, error) {
	c.approved = append(c.approved, req)
	return c.res, nil
}

func (c *stubClient) Cancel(context.Context, CancelRequest) (*CancelResult, error) {
	return &CancelResult{Status: CancelStatusCanceled}, nil
}

func (s *GatewaySuite) TestRouterDispatchesByProvider() {
	toss := &stubClient{res: &ApproveResult{SettlementStatus: SettlementImmediate}}
	nice := &stubClient{res: &ApproveResult{SettlementStatus: SettlementDeferred}}
	r := NewRouterWith(map[string]Client{
		models.PaymentProviderToss: toss,
		models.PaymentProviderNice: nice,
	}, nil)

	res, err := r.Approve(s.ctx, ApproveRequest{Credentials: Credentials{Provider: models.PaymentProviderNice}})
	s.Require().NoError(err)
	s.Equal(SettlementDeferred, res.SettlementStatus)
	s.Equal(models.PaymentProviderNice, res.Provider)
	s.Len(nice.approved, 1)
	s.Empty(toss.approved)

	_, err = r.Approve(s.ctx, ApproveRequest{Credentials: Credentials{Provider: "paypal"}})
	ge, ok := AsError(err)
	s.Require().True(ok)
	s.Equal("UNKNOWN_PROVIDER", ge.Code)
}

func TestParseWebhook(t *testing.T) {
	t.Run("flat toss payload", func(t *testing.T) {
		ev, err := ParseWebhook([]byte(`{"status":"CANCELED","orderId":"o-1","cancels":[{"cancelReason":"first"},{"cancelReason":"second"}]}`))
		require.NoError(t, err)
		assert.Equal(t, WebhookCanceled, ev.Status)
		assert.Equal(t, "o-1", ev.OrderID)
		assert.Equal(t, "second", ev.CancelReason)
	})

	t.Run("enveloped payload", func(t *testing.T) {
		ev, err := ParseWebhook([]byte(`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"status":"DONE","orderId":"o-2"}}`))
		require.NoError(t, err)
		assert.Equal(t, WebhookDone, ev.Status)
		assert.Equal(t, "o-2", ev.OrderID)
	})

	t.Run("nice statuses are normalized", func(t *testing.T) {
		ev, err := ParseWebhook([]byte(`{"status":"ready","orderId":"o-3","vbank":{"vbankNumber":"1"}}`))
		require.NoError(t, err)
		assert.Equal(t, WebhookWaitingForDeposit, ev.Status)
		assert.JSONEq(t, `{"vbankNumber":"1"}`, string(ev.VirtualAccount))
	})

	t.Run("partial cancels normalize to one status", func(t *testing.T) {
		for _, body := range []string{
			`{"status":"PARTIAL_CANCELED","orderId":"o-5","cancels":[{"cancelReason":"dinner"}]}`,
			`{"status":"partialCancelled","orderId":"o-5","cancels":[{"cancelReason":"dinner"}]}`,
		} {
			ev, err := ParseWebhook([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, WebhookPartialCanceled, ev.Status, body)
			assert.Equal(t, "dinner", ev.CancelReason, body)
		}
	})

	t.Run("unknown status passes through", func(t *testing.T) {
		ev, err := ParseWebhook([]byte(`{"status":"ABORTED","orderId":"o-4"}`))
		require.NoError(t, err)
		assert.Equal(t, "ABORTED", ev.Status)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{`not json`, `{"orderId":"o"}`, `{"status":"DONE"}`, `[]`} {
			_, err := ParseWebhook([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedWebhook, body)
		}
	})
}
