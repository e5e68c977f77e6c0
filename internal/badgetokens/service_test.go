package badgetokens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/response"
)

// memStore keeps the one-ACTIVE-per-registration rule of the partial unique index.
type memStore struct {
	mu     sync.Mutex
	tokens map[string]*models.BadgeToken
}

func newMemStore() *memStore { return &memStore{tokens: map[string]*models.BadgeToken{}} }

func (s *memStore) Get(_ context.Context, token string) (*models.BadgeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) Active(_ context.Context, conferenceID, registrationID string) (*models.BadgeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.ConferenceID == conferenceID && t.RegistrationID == registrationID && t.Status == models.TokenActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *memStore) Rotate(_ context.Context, t *models.BadgeToken) (*models.BadgeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.tokens {
		if old.ConferenceID == t.ConferenceID && old.RegistrationID == t.RegistrationID && old.Status == models.TokenActive {
			old.Status = models.TokenExpired
		}
	}
	cp := *t
	s.tokens[t.Token] = &cp
	return t, nil
}

func (s *memStore) Expire(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok && t.Status == models.TokenActive {
		t.Status = models.TokenExpired
	}
	return nil
}

func (s *memStore) MarkIssued(_ context.Context, conferenceID, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.ConferenceID != conferenceID {
		return apperrors.ErrNotFound
	}
	if t.Status != models.TokenActive {
		return apperrors.ErrInvalidState
	}
	t.Status, t.IssuedAt = models.TokenIssued, &at
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *memStore) activeCount(conferenceID, registrationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.ConferenceID == conferenceID && t.RegistrationID == registrationID && t.Status == models.TokenActive {
			n++
		}
	}
	return n
}

type regGetter map[string]*models.Registration

func (g regGetter) GetByID(_ context.Context, conferenceID, registrationID string) (*models.Registration, error) {
	r, ok := g[conferenceID+"/"+registrationID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return r, nil
}

type confGetter map[string]*models.Conference

func (g confGetter) GetByID(_ context.Context, id string) (*models.Conference, error) {
	c, ok := g[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	msgs []notifications.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notifications.Message) (*notifications.SendResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	if n.err != nil {
		return nil, n.err
	}
	return &notifications.SendResult{Success: true, MessageID: "m"}, nil
}

type BadgeTokenSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *memStore
	notifier *recordingNotifier
	svc      *Service
}

func TestBadgeTokenSuite(t *testing.T) {
	suite.Run(t, new(BadgeTokenSuite))
}

func (s *BadgeTokenSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := s.now.AddDate(0, 0, 10)
	past := s.now.AddDate(0, -2, 0)
	uid := "user-1"
	s.store = newMemStore()
	s.notifier = &recordingNotifier{}
	regs := regGetter{
		"conf-1/reg-1": {ConferenceID: "conf-1", ID: "reg-1", Name: "Kim", Phone: "01011112222", Email: "kim@example.com",
			PaymentKey: "pk_secret", Status: models.StatusPaid, UserID: &uid},
		"conf-old/reg-9":       {ConferenceID: "conf-old", ID: "reg-9", Name: "Lee", Phone: "01033334444"},
		"conf-1/reg-canceled":  {ConferenceID: "conf-1", ID: "reg-canceled", Name: "Park", Status: models.StatusCanceled},
		"conf-1/reg-refunded":  {ConferenceID: "conf-1", ID: "reg-refunded", Name: "Choi", Status: models.StatusRefunded},
		"conf-1/reg-partial":   {ConferenceID: "conf-1", ID: "reg-partial", Name: "Jung", Status: models.StatusRefundRequested},
		"conf-1/reg-unsettled": {ConferenceID: "conf-1", ID: "reg-unsettled", Name: "Han", Status: models.StatusWaitingForDeposit},
	}
	confs := confGetter{
		"conf-1":   {ID: "conf-1", Title: "Spring Congress", EndDate: &end, BadgeBaseURL: "https://badge.example/prep"},
		"conf-old": {ID: "conf-old", Title: "Old", EndDate: &past},
	}
	s.svc = NewService(s.store, regs, confs, s.notifier, Config{DefaultBaseURL: "https://default.example/badge", FallbackTTL: 7 * 24 * time.Hour}, nil)
	s.svc.now = func() time.Time { return s.now }
}

// ============================================================================
// Issue
// ============================================================================

func (s *BadgeTokenSuite) TestIssue() {
	s.Run("expires the day after the conference ends", func() {
		t, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		s.True(ValidFormat(t.Token))
		s.Equal(models.TokenActive, t.Status)
		s.Equal(s.now.AddDate(0, 0, 11), t.ExpiresAt)
	})

	s.Run("past conference falls back to a future expiry", func() {
		t, err := s.svc.Issue(s.ctx, "conf-old", "reg-9")
		s.Require().NoError(err)
		s.True(t.ExpiresAt.After(s.now))
		s.Equal(s.now.Add(7*24*time.Hour), t.ExpiresAt)
	})

	s.Run("unknown conference falls back too", func() {
		t, err := s.svc.Issue(s.ctx, "conf-missing", "reg-x")
		s.Require().NoError(err)
		s.Equal(s.now.Add(7*24*time.Hour), t.ExpiresAt)
	})

	s.Run("reissue leaves exactly one active token", func() {
		first, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		second, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		s.NotEqual(first.Token, second.Token)
		s.Equal(1, s.store.activeCount("conf-1", "reg-1"))
		old, _ := s.store.Get(s.ctx, first.Token)
		s.Equal(models.TokenExpired, old.Status)
	})
}

func (s *BadgeTokenSuite) TestConcurrentIssueKeepsOneActive() {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(1, s.store.activeCount("conf-1", "reg-1"))
}

// ============================================================================
// Validate
// ============================================================================

func (s *BadgeTokenSuite) TestValidate() {
	s.Run("active token returns sanitized registration", func() {
		t, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		res, err := s.svc.Validate(s.ctx, "conf-1", t.Token)
		s.Require().NoError(err)
		s.True(res.Valid)
		s.Equal(models.TokenActive, res.TokenStatus)
		s.Require().NotNil(res.Registration)
		s.Equal("Kim", res.Registration.Name)

		raw, _ := json.Marshal(res)
		s.NotContains(string(raw), "pk_secret")
		s.NotContains(string(raw), "kim@example.com")
	})

	s.Run("unknown token", func() {
		_, err := s.svc.Validate(s.ctx, "conf-1", "TKN-aaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		s.True(apperrors.Is(err, apperrors.CodeNotFound))
		s.Equal(ReasonTokenNotFound, apperrors.MessageOf(err))
	})

	s.Run("token of another conference is not found", func() {
		t, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		_, err = s.svc.Validate(s.ctx, "conf-old", t.Token)
		s.True(apperrors.Is(err, apperrors.CodeNotFound))
	})
}

func (s *BadgeTokenSuite) TestValidateSelfHeals() {
	s.Run("past expiry yields a fresh active token", func() {
		old, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		s.now = old.ExpiresAt.Add(time.Minute)

		res, err := s.svc.Validate(s.ctx, "conf-1", old.Token)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.True(res.RedirectRequired)
		s.Equal(models.TokenExpired, res.TokenStatus)
		s.NotEqual(old.Token, res.NewToken)

		fresh, err := s.store.Get(s.ctx, res.NewToken)
		s.Require().NoError(err)
		s.Equal(models.TokenActive, fresh.Status)
		s.True(fresh.ExpiresAt.After(s.now))
		s.Equal(1, s.store.activeCount("conf-1", "reg-1"))

		stale, _ := s.store.Get(s.ctx, old.Token)
		s.Equal(models.TokenExpired, stale.Status)
	})

	s.Run("already replaced token points at the live one", func() {
		first, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)
		second, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
		s.Require().NoError(err)

		res, err := s.svc.Validate(s.ctx, "conf-1", first.Token)
		s.Require().NoError(err)
		s.True(res.RedirectRequired)
		s.Equal(second.Token, res.NewToken)
	})
}

func (s *BadgeTokenSuite) TestValidateRequiresAdmittedRegistration() {
	for _, regID := range []string{"reg-canceled", "reg-refunded", "reg-unsettled"} {
		s.Run(regID, func() {
			t, err := s.svc.Issue(s.ctx, "conf-1", regID)
			s.Require().NoError(err)

			res, err := s.svc.Validate(s.ctx, "conf-1", t.Token)
			s.Require().NoError(err)
			s.False(res.Valid)
			s.Equal(ReasonRegistrationNotPaid, res.Reason)
			s.Equal(models.TokenActive, res.TokenStatus)
			s.Nil(res.Registration)
		})
	}

	s.Run("expired token of a refunded registration is not replaced", func() {
		t, err := s.svc.Issue(s.ctx, "conf-1", "reg-refunded")
		s.Require().NoError(err)
		minted := s.store.count()
		s.now = t.ExpiresAt.Add(time.Minute)
		defer func() { s.now = t.CreatedAt }()

		res, err := s.svc.Validate(s.ctx, "conf-1", t.Token)
		s.Require().NoError(err)
		s.False(res.Valid)
		s.False(res.RedirectRequired)
		s.Empty(res.NewToken)
		s.Equal(models.TokenExpired, res.TokenStatus)
		s.Equal(minted, s.store.count())
	})

	s.Run("pending refund keeps the badge valid", func() {
		t, err := s.svc.Issue(s.ctx, "conf-1", "reg-partial")
		s.Require().NoError(err)
		res, err := s.svc.Validate(s.ctx, "conf-1", t.Token)
		s.Require().NoError(err)
		s.True(res.Valid)
		s.Require().NotNil(res.Registration)
		s.Equal(models.StatusRefundRequested, res.Registration.Status)
	})
}

func (s *BadgeTokenSuite) TestValidateResultFieldNames() {
	old, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
	s.Require().NoError(err)
	s.now = old.ExpiresAt.Add(time.Minute)

	res, err := s.svc.Validate(s.ctx, "conf-1", old.Token)
	s.Require().NoError(err)
	raw, err := json.Marshal(res)
	s.Require().NoError(err)
	s.JSONEq(`{"valid":false,"tokenStatus":"EXPIRED","newToken":"`+res.NewToken+`","redirectRequired":true}`, string(raw))
}

// ============================================================================
// Reissue / MarkIssued
// ============================================================================

func (s *BadgeTokenSuite) TestReissueNotifies() {
	t, err := s.svc.Reissue(s.ctx, "conf-1", "reg-1")
	s.Require().NoError(err)
	s.Require().Len(s.notifier.msgs, 1)
	msg := s.notifier.msgs[0]
	s.Equal(models.TemplateBadgePrepLink, msg.TemplateID)
	s.Equal("01011112222", msg.Recipient)
	s.Equal("https://badge.example/prep?token="+t.Token, msg.Variables["link"])
}

func (s *BadgeTokenSuite) TestReissueSurvivesNotificationFailure() {
	s.notifier.err = errors.New("queue down")
	t, err := s.svc.Reissue(s.ctx, "conf-1", "reg-1")
	s.Require().NoError(err)
	s.Equal(models.TokenActive, t.Status)
}

func (s *BadgeTokenSuite) TestReissueUnknownRegistration() {
	_, err := s.svc.Reissue(s.ctx, "conf-1", "nope")
	s.True(apperrors.Is(err, apperrors.CodeNotFound))
	s.Empty(s.notifier.msgs)
}

func (s *BadgeTokenSuite) TestReissueRefusesCanceledRegistration() {
	_, err := s.svc.Reissue(s.ctx, "conf-1", "reg-canceled")
	s.True(apperrors.Is(err, apperrors.CodeInvalidArgument))
	s.Zero(s.store.count())
	s.Empty(s.notifier.msgs)
}

func (s *BadgeTokenSuite) TestMarkIssued() {
	t, err := s.svc.Issue(s.ctx, "conf-1", "reg-1")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.MarkIssued(s.ctx, "conf-1", t.Token))

	err = s.svc.MarkIssued(s.ctx, "conf-1", t.Token)
	s.True(apperrors.Is(err, apperrors.CodeConflict))

	s.NoError(s.svc.MarkRegistrationIssued(s.ctx, "conf-1", "reg-1"))
}

func TestNewTokenFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, TokenLength)
		assert.True(t, ValidFormat(tok), tok)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
	assert.False(t, ValidFormat("TKN-short"))
	assert.False(t, ValidFormat("XYZ-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
}

func TestPrepLink(t *testing.T) {
	assert.Equal(t, "https://a.example/p?token=TKN-1", PrepLink("https://a.example/p", "TKN-1"))
	assert.Equal(t, "https://a.example/p?c=1&token=TKN-1", PrepLink("https://a.example/p?c=1", "TKN-1"))
}

func TestValidateHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(newMemStore(), regGetter{}, confGetter{}, nil, Config{}, nil)
	r := gin.New()
	r.POST("/badge/validate", NewHandler(svc, nil).Validate)

	t.Run("unknown token is 404", func(t *testing.T) {
		body := bytes.NewBufferString(`{"conferenceId":"c","token":"TKN-aaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/badge/validate", body))
		assert.Equal(t, http.StatusNotFound, w.Code)
		var resp response.Body
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ReasonTokenNotFound, resp.Error)
	})

	t.Run("missing token is 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/badge/validate", bytes.NewBufferString(`{"conferenceId":"c"}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
