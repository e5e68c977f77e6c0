// Package badgetokens issues the time-boxed tokens that gate the badge-preparation page.
// A registration has at most one ACTIVE token; expired tokens heal themselves by handing
// out a replacement on validation.
package badgetokens

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/metrics"
)

// Caller-facing reasons.
const (
	ReasonTokenNotFound       = "TOKEN_NOT_FOUND"
	ReasonRegistrationNotPaid = "REGISTRATION_NOT_PAID"
)

// Store persists badge tokens.
type Store interface {
	Get(ctx context.Context, token string) (*models.BadgeToken, error)
	// Active returns the ACTIVE token of a registration or apperrors.ErrNotFound.
	Active(ctx context.Context, conferenceID, registrationID string) (*models.BadgeToken, error)
	// Rotate expires every ACTIVE token of the registration and inserts t. When a
	// concurrent rotation wins, the winner's ACTIVE token is returned instead.
	Rotate(ctx context.Context, t *models.BadgeToken) (*models.BadgeToken, error)
	// Expire moves an ACTIVE token to EXPIRED. Other states are left alone.
	Expire(ctx context.Context, token string) error
	// MarkIssued moves an ACTIVE token to ISSUED; apperrors.ErrInvalidState otherwise.
	MarkIssued(ctx context.Context, conferenceID, token string, at time.Time) error
}

// RegistrationGetter loads a registration.
type RegistrationGetter interface {
	GetByID(ctx context.Context, conferenceID, registrationID string) (*models.Registration, error)
}

// ConferenceGetter loads a conference.
type ConferenceGetter interface {
	GetByID(ctx context.Context, conferenceID string) (*models.Conference, error)
}

// Config holds token settings.
type Config struct {
	DefaultBaseURL string
	FallbackTTL    time.Duration
}

// ValidateResult is the answer to a badge-page token check.
type ValidateResult struct {
	Valid            bool                       `json:"valid"`
	TokenStatus      models.BadgeTokenStatus    `json:"tokenStatus,omitempty"`
	NewToken         string                     `json:"newToken,omitempty"`
	RedirectRequired bool                       `json:"redirectRequired,omitempty"`
	Reason           string                     `json:"reason,omitempty"`
	Registration     *models.RegistrationPublic `json:"registration,omitempty"`
}

// Service implements issue, validate, reissue and mark-issued.
type Service struct {
	store         Store
	registrations RegistrationGetter
	conferences   ConferenceGetter
	notifier      notifications.Dispatcher
	cfg           Config
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates the badge token manager.
func NewService(store Store, regs RegistrationGetter, confs ConferenceGetter, notifier notifications.Dispatcher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = 7 * 24 * time.Hour
	}
	return &Service{store: store, registrations: regs, conferences: confs, notifier: notifier, cfg: cfg, logger: logger, now: time.Now}
}

// Issue expires the registration's ACTIVE tokens and mints a new one.
func (s *Service) Issue(ctx context.Context, conferenceID, registrationID string) (*models.BadgeToken, error) {
	return s.mint(ctx, conferenceID, registrationID, "issue")
}

func (s *Service) mint(ctx context.Context, conferenceID, registrationID, reason string) (*models.BadgeToken, error) {
	if conferenceID == "" || registrationID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "conferenceId and registrationId are required")
	}
	conf, err := s.conferences.GetByID(ctx, conferenceID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load conference", err)
	}
	tok, err := NewToken()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "generate token", err)
	}
	now := s.now()
	stored, err := s.store.Rotate(ctx, &models.BadgeToken{
		Token:          tok,
		ConferenceID:   conferenceID,
		RegistrationID: registrationID,
		Status:         models.TokenActive,
		CreatedAt:      now,
		ExpiresAt:      ExpiresAt(conf, now, s.cfg.FallbackTTL),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "store badge token", err)
	}
	if stored.Token == tok {
		metrics.BadgeTokensMinted.WithLabelValues(reason).Inc()
	}
	return stored, nil
}

// Validate checks a token presented by the badge-preparation page.
func (s *Service) Validate(ctx context.Context, conferenceID, token string) (*ValidateResult, error) {
	if conferenceID == "" || token == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "conferenceId and token are required")
	}
	if !ValidFormat(token) {
		return nil, apperrors.New(apperrors.CodeNotFound, ReasonTokenNotFound)
	}
	t, err := s.store.Get(ctx, token)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && t.ConferenceID != conferenceID) {
		return nil, apperrors.New(apperrors.CodeNotFound, ReasonTokenNotFound)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load badge token", err)
	}

	reg, err := s.registration(ctx, t.ConferenceID, t.RegistrationID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !admitted(reg.Status) {
		status := t.Status
		if t.IsExpiredAt(now) {
			status = models.TokenExpired
		}
		return &ValidateResult{Valid: false, TokenStatus: status, Reason: ReasonRegistrationNotPaid}, nil
	}
	if t.Status == models.TokenExpired || t.IsExpiredAt(now) {
		return s.heal(ctx, t, now)
	}
	pub := reg.ToPublic()
	return &ValidateResult{Valid: true, TokenStatus: t.Status, Registration: &pub}, nil
}

func (s *Service) registration(ctx context.Context, conferenceID, registrationID string) (*models.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, conferenceID, registrationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "registration not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load registration", err)
	}
	return reg, nil
}

// admitted registrations may enter the venue. A pending refund keeps the seat until the
// refund completes.
func admitted(status models.RegistrationStatus) bool {
	return status == models.StatusPaid || status == models.StatusRefundRequested
}

// heal retires an expired token and points the caller at the registration's live token,
// minting one when none is usable.
func (s *Service) heal(ctx context.Context, t *models.BadgeToken, now time.Time) (*ValidateResult, error) {
	if t.Status == models.TokenActive {
		if err := s.store.Expire(ctx, t.Token); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "expire badge token", err)
		}
	}
	replacement, err := s.store.Active(ctx, t.ConferenceID, t.RegistrationID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load active token", err)
	}
	if replacement == nil || replacement.IsExpiredAt(now) {
		replacement, err = s.mint(ctx, t.ConferenceID, t.RegistrationID, "self_heal")
		if err != nil {
			return nil, err
		}
	}
	s.logger.Info("expired badge token replaced",
		zap.String("conference_id", t.ConferenceID),
		zap.String("registration_id", t.RegistrationID),
	)
	return &ValidateResult{
		Valid:            false,
		TokenStatus:      models.TokenExpired,
		NewToken:         replacement.Token,
		RedirectRequired: true,
	}, nil
}

// Reissue mints a fresh token and sends the badge-preparation link to the attendee.
// Notification failures are logged and do not fail the call.
func (s *Service) Reissue(ctx context.Context, conferenceID, registrationID string) (*models.BadgeToken, error) {
	reg, err := s.registration(ctx, conferenceID, registrationID)
	if err != nil {
		return nil, err
	}
	if !admitted(reg.Status) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, ReasonRegistrationNotPaid)
	}
	tok, err := s.mint(ctx, conferenceID, registrationID, "reissue")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, reg, tok)
	return tok, nil
}

func (s *Service) notify(ctx context.Context, reg *models.Registration, tok *models.BadgeToken) {
	if s.notifier == nil {
		return
	}
	base, title := s.cfg.DefaultBaseURL, ""
	if conf, err := s.conferences.GetByID(ctx, reg.ConferenceID); err == nil {
		title = conf.Title
		if conf.BadgeBaseURL != "" {
			base = conf.BadgeBaseURL
		}
	}
	link := PrepLink(base, tok.Token)
	_, err := s.notifier.Send(ctx, notifications.Message{
		Recipient:  reg.Phone,
		TemplateID: models.TemplateBadgePrepLink,
		Variables: map[string]string{
			"name":       reg.Name,
			"conference": title,
			"link":       link,
			"expires_at": tok.ExpiresAt.Format("2006-01-02"),
		},
		Buttons: []notifications.Button{{Name: "Badge", URL: link}},
	})
	if err != nil {
		s.logger.Warn("badge link notification failed",
			zap.String("conference_id", reg.ConferenceID),
			zap.String("registration_id", reg.ID),
			zap.Error(err),
		)
	}
}

// MarkIssued records that the printed badge was handed out. Only ACTIVE tokens move.
func (s *Service) MarkIssued(ctx context.Context, conferenceID, token string) error {
	err := s.store.MarkIssued(ctx, conferenceID, token, s.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		return apperrors.New(apperrors.CodeNotFound, ReasonTokenNotFound)
	case errors.Is(err, apperrors.ErrInvalidState):
		return apperrors.New(apperrors.CodeConflict, "token is not active")
	}
	return apperrors.Wrap(apperrors.CodeInternal, "mark token issued", err)
}

// MarkRegistrationIssued marks the registration's ACTIVE token ISSUED, if it has one.
func (s *Service) MarkRegistrationIssued(ctx context.Context, conferenceID, registrationID string) error {
	t, err := s.store.Active(ctx, conferenceID, registrationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "load active token", err)
	}
	return s.MarkIssued(ctx, conferenceID, t.Token)
}
