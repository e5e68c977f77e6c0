// Package membercodes verifies society member codes and locks them exactly once when a
// discounted registration is paid.
package membercodes

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

// Store is the persistence the lock manager needs.
type Store interface {
	// Find returns the member whose name_key equals nameKey and whose code or legacy
	// code equals code. apperrors.ErrNotFound when none matches.
	Find(ctx context.Context, orgID, nameKey, code string) (*models.MemberCode, error)
	// Get returns one member by id.
	Get(ctx context.Context, orgID, memberID string) (*models.MemberCode, error)
	// Upsert writes the roster fields of a member and leaves the used flag alone.
	Upsert(ctx context.Context, m *models.MemberCode) error
	// MarkUsed sets used=true only while used=false. apperrors.ErrAlreadyUsed when the
	// row is already used, apperrors.ErrNotFound when it does not exist.
	MarkUsed(ctx context.Context, orgID, memberID, usedBy string, at time.Time) error
	// Reset clears the used flag and stamps reset_at/reset_by.
	Reset(ctx context.Context, orgID, memberID, adminID string, at time.Time) (*models.MemberCode, error)
}

// VerifyResult is returned to the registration form. Expired codes still verify; the
// caller decides how to price them.
type VerifyResult struct {
	MemberID   string     `json:"memberId"`
	Name       string     `json:"name"`
	Grade      string     `json:"grade"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	IsExpired  bool       `json:"isExpired"`
}

// Service implements verify, lock and reset.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the member-code lock manager.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Verify checks a (name, code) pair without consuming it.
func (s *Service) Verify(ctx context.Context, orgID, name, code string) (*VerifyResult, error) {
	code = strings.TrimSpace(code)
	if orgID == "" || strings.TrimSpace(name) == "" || code == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "orgId, name and code are required")
	}
	m, err := s.store.Find(ctx, orgID, models.NameKey(name), code)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "member code not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "verify member code", err)
	}
	if m.Used {
		return nil, apperrors.New(apperrors.CodeConflict, "member code already used")
	}
	return &VerifyResult{
		MemberID:   m.ID,
		Name:       m.Name,
		Grade:      m.Grade,
		ExpiryDate: m.ExpiryDate,
		IsExpired:  m.IsExpired(s.now()),
	}, nil
}

// Lock consumes the code for actorID. Concurrent callers race on a conditional update;
// exactly one wins and the others get apperrors.ErrAlreadyUsed.
func (s *Service) Lock(ctx context.Context, orgID, memberID, actorID string) error {
	if orgID == "" || memberID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "orgId and memberId are required")
	}
	err := s.store.MarkUsed(ctx, orgID, memberID, actorID, s.now())
	switch {
	case err == nil:
		s.logger.Info("member code locked",
			zap.String("org_id", orgID),
			zap.String("member_id", memberID),
			zap.String("used_by", actorID),
		)
		return nil
	case errors.Is(err, apperrors.ErrAlreadyUsed), errors.Is(err, apperrors.ErrNotFound):
		return err
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "lock member code", err)
	}
}

// Reset is the administrative path that makes a used code usable again.
func (s *Service) Reset(ctx context.Context, orgID, memberID, adminID string) (*models.MemberCode, error) {
	m, err := s.store.Reset(ctx, orgID, memberID, adminID, s.now())
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "member not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "reset member code", err)
	}
	s.logger.Info("member code reset",
		zap.String("org_id", orgID),
		zap.String("member_id", memberID),
		zap.String("admin_id", adminID),
	)
	return m, nil
}

// MemberInput is the roster entry an administrator writes for one member.
type MemberInput struct {
	Name       string     `json:"name" binding:"required"`
	Code       string     `json:"code" binding:"required"`
	LegacyCode *string    `json:"legacyCode"`
	Grade      string     `json:"grade"`
	ExpiryDate *time.Time `json:"expiryDate"`
}

// Upsert creates or updates a roster entry. The name key is derived here so lookups and
// writes always agree on the normalization.
func (s *Service) Upsert(ctx context.Context, orgID, memberID string, in MemberInput) (*models.MemberCode, error) {
	name := strings.TrimSpace(in.Name)
	code := strings.TrimSpace(in.Code)
	if orgID == "" || strings.TrimSpace(memberID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "orgId and memberId are required")
	}
	if name == "" || code == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "name and code are required")
	}
	if utf8.RuneCountInString(name) > 255 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "name must be at most 255 characters")
	}
	if in.LegacyCode != nil {
		legacy := strings.TrimSpace(*in.LegacyCode)
		if legacy == "" {
			in.LegacyCode = nil
		} else {
			in.LegacyCode = &legacy
		}
	}
	m := &models.MemberCode{
		OrgID:      orgID,
		ID:         strings.TrimSpace(memberID),
		Name:       name,
		NameKey:    models.NameKey(name),
		Code:       code,
		LegacyCode: in.LegacyCode,
		Grade:      strings.TrimSpace(in.Grade),
		ExpiryDate: in.ExpiryDate,
	}
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "upsert member", err)
	}
	s.logger.Info("member upserted", zap.String("org_id", orgID), zap.String("member_id", m.ID))
	return m, nil
}

// Get returns one roster entry.
func (s *Service) Get(ctx context.Context, orgID, memberID string) (*models.MemberCode, error) {
	m, err := s.store.Get(ctx, orgID, memberID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "member not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get member", err)
	}
	return m, nil
}
