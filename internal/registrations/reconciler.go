// Package registrations turns gateway approvals and webhooks into the authoritative
// registration state. Every status change is a conditional update; side effects run only
// in the call that won the update.
package registrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/gateway"
	"github.com/aura-conference/backend/internal/integrity"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/metrics"
)

// Store is the registration persistence the reconciler needs.
type Store interface {
	GetByID(ctx context.Context, conferenceID, registrationID string) (*models.Registration, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Registration, error)
	Replace(ctx context.Context, reg *models.Registration) (bool, error)
	Transition(ctx context.Context, conferenceID, registrationID string, from []models.RegistrationStatus, to models.RegistrationStatus, paidAt *time.Time) (*models.Registration, error)
	UpdateVirtualAccount(ctx context.Context, conferenceID, registrationID string, va json.RawMessage) (bool, error)
	ClaimMemberLock(ctx context.Context, conferenceID, registrationID string) (bool, error)
	UpsertParticipation(ctx context.Context, p models.ParticipationRecord) error
	AppendLog(ctx context.Context, l *models.RegistrationLog) error
	CheckIn(ctx context.Context, conferenceID, registrationID, badgeQR, recordedBy string, at time.Time) (*models.Registration, error)
	Delete(ctx context.Context, conferenceID, registrationID string) error
}

// ConferenceGetter loads a conference.
type ConferenceGetter interface {
	GetByID(ctx context.Context, conferenceID string) (*models.Conference, error)
}

// CredentialStore returns an organization's stored gateway keys.
type CredentialStore interface {
	GatewayCredentials(ctx context.Context, orgID string) (*models.StoredGatewayCredentials, error)
}

// MemberLocker consumes member codes.
type MemberLocker interface {
	Lock(ctx context.Context, orgID, memberID, actorID string) error
}

// TokenIssuer mints badge tokens.
type TokenIssuer interface {
	Reissue(ctx context.Context, conferenceID, registrationID string) (*models.BadgeToken, error)
	MarkRegistrationIssued(ctx context.Context, conferenceID, registrationID string) error
}

// AlertReporter files compensating integrity alerts.
type AlertReporter interface {
	Report(ctx context.Context, r integrity.Report) error
}

// ReceiptArchiver keeps a copy of the gateway's approval payload.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, conferenceID, registrationID string, payload []byte) error
}

// DefaultCredentials are the platform-level gateway keys from configuration.
type DefaultCredentials struct {
	Provider  string
	SecretKey string
	ClientKey string
}

// Deps wires the reconciler. Notifier and Receipts may be nil.
type Deps struct {
	Store       Store
	Conferences ConferenceGetter
	Credentials CredentialStore
	Gateway     gateway.Client
	Members     MemberLocker
	Tokens      TokenIssuer
	Alerts      AlertReporter
	Notifier    notifications.Dispatcher
	Receipts    ReceiptArchiver
	Defaults    DefaultCredentials
	// ReceiptLocation dates receipt numbers; defaults to UTC.
	ReceiptLocation *time.Location
	Logger          *zap.Logger
}

// Reconciler owns every registration state change.
type Reconciler struct {
	Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates the registration reconciler.
func NewReconciler(d Deps) *Reconciler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{Deps: d, logger: logger, now: time.Now}
}

// Attendee is the registrant's contact data.
type Attendee struct {
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Affiliation   string `json:"affiliation"`
	LicenseNumber string `json:"licenseNumber"`
}

// ConfirmRequest is the payment page's approval request.
type ConfirmRequest struct {
	PaymentKey         string                      `json:"paymentKey"`
	OrderID            string                      `json:"orderId"`
	Amount             *int64                      `json:"amount"`
	RegistrationID     string                      `json:"registrationId"`
	ConferenceID       string                      `json:"conferenceId"`
	Attendee           *Attendee                   `json:"attendee"`
	BaseAmount         int64                       `json:"baseAmount"`
	OptionsTotal       int64                       `json:"optionsTotal"`
	Options            []models.RegistrationOption `json:"options"`
	MemberVerification *models.MemberVerification  `json:"memberVerification"`
	Provider           string                      `json:"provider"`
	SecretKey          string                      `json:"secretKey"`
	ClientKey          string                      `json:"clientKey"`
}

// ConfirmResult is returned to the payment page. It never carries credentials.
type ConfirmResult struct {
	Success       bool                      `json:"success"`
	Status        models.RegistrationStatus `json:"status"`
	ReceiptNumber string                    `json:"receiptNumber"`
	GatewayResult json.RawMessage           `json:"gatewayResult"`
}

func (req *ConfirmRequest) validate() error {
	var missing []string
	if strings.TrimSpace(req.PaymentKey) == "" {
		missing = append(missing, "paymentKey")
	}
	if req.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(req.RegistrationID) == "" {
		missing = append(missing, "registrationId")
	}
	if strings.TrimSpace(req.ConferenceID) == "" {
		missing = append(missing, "conferenceId")
	}
	if req.Attendee == nil {
		missing = append(missing, "attendee")
	}
	if len(missing) > 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "missing required fields: "+strings.Join(missing, ", "))
	}
	if *req.Amount <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "amount must be positive")
	}
	return nil
}

// Confirm approves a payment with the gateway and writes the registration snapshot.
func (r *Reconciler) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if err := req.validate(); err != nil {
		metrics.ConfirmOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if req.OrderID == "" {
		req.OrderID = req.RegistrationID
	}

	conf, err := r.Conferences.GetByID(ctx, req.ConferenceID)
	if errors.Is(err, apperrors.ErrNotFound) {
		metrics.ConfirmOutcomes.WithLabelValues("invalid").Inc()
		return nil, apperrors.New(apperrors.CodeNotFound, "conference not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load conference", err)
	}
	creds, err := r.resolveCredentials(ctx, conf.OrgID, req)
	if err != nil {
		metrics.ConfirmOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}

	approval, err := r.Gateway.Approve(ctx, gateway.ApproveRequest{
		Credentials:   creds,
		TransactionID: req.PaymentKey,
		OrderID:       req.OrderID,
		Amount:        *req.Amount,
	})
	if err != nil {
		metrics.ConfirmOutcomes.WithLabelValues("gateway_error").Inc()
		msg := "payment approval failed"
		if ge, ok := gateway.AsError(err); ok && ge.Message != "" {
			msg = ge.Message
		}
		return nil, apperrors.Wrap(apperrors.CodeGateway, msg, err)
	}

	now := r.now()
	receipt, err := NewReceiptNumber(now, r.ReceiptLocation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "receipt number", err)
	}
	reg := &models.Registration{
		ConferenceID:       req.ConferenceID,
		ID:                 req.RegistrationID,
		OrderID:            req.OrderID,
		PaymentKey:         req.PaymentKey,
		Provider:           creds.Provider,
		Amount:             *req.Amount,
		BaseAmount:         req.BaseAmount,
		OptionsTotal:       req.OptionsTotal,
		Options:            req.Options,
		ReceiptNumber:      receipt,
		Name:               strings.TrimSpace(req.Attendee.Name),
		Email:              strings.TrimSpace(req.Attendee.Email),
		Phone:              notifications.NormalizePhone(req.Attendee.Phone),
		Affiliation:        req.Attendee.Affiliation,
		LicenseNumber:      req.Attendee.LicenseNumber,
		MemberVerification: req.MemberVerification,
		GatewayResult:      approval.Raw,
		ConfirmationQR:     req.ConferenceID + ":" + req.RegistrationID,
	}
	if uid := strings.TrimSpace(req.Attendee.UserID); uid != "" {
		reg.UserID = &uid
	}
	switch approval.SettlementStatus {
	case gateway.SettlementImmediate:
		reg.Status, reg.PaymentStatus, reg.PaidAt = models.StatusPaid, models.StatusPaid, &now
	case gateway.SettlementDeferred:
		reg.Status, reg.PaymentStatus = models.StatusWaitingForDeposit, models.StatusWaitingForDeposit
		reg.VirtualAccount = approval.VirtualAccount
	default:
		return nil, apperrors.New(apperrors.CodeGateway, "unknown settlement status "+string(approval.SettlementStatus))
	}

	replaced, err := r.Store.Replace(ctx, reg)
	if errors.Is(err, apperrors.ErrConflict) {
		return nil, apperrors.Wrap(apperrors.CodeConflict, "order id belongs to another registration", err)
	}
	if err != nil {
		r.logger.Error("payment approved but registration write failed",
			zap.String("conference_id", reg.ConferenceID),
			zap.String("registration_id", reg.ID),
			zap.String("order_id", reg.OrderID),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "store registration", err)
	}
	if !replaced {
		current, getErr := r.Store.GetByID(ctx, reg.ConferenceID, reg.ID)
		if getErr != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "load registration", getErr)
		}
		metrics.ConfirmOutcomes.WithLabelValues("skipped").Inc()
		r.logger.Info("confirm skipped, registration already settled",
			zap.String("registration_id", reg.ID),
			zap.String("status", string(current.Status)),
		)
		return &ConfirmResult{Success: true, Status: current.Status, ReceiptNumber: current.ReceiptNumber, GatewayResult: current.GatewayResult}, nil
	}

	r.appendLog(ctx, reg, models.LogActionConfirmed, map[string]any{"status": reg.Status, "amount": reg.Amount})
	if reg.Status == models.StatusPaid {
		metrics.ConfirmOutcomes.WithLabelValues("paid").Inc()
		r.afterPaid(ctx, reg)
		r.archiveReceipt(ctx, reg)
	} else {
		metrics.ConfirmOutcomes.WithLabelValues("deferred").Inc()
	}
	r.logger.Info("payment confirmed",
		zap.String("conference_id", reg.ConferenceID),
		zap.String("registration_id", reg.ID),
		zap.String("status", string(reg.Status)),
	)
	return &ConfirmResult{Success: true, Status: reg.Status, ReceiptNumber: reg.ReceiptNumber, GatewayResult: approval.Raw}, nil
}

// resolveCredentials prefers the organization's stored keys, then the platform default,
// and only then keys sent by the client.
func (r *Reconciler) resolveCredentials(ctx context.Context, orgID string, req ConfirmRequest) (gateway.Credentials, error) {
	stored, err := r.Credentials.GatewayCredentials(ctx, orgID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return gateway.Credentials{}, apperrors.Wrap(apperrors.CodeInternal, "load gateway credentials", err)
	}
	var creds gateway.Credentials
	switch {
	case stored.HasSecret():
		creds = gateway.Credentials{Provider: stored.Provider, SecretKey: stored.SecretKey, ClientKey: stored.ClientKey}
	case r.Defaults.SecretKey != "":
		creds = gateway.Credentials{Provider: r.Defaults.Provider, SecretKey: r.Defaults.SecretKey, ClientKey: r.Defaults.ClientKey}
	case req.SecretKey != "":
		creds = gateway.Credentials{Provider: req.Provider, SecretKey: req.SecretKey, ClientKey: req.ClientKey}
	default:
		return gateway.Credentials{}, apperrors.New(apperrors.CodeInvalidArgument, "no gateway credentials configured")
	}
	if creds.Provider == "" {
		creds.Provider = r.Defaults.Provider
	}
	return creds, nil
}

// afterPaid runs the once-per-payment side effects. Failures are logged and reported,
// never returned: the payment stands.
func (r *Reconciler) afterPaid(ctx context.Context, reg *models.Registration) {
	r.lockMemberCode(ctx, reg)

	if !reg.IsGuest() {
		paidAt := r.now()
		if reg.PaidAt != nil {
			paidAt = *reg.PaidAt
		}
		if err := r.Store.UpsertParticipation(ctx, models.ParticipationRecord{
			UserID: *reg.UserID, ConferenceID: reg.ConferenceID, RegistrationID: reg.ID, Amount: reg.Amount, PaidAt: paidAt,
		}); err != nil {
			r.logger.Warn("participation history write failed", zap.String("registration_id", reg.ID), zap.Error(err))
		}
	}

	if _, err := r.Tokens.Reissue(ctx, reg.ConferenceID, reg.ID); err != nil {
		r.logger.Warn("badge token issue failed",
			zap.String("conference_id", reg.ConferenceID),
			zap.String("registration_id", reg.ID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) lockMemberCode(ctx context.Context, reg *models.Registration) {
	mv := reg.MemberVerification
	if mv == nil || mv.OrgID == "" || mv.MemberID == "" {
		return
	}
	claimed, err := r.Store.ClaimMemberLock(ctx, reg.ConferenceID, reg.ID)
	if err != nil {
		r.logger.Warn("claim member lock failed", zap.String("registration_id", reg.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	err = r.Members.Lock(ctx, mv.OrgID, mv.MemberID, reg.ID)
	if err == nil {
		return
	}
	metrics.MemberLockFailures.Inc()
	r.logger.Warn("member code lock failed after payment",
		zap.String("registration_id", reg.ID),
		zap.String("org_id", mv.OrgID),
		zap.String("member_id", mv.MemberID),
		zap.Error(err),
	)
	r.report(ctx, integrity.Report{
		Rule:        integrity.RuleMemberCodeLockFailed,
		Severity:    models.SeverityHigh,
		Collection:  models.CollectionSocietyMembers,
		DocumentID:  mv.OrgID + "/" + mv.MemberID,
		Description: fmt.Sprintf("registration %s/%s paid but member code lock failed: %v", reg.ConferenceID, reg.ID, err),
		DedupeKey:   "member-lock:" + reg.ConferenceID + "/" + reg.ID,
	})
}

func (r *Reconciler) archiveReceipt(ctx context.Context, reg *models.Registration) {
	if r.Receipts == nil || len(reg.GatewayResult) == 0 {
		return
	}
	if err := r.Receipts.ArchiveReceipt(ctx, reg.ConferenceID, reg.ID, reg.GatewayResult); err != nil {
		r.logger.Warn("receipt archive failed", zap.String("registration_id", reg.ID), zap.Error(err))
	}
}

func (r *Reconciler) report(ctx context.Context, rep integrity.Report) {
	if r.Alerts == nil {
		return
	}
	if err := r.Alerts.Report(ctx, rep); err != nil {
		r.logger.Error("integrity report failed", zap.String("rule", rep.Rule), zap.Error(err))
	}
}

func (r *Reconciler) appendLog(ctx context.Context, reg *models.Registration, action string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	if err := r.Store.AppendLog(ctx, &models.RegistrationLog{
		ConferenceID: reg.ConferenceID, RegistrationID: reg.ID, Action: action, Payload: raw,
	}); err != nil {
		r.logger.Warn("registration log write failed",
			zap.String("registration_id", reg.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) notify(ctx context.Context, reg *models.Registration, template string, vars map[string]string) {
	if r.Notifier == nil || reg.Phone == "" {
		return
	}
	if vars == nil {
		vars = map[string]string{}
	}
	vars["name"] = reg.Name
	if _, err := r.Notifier.Send(ctx, notifications.Message{Recipient: reg.Phone, TemplateID: template, Variables: vars}); err != nil {
		r.logger.Warn("notification failed", zap.String("registration_id", reg.ID), zap.String("template_id", template), zap.Error(err))
	}
}

// transition applies a guarded status change. Losing the guard to a document that is
// already in `to` or in one of the benign states returns apperrors.ErrStaleState; any other
// refusal is reported as an alert and returned as apperrors.ErrInvalidState. The current
// document is returned in both cases.
func (r *Reconciler) transition(ctx context.Context, reg *models.Registration, to models.RegistrationStatus, benign ...models.RegistrationStatus) (*models.Registration, error) {
	var paidAt *time.Time
	if to == models.StatusPaid {
		now := r.now()
		paidAt = &now
	}
	updated, err := r.Store.Transition(ctx, reg.ConferenceID, reg.ID, sourcesOf(to), to, paidAt)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, apperrors.ErrStaleState) {
		return nil, err
	}
	if updated.Status == to || slices.Contains(benign, updated.Status) {
		return updated, apperrors.ErrStaleState
	}
	r.report(ctx, integrity.Report{
		Rule:        integrity.RuleInvalidTransition,
		Severity:    models.SeverityHigh,
		Collection:  models.CollectionRegistrations,
		DocumentID:  reg.ConferenceID + "/" + reg.ID,
		Description: fmt.Sprintf("refused transition %s -> %s", updated.Status, to),
		DedupeKey:   fmt.Sprintf("transition:%s/%s:%s:%s:%d", reg.ConferenceID, reg.ID, updated.Status, to, updated.Version),
	})
	return updated, apperrors.ErrInvalidState
}
