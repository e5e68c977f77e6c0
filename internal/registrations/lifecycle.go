package registrations

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/gateway"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/metrics"
)

// Webhook outcomes, used for metrics and the acknowledgment body.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// HandleWebhook applies a gateway notification. Every branch is a guarded merge keyed by
// the stored state, so redelivery is harmless. Only store failures are returned.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev *gateway.WebhookEvent) (string, error) {
	outcome, err := r.handleWebhook(ctx, ev)
	if err != nil {
		outcome = "error"
	}
	metrics.WebhookEvents.WithLabelValues(ev.Status, outcome).Inc()
	return outcome, err
}

func (r *Reconciler) handleWebhook(ctx context.Context, ev *gateway.WebhookEvent) (string, error) {
	log := r.logger.With(zap.String("order_id", ev.OrderID), zap.String("status", ev.Status))

	reg, err := r.Store.GetByOrderID(ctx, ev.OrderID)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("webhook for unknown order acknowledged")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	log = log.With(zap.String("conference_id", reg.ConferenceID), zap.String("registration_id", reg.ID))

	switch ev.Status {
	case gateway.WebhookDone:
		updated, err := r.transition(ctx, reg, models.StatusPaid, models.StatusRefundRequested, models.StatusRefunded)
		if out, done := webhookRefusal(err); done {
			return out, nil
		}
		if err != nil {
			return "", err
		}
		r.appendLog(ctx, updated, models.LogActionDepositDone, ev.Raw)
		r.afterPaid(ctx, updated)
		r.archiveReceipt(ctx, updated)
		log.Info("deposit confirmed")
		return OutcomeApplied, nil

	case gateway.WebhookCanceled:
		to := models.StatusCanceled
		if reg.Status == models.StatusRefundRequested {
			to = models.StatusRefunded
		}
		updated, err := r.transition(ctx, reg, to, models.StatusCanceled, models.StatusRefunded)
		if out, done := webhookRefusal(err); done {
			return out, nil
		}
		if err != nil {
			return "", err
		}
		r.appendLog(ctx, updated, models.LogActionCanceled, map[string]any{
			"reason":  ev.CancelReason,
			"payload": ev.Raw,
		})
		r.notify(ctx, updated, models.TemplatePaymentCanceled, map[string]string{"reason": ev.CancelReason})
		log.Info("registration canceled by gateway", zap.String("to", string(updated.Status)))
		return OutcomeApplied, nil

	case gateway.WebhookPartialCanceled:
		// The attendee stays admitted; only the refund is recorded.
		updated, err := r.transition(ctx, reg, models.StatusRefundRequested, models.StatusRefunded)
		if out, done := webhookRefusal(err); done {
			return out, nil
		}
		if err != nil {
			return "", err
		}
		r.appendLog(ctx, updated, models.LogActionRefundRequested, map[string]any{
			"reason":  ev.CancelReason,
			"payload": ev.Raw,
		})
		log.Info("partial cancel recorded")
		return OutcomeApplied, nil

	case gateway.WebhookWaitingForDeposit:
		if len(ev.VirtualAccount) == 0 {
			return OutcomeIgnored, nil
		}
		ok, err := r.Store.UpdateVirtualAccount(ctx, reg.ConferenceID, reg.ID, ev.VirtualAccount)
		if err != nil {
			return "", err
		}
		if !ok {
			return OutcomeIgnored, nil
		}
		return OutcomeApplied, nil

	case gateway.WebhookExpired:
		updated, err := r.transition(ctx, reg, models.StatusExpired)
		if out, done := webhookRefusal(err); done {
			return out, nil
		}
		if err != nil {
			return "", err
		}
		r.appendLog(ctx, updated, models.LogActionExpired, ev.Raw)
		r.notify(ctx, updated, models.TemplateDepositExpired, nil)
		log.Info("deposit window expired")
		return OutcomeApplied, nil
	}

	log.Warn("webhook with unknown status acknowledged")
	return OutcomeIgnored, nil
}

// webhookRefusal turns a lost or refused guard into an acknowledgment outcome.
func webhookRefusal(err error) (string, bool) {
	switch {
	case errors.Is(err, apperrors.ErrStaleState):
		return OutcomeDuplicate, true
	case errors.Is(err, apperrors.ErrInvalidState):
		return OutcomeRejected, true
	}
	return "", false
}

// CancelRequest is an administrator's cancellation. Amount zero cancels the full payment.
type CancelRequest struct {
	Reason string `json:"reason"`
	Amount int64  `json:"amount"`
}

// Cancel cancels the payment with the gateway and records the outcome: a full cancel of a
// paid registration becomes REFUNDED, of an unpaid deposit CANCELED; a partial cancel
// becomes REFUND_REQUESTED.
func (r *Reconciler) Cancel(ctx context.Context, conferenceID, registrationID, adminID string, req CancelRequest) (*models.Registration, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "reason is required")
	}
	if req.Amount < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "amount must not be negative")
	}
	reg, err := r.load(ctx, conferenceID, registrationID)
	if err != nil {
		return nil, err
	}

	var raw []byte
	to := models.StatusCanceled
	switch reg.Status {
	case models.StatusPendingPayment:
	case models.StatusWaitingForDeposit, models.StatusPaid, models.StatusRefundRequested:
		res, err := r.cancelWithGateway(ctx, reg, req)
		if err != nil {
			return nil, err
		}
		raw = res.Raw
		switch {
		case reg.Status == models.StatusWaitingForDeposit:
		case res.Status == gateway.CancelStatusPartial:
			to = models.StatusRefundRequested
		default:
			to = models.StatusRefunded
		}
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "registration cannot be canceled in status "+string(reg.Status))
	}

	if to == reg.Status {
		r.appendLog(ctx, reg, models.LogActionRefundRequested, map[string]any{"reason": req.Reason, "amount": req.Amount, "by": adminID, "payload": raw})
		return reg, nil
	}
	updated, err := r.transition(ctx, reg, to)
	if errors.Is(err, apperrors.ErrStaleState) || errors.Is(err, apperrors.ErrInvalidState) {
		r.logger.Error("gateway canceled but registration changed concurrently",
			zap.String("registration_id", reg.ID),
			zap.String("current", string(updated.Status)),
			zap.String("target", string(to)),
		)
		return updated, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "update registration", err)
	}

	action := models.LogActionCanceled
	template := models.TemplatePaymentCanceled
	switch to {
	case models.StatusRefunded:
		action, template = models.LogActionRefunded, models.TemplateRefundProcessed
	case models.StatusRefundRequested:
		action = models.LogActionRefundRequested
	}
	r.appendLog(ctx, updated, action, map[string]any{"reason": req.Reason, "amount": req.Amount, "by": adminID, "payload": raw})
	r.notify(ctx, updated, template, map[string]string{"reason": req.Reason})
	r.logger.Info("registration canceled",
		zap.String("registration_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("admin_id", adminID),
	)
	return updated, nil
}

func (r *Reconciler) cancelWithGateway(ctx context.Context, reg *models.Registration, req CancelRequest) (*gateway.CancelResult, error) {
	if reg.PaymentKey == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "registration has no payment to cancel")
	}
	conf, err := r.Conferences.GetByID(ctx, reg.ConferenceID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load conference", err)
	}
	creds, err := r.resolveCredentials(ctx, conf.OrgID, ConfirmRequest{Provider: reg.Provider})
	if err != nil {
		return nil, err
	}
	if reg.Provider != "" {
		creds.Provider = reg.Provider
	}
	res, err := r.Gateway.Cancel(ctx, gateway.CancelRequest{
		Credentials:   creds,
		TransactionID: reg.PaymentKey,
		OrderID:       reg.OrderID,
		Reason:        req.Reason,
		Amount:        req.Amount,
	})
	if err != nil {
		msg := "payment cancel failed"
		if ge, ok := gateway.AsError(err); ok && ge.Message != "" {
			msg = ge.Message
		}
		return nil, apperrors.Wrap(apperrors.CodeGateway, msg, err)
	}
	return res, nil
}

// RequestRefund lets an attendee ask for a refund of a paid registration. The receipt
// number proves ownership.
func (r *Reconciler) RequestRefund(ctx context.Context, conferenceID, registrationID, receiptNumber string) (*models.Registration, error) {
	reg, err := r.load(ctx, conferenceID, registrationID)
	if err != nil {
		return nil, err
	}
	if receiptNumber == "" || reg.ReceiptNumber != receiptNumber {
		return nil, apperrors.New(apperrors.CodeNotFound, "registration not found")
	}
	if reg.Status == models.StatusRefundRequested {
		return reg, nil
	}
	if !CanTransition(reg.Status, models.StatusRefundRequested) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "refund cannot be requested in status "+string(reg.Status))
	}
	updated, err := r.transition(ctx, reg, models.StatusRefundRequested)
	if errors.Is(err, apperrors.ErrStaleState) {
		return updated, nil
	}
	if errors.Is(err, apperrors.ErrInvalidState) {
		return nil, apperrors.New(apperrors.CodeConflict, "registration changed, refund not requested")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "update registration", err)
	}
	r.appendLog(ctx, updated, models.LogActionRefundRequested, map[string]any{"by": "attendee"})
	return updated, nil
}

// CheckIn marks a paid attendee present with the badge printed, and consumes the
// registration's active badge-preparation token.
func (r *Reconciler) CheckIn(ctx context.Context, conferenceID, registrationID, badgeQR, adminID string) (*models.Registration, error) {
	if badgeQR == "" {
		badgeQR = conferenceID + ":" + registrationID
	}
	reg, err := r.Store.CheckIn(ctx, conferenceID, registrationID, badgeQR, adminID, r.now())
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, apperrors.New(apperrors.CodeNotFound, "registration not found")
	case errors.Is(err, apperrors.ErrInvalidState):
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "only paid registrations can check in")
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CodeInternal, "check in", err)
	}
	if err := r.Tokens.MarkRegistrationIssued(ctx, conferenceID, registrationID); err != nil {
		r.logger.Warn("badge token not marked issued", zap.String("registration_id", registrationID), zap.Error(err))
	}
	return reg, nil
}

// Delete removes a registration and everything hanging off it.
func (r *Reconciler) Delete(ctx context.Context, conferenceID, registrationID, adminID string) error {
	err := r.Store.Delete(ctx, conferenceID, registrationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.CodeNotFound, "registration not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "delete registration", err)
	}
	r.logger.Info("registration deleted",
		zap.String("conference_id", conferenceID),
		zap.String("registration_id", registrationID),
		zap.String("admin_id", adminID),
	)
	return nil
}

func (r *Reconciler) load(ctx context.Context, conferenceID, registrationID string) (*models.Registration, error) {
	reg, err := r.Store.GetByID(ctx, conferenceID, registrationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "registration not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load registration", err)
	}
	return reg, nil
}
