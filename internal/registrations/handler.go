package registrations

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/gateway"
	"github.com/aura-conference/backend/internal/middleware"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/response"
)

// Lister lists registrations for the admin console.
type Lister interface {
	ListByConference(ctx context.Context, conferenceID string, status models.RegistrationStatus) ([]*models.Registration, error)
}

// ReceiptStore serves archived gateway receipts.
type ReceiptStore interface {
	ReceiptDownloadURL(ctx context.Context, conferenceID, registrationID string) (string, error)
	DeleteReceipt(ctx context.Context, conferenceID, registrationID string) error
}

// Handler handles registration and payment HTTP endpoints.
type Handler struct {
	svc      *Reconciler
	list     Lister
	receipts ReceiptStore
	logger   *zap.Logger
}

// NewHandler creates a registrations handler. receipts may be nil when no bucket is configured.
func NewHandler(svc *Reconciler, list Lister, receipts ReceiptStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, list: list, receipts: receipts, logger: logger}
}

// Confirm handles POST /payments/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Confirm(c.Request.Context(), req)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, res)
}

// Webhook handles POST /webhooks/payments. Anything well-formed is acknowledged with 200;
// store failures answer 500 so the gateway redelivers.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("malformed webhook", zap.Int("size", len(body)))
		response.BadRequest(c, err.Error())
		return
	}
	outcome, err := h.svc.HandleWebhook(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("order_id", ev.OrderID),
			zap.String("status", ev.Status),
			zap.Error(err),
		)
		response.Internal(c, "webhook processing failed")
		return
	}
	response.OK(c, gin.H{"outcome": outcome})
}

// Cancel handles POST /admin/conferences/:confId/registrations/:regId/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.svc.Cancel(c.Request.Context(), c.Param("confId"), c.Param("regId"), middleware.AdminID(c), req)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, reg)
}

// RefundRequestBody is the body for an attendee refund request.
type RefundRequestBody struct {
	ReceiptNumber string `json:"receiptNumber" binding:"required"`
}

// RequestRefund handles POST /conferences/:confId/registrations/:regId/refund-request.
func (h *Handler) RequestRefund(c *gin.Context) {
	var req RefundRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.svc.RequestRefund(c.Request.Context(), c.Param("confId"), c.Param("regId"), req.ReceiptNumber)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, reg.ToPublic())
}

// CheckInBody is the optional body of a check-in.
type CheckInBody struct {
	BadgeQR string `json:"badgeQr"`
}

// CheckIn handles POST /admin/conferences/:confId/registrations/:regId/check-in.
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	reg, err := h.svc.CheckIn(c.Request.Context(), c.Param("confId"), c.Param("regId"), req.BadgeQR, middleware.AdminID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, reg)
}

// Delete handles DELETE /admin/conferences/:confId/registrations/:regId.
func (h *Handler) Delete(c *gin.Context) {
	confID, regID := c.Param("confId"), c.Param("regId")
	if err := h.svc.Delete(c.Request.Context(), confID, regID, middleware.AdminID(c)); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if h.receipts != nil {
		if err := h.receipts.DeleteReceipt(c.Request.Context(), confID, regID); err != nil {
			h.logger.Warn("archived receipt not deleted", zap.String("registration_id", regID), zap.Error(err))
		}
	}
	response.NoContent(c)
}

// List handles GET /admin/conferences/:confId/registrations?status=.
func (h *Handler) List(c *gin.Context) {
	status := models.RegistrationStatus(c.Query("status"))
	if status != "" && !status.Known() {
		response.BadRequest(c, "unknown status")
		return
	}
	regs, err := h.list.ListByConference(c.Request.Context(), c.Param("confId"), status)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if regs == nil {
		regs = []*models.Registration{}
	}
	response.OK(c, regs)
}

// Receipt handles GET /admin/conferences/:confId/registrations/:regId/receipt and returns a
// presigned download URL of the archived gateway payload.
func (h *Handler) Receipt(c *gin.Context) {
	if h.receipts == nil {
		response.NotFound(c, "receipt archive not configured")
		return
	}
	url, err := h.receipts.ReceiptDownloadURL(c.Request.Context(), c.Param("confId"), c.Param("regId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}
