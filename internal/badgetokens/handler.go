package badgetokens

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/pkg/response"
)

// ValidateRequest is the body for POST /badge/validate.
type ValidateRequest struct {
	ConferenceID string `json:"conferenceId" binding:"required"`
	Token        string `json:"token" binding:"required"`
}

// Handler serves badge token endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a badge token handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Validate handles POST /badge/validate.
func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Validate(c.Request.Context(), req.ConferenceID, req.Token)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, res)
}

// Reissue handles POST /admin/conferences/:confId/registrations/:regId/badge-token.
func (h *Handler) Reissue(c *gin.Context) {
	tok, err := h.svc.Reissue(c.Request.Context(), c.Param("confId"), c.Param("regId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, tok)
}

// MarkIssued handles POST /admin/conferences/:confId/badge-tokens/:token/issued.
func (h *Handler) MarkIssued(c *gin.Context) {
	if err := h.svc.MarkIssued(c.Request.Context(), c.Param("confId"), c.Param("token")); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"token": c.Param("token"), "status": "ISSUED"})
}
