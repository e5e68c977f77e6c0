package membercodes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/middleware"
	"github.com/aura-conference/backend/pkg/response"
)

// VerifyRequest is the body for POST /societies/:orgId/members/verify.
type VerifyRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// Handler serves member-code endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a member-code handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Verify handles POST /societies/:orgId/members/verify.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Verify(c.Request.Context(), c.Param("orgId"), req.Name, req.Code)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, res)
}

// Reset handles POST /admin/societies/:orgId/members/:memberId/reset.
func (h *Handler) Reset(c *gin.Context) {
	m, err := h.svc.Reset(c.Request.Context(), c.Param("orgId"), c.Param("memberId"), middleware.AdminID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"member_id": m.ID, "used": m.Used, "reset_at": m.ResetAt})
}

// Upsert handles PUT /admin/societies/:orgId/members/:memberId.
func (h *Handler) Upsert(c *gin.Context) {
	var in MemberInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.Upsert(c.Request.Context(), c.Param("orgId"), c.Param("memberId"), in)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, m)
}

// Get handles GET /admin/societies/:orgId/members/:memberId.
func (h *Handler) Get(c *gin.Context) {
	m, err := h.svc.Get(c.Request.Context(), c.Param("orgId"), c.Param("memberId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, m)
}
