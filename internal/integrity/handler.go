package integrity

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/middleware"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/response"
)

// Handler lets operators review and resolve alerts.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an alert handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /admin/integrity/alerts?date=2026-01-31&resolved=false&severity=CRITICAL&limit=50.
func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if d := c.Query("date"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			response.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}
		f.Date = &t
	}
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "resolved must be true or false")
			return
		}
		f.Resolved = &b
	}
	f.Severity = models.AlertSeverity(c.Query("severity"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))

	list, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list integrity alerts failed", zap.Error(err))
		response.Internal(c, "failed to list alerts")
		return
	}
	response.OK(c, list)
}

// Resolve handles POST /admin/integrity/alerts/:id/resolve.
func (h *Handler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid alert id")
		return
	}
	a, err := h.repo.Resolve(c.Request.Context(), id, middleware.AdminID(c))
	if errors.Is(err, apperrors.ErrNotFound) {
		response.NotFound(c, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("resolve integrity alert failed", zap.Error(err), zap.String("alert_id", id.String()))
		response.Internal(c, "failed to resolve alert")
		return
	}
	response.OK(c, a)
}
