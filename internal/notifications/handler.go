package notifications

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/pkg/response"
)

// Handler exposes delivery logs to operators.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a notification log handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /admin/notifications?recipient=...&limit=...
func (h *Handler) List(c *gin.Context) {
	recipient := NormalizePhone(c.Query("recipient"))
	if recipient == "" {
		response.BadRequest(c, "recipient required")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.repo.ListByRecipient(c.Request.Context(), recipient, limit)
	if err != nil {
		h.logger.Error("list notification logs failed", zap.Error(err))
		response.Internal(c, "failed to list notifications")
		return
	}
	response.OK(c, list)
}
