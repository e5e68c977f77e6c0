package conferences

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/response"
)

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateRequest is the body for POST /admin/organizations/:orgId/conferences.
type CreateRequest struct {
	ID           string  `json:"id" binding:"required"`
	Title        string  `json:"title" binding:"required"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	BadgeBaseURL string  `json:"badge_base_url"`
}

// UpdateRequest is the body for PATCH /admin/conferences/:confId.
type UpdateRequest struct {
	Title        *string `json:"title"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	BadgeBaseURL *string `json:"badge_base_url"`
}

// Handler handles conference admin endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a conference handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /admin/organizations/:orgId/conferences.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req.ID = strings.ToLower(strings.TrimSpace(req.ID))
	if !idRegex.MatchString(req.ID) {
		response.BadRequest(c, "id must be 2-64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	start, err := parseOptionalTime(req.StartDate)
	if err != nil {
		response.BadRequest(c, "invalid start_date")
		return
	}
	end, err := parseOptionalTime(req.EndDate)
	if err != nil {
		response.BadRequest(c, "invalid end_date")
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		response.BadRequest(c, "end_date is before start_date")
		return
	}

	conf := &models.Conference{
		ID:           req.ID,
		OrgID:        c.Param("orgId"),
		Title:        strings.TrimSpace(req.Title),
		StartDate:    start,
		EndDate:      end,
		BadgeBaseURL: strings.TrimSpace(req.BadgeBaseURL),
	}
	if err := h.repo.Create(c.Request.Context(), conf); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			err = apperrors.Wrap(apperrors.CodeConflict, "conference id already exists", err)
		}
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, conf)
}

// GetByID handles GET /admin/conferences/:confId.
func (h *Handler) GetByID(c *gin.Context) {
	conf, err := h.repo.GetByID(c.Request.Context(), c.Param("confId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, conf)
}

// List handles GET /admin/organizations/:orgId/conferences.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListByOrg(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Conference{}
	}
	response.OK(c, list)
}

// Update handles PATCH /admin/conferences/:confId. The end date drives badge token expiry.
func (h *Handler) Update(c *gin.Context) {
	id := c.Param("confId")
	conf, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	title := conf.Title
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		title = strings.TrimSpace(*req.Title)
	}
	start, err := parseOptionalTime(req.StartDate)
	if err != nil {
		response.BadRequest(c, "invalid start_date")
		return
	}
	end, err := parseOptionalTime(req.EndDate)
	if err != nil {
		response.BadRequest(c, "invalid end_date")
		return
	}
	updated, err := h.repo.Update(c.Request.Context(), id, title, start, end, req.BadgeBaseURL)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, updated)
}
