package organizations

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/response"
)

// Organization ids are used in URLs and document paths: lowercase alphanumerics and hyphens, 2-64 chars.
var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// Handler handles organization admin endpoints.
type Handler struct {
	repo *Repository
	// originsChanged is called after an origin is added or removed.
	originsChanged func()
	logger         *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(repo *Repository, originsChanged func(), logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if originsChanged == nil {
		originsChanged = func() {}
	}
	return &Handler{repo: repo, originsChanged: originsChanged, logger: logger}
}

// UpsertRequest is the body for PUT /admin/organizations/:orgId.
type UpsertRequest struct {
	Name string `json:"name" binding:"required"`
}

// Upsert handles PUT /admin/organizations/:orgId.
func (h *Handler) Upsert(c *gin.Context) {
	id := strings.ToLower(strings.TrimSpace(c.Param("orgId")))
	if !idRegex.MatchString(id) {
		response.BadRequest(c, "organization id must be 2–64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	var body UpsertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if len(body.Name) < 1 || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1–255 characters")
		return
	}
	org := &models.Organization{ID: id, Name: body.Name}
	if err := h.repo.Upsert(c.Request.Context(), org); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, org)
}

// GatewayRequest is the body for PUT /admin/organizations/:orgId/gateway.
type GatewayRequest struct {
	Provider  string `json:"provider" binding:"required,oneof=toss nice"`
	SecretKey string `json:"secretKey" binding:"required"`
	ClientKey string `json:"clientKey"`
}

// SetGateway handles PUT /admin/organizations/:orgId/gateway. The secret is write-only.
func (h *Handler) SetGateway(c *gin.Context) {
	var body GatewayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.Provider == models.PaymentProviderNice && body.ClientKey == "" {
		response.BadRequest(c, "clientKey is required for nice")
		return
	}
	err := h.repo.SetGatewayCredentials(c.Request.Context(), models.StoredGatewayCredentials{
		OrgID: c.Param("orgId"), Provider: body.Provider, SecretKey: body.SecretKey, ClientKey: body.ClientKey,
	})
	if err != nil {
		response.Error(c, h.logger, apperrors.Wrap(apperrors.CodeOf(err), "organization not found", err))
		return
	}
	h.logger.Info("gateway credentials updated", zap.String("org_id", c.Param("orgId")), zap.String("provider", body.Provider))
	response.OK(c, gin.H{"provider": body.Provider, "has_secret": true})
}

// OriginRequest is the body for origin changes.
type OriginRequest struct {
	Origin string `json:"origin" binding:"required"`
}

// ListOrigins handles GET /admin/organizations/:orgId/origins.
func (h *Handler) ListOrigins(c *gin.Context) {
	list, err := h.repo.ListOrigins(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	response.OK(c, list)
}

// AddOrigin handles POST /admin/organizations/:orgId/origins.
func (h *Handler) AddOrigin(c *gin.Context) {
	origin, ok := h.bindOrigin(c)
	if !ok {
		return
	}
	if err := h.repo.AddOrigin(c.Request.Context(), c.Param("orgId"), origin); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	h.originsChanged()
	response.Created(c, gin.H{"origin": origin})
}

// RemoveOrigin handles DELETE /admin/organizations/:orgId/origins.
func (h *Handler) RemoveOrigin(c *gin.Context) {
	origin, ok := h.bindOrigin(c)
	if !ok {
		return
	}
	if err := h.repo.RemoveOrigin(c.Request.Context(), c.Param("orgId"), origin); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	h.originsChanged()
	response.NoContent(c)
}

func (h *Handler) bindOrigin(c *gin.Context) (string, bool) {
	var body OriginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "origin required")
		return "", false
	}
	origin, err := NormalizeOrigin(body.Origin)
	if err != nil {
		response.BadRequest(c, err.Error())
		return "", false
	}
	return origin, true
}

// NormalizeOrigin reduces a URL to scheme://host[:port].
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "origin must be an http(s) URL")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
