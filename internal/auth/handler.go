package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
	"github.com/aura-conference/backend/pkg/response"
)

// AdminStore loads admin accounts.
type AdminStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Admin, error)
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string             `json:"token"`
	Admin models.AdminPublic `json:"admin"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   AdminStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo AdminStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	admin, err := h.repo.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, apperrors.ErrNotFound) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if !CheckPassword(req.Password, admin.Password) {
		h.logger.Warn("admin login rejected", zap.String("admin_id", admin.ID.String()))
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(admin.ID, admin.Email, string(admin.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, Admin: admin.ToPublic()})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id, err := uuid.Parse(c.GetString(ContextAdminID))
	if err != nil {
		response.Unauthorized(c, "missing admin context")
		return
	}
	admin, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, apperrors.ErrNotFound) {
		response.Unauthorized(c, "admin no longer exists")
		return
	}
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, admin.ToPublic())
}

// ContextAdminID is the gin context key holding the authenticated admin's id.
const ContextAdminID = "admin_id"

// Bootstrapper creates the first admin account.
type Bootstrapper interface {
	CreateIfEmpty(ctx context.Context, email, passwordHash, fullName string) (bool, error)
}

// Bootstrap seeds the first admin when none exists. Empty email or password is a no-op.
func Bootstrap(ctx context.Context, store Bootstrapper, email, password string, logger *zap.Logger) error {
	if email == "" || password == "" {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	created, err := store.CreateIfEmpty(ctx, strings.ToLower(strings.TrimSpace(email)), hash, "Administrator")
	if err != nil {
		return err
	}
	if created && logger != nil {
		logger.Info("bootstrap admin created", zap.String("email", email))
	}
	return nil
}
