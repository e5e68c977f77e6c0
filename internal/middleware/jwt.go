package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-conference/backend/internal/auth"
	"github.com/aura-conference/backend/pkg/response"
)

const (
	// ContextAdminID is the key for the admin ID in gin context.
	ContextAdminID = auth.ContextAdminID
	// ContextAdminRole is the key for the admin role in gin context.
	ContextAdminRole = "admin_role"
	// ContextAdminEmail is the key for the admin email in gin context.
	ContextAdminEmail = "admin_email"
)

// JWT returns a middleware that validates JWT and sets admin claims in context.
// Browsers cannot set headers on WebSocket upgrades, so those may pass ?token=.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c)
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextAdminID, claims.AdminID.String())
		c.Set(ContextAdminRole, claims.Role)
		c.Set(ContextAdminEmail, claims.Email)
		c.Next()
	}
}

func bearer(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		if t := c.Query("token"); t != "" {
			return t, true
		}
	}
	return "", false
}

// AdminID returns the authenticated admin's id, or "" outside the JWT middleware.
func AdminID(c *gin.Context) string {
	return c.GetString(ContextAdminID)
}
