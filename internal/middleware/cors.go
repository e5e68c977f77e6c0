package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginSource returns the currently allowed origins. *cache.ReadThrough[map[string]bool]
// satisfies it.
type OriginSource interface {
	Get(ctx context.Context) map[string]bool
}

// StaticOrigins is an OriginSource over a fixed set.
type StaticOrigins map[string]bool

// Get implements OriginSource.
func (s StaticOrigins) Get(context.Context) map[string]bool { return s }

// CORS returns a middleware that sets CORS headers for cross-origin requests.
// An empty set or "*" allows every origin.
func CORS(source OriginSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		origins := source.Get(c.Request.Context())
		origin := c.GetHeader("Origin")
		allowOrigin := ""
		if len(origins) == 0 || origins["*"] {
			allowOrigin = "*"
		} else if origin != "" && origins[origin] {
			allowOrigin = origin
			c.Header("Vary", "Origin")
		}
		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginSet turns an origin list into a lookup set. Trailing slashes are dropped.
func OriginSet(origins []string) map[string]bool {
	m := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			m[o] = true
		}
	}
	return m
}
