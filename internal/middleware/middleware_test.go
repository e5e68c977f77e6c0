package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-conference/backend/internal/auth"
)

func newRouter(jwtService *auth.JWTService, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", JWT(jwtService), RequireRole(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, AdminID(c))
	})
	return r
}

func TestJWTAndRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, "admin")
	id := uuid.New()

	adminToken, err := svc.Generate(id, "root@example.org", "admin")
	require.NoError(t, err)
	operatorToken, err := svc.Generate(uuid.New(), "ops@example.org", "operator")
	require.NoError(t, err)

	do := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		w := do(req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, id.String(), w.Body.String())
	})

	t.Run("missing header", func(t *testing.T) {
		w := do(httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Token "+adminToken)
		assert.Equal(t, http.StatusUnauthorized, do(req).Code)
	})

	t.Run("query token only on websocket upgrade", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin?token="+adminToken, nil)
		assert.Equal(t, http.StatusUnauthorized, do(req).Code)

		req = httptest.NewRequest(http.MethodGet, "/admin?token="+adminToken, nil)
		req.Header.Set("Upgrade", "websocket")
		assert.Equal(t, http.StatusOK, do(req).Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+operatorToken)
		assert.Equal(t, http.StatusForbidden, do(req).Code)
	})
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(source OriginSource, method, origin string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(CORS(source))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/x", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		r.ServeHTTP(w, req)
		return w
	}
	allowed := StaticOrigins(OriginSet([]string{"https://kms.example.org/", " https://console.example.org"}))

	w := serve(allowed, http.MethodGet, "https://kms.example.org")
	assert.Equal(t, "https://kms.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	w = serve(allowed, http.MethodGet, "https://evil.example.org")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(allowed, http.MethodOptions, "https://console.example.org")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(StaticOrigins{}, http.MethodGet, "https://anyone.example.org")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
