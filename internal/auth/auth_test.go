package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/pkg/apperrors"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := uuid.New()

	token, err := svc.Generate(id, "ops@example.org", "operator")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AdminID)
	assert.Equal(t, "ops@example.org", claims.Email)
	assert.Equal(t, "operator", claims.Role)
}

func TestJWTRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewJWTService("other", 1).Generate(uuid.New(), "a@b.c", "admin")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewJWTService("secret", 1)
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := old.Generate(uuid.New(), "a@b.c", "admin")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("nil admin id", func(t *testing.T) {
		token, err := svc.Generate(uuid.Nil, "a@b.c", "admin")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", hash))
	assert.False(t, CheckPassword("hunter3", hash))
}

type fakeAdmins struct {
	admins  map[string]*models.Admin
	created []string
}

func (f *fakeAdmins) GetByID(_ context.Context, id uuid.UUID) (*models.Admin, error) {
	for _, a := range f.admins {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeAdmins) GetByEmail(_ context.Context, email string) (*models.Admin, error) {
	if a, ok := f.admins[email]; ok {
		return a, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeAdmins) CreateIfEmpty(_ context.Context, email, _, _ string) (bool, error) {
	if len(f.admins) > 0 {
		return false, nil
	}
	f.created = append(f.created, email)
	return true, nil
}

func TestLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	store := &fakeAdmins{admins: map[string]*models.Admin{
		"ops@example.org": {ID: uuid.New(), Email: "ops@example.org", Password: hash, Role: models.RoleOperator},
	}}
	h := NewHandler(store, NewJWTService("secret", 1), nil)
	r := gin.New()
	r.POST("/auth/login", h.Login)

	login := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := login(`{"email":"OPS@example.org","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token"`)
	assert.NotContains(t, w.Body.String(), hash)

	w = login(`{"email":"ops@example.org","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = login(`{"email":"nobody@example.org","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = login(`{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBootstrap(t *testing.T) {
	empty := &fakeAdmins{admins: map[string]*models.Admin{}}
	require.NoError(t, Bootstrap(context.Background(), empty, "", "pw", nil))
	assert.Empty(t, empty.created)

	require.NoError(t, Bootstrap(context.Background(), empty, "Root@Example.org", "pw", nil))
	assert.Equal(t, []string{"root@example.org"}, empty.created)

	seeded := &fakeAdmins{admins: map[string]*models.Admin{"a@b.c": {ID: uuid.New()}}}
	require.NoError(t, Bootstrap(context.Background(), seeded, "root@example.org", "pw", nil))
	assert.Empty(t, seeded.created)
}
