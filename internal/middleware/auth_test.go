package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talky-service/internal/auth"
)

type staticVerifier struct {
	userID int
	err    error
	got    string
}

func (v *staticVerifier) Verify(token string) (int, error) {
	v.got = token
	return v.userID, v.err
}

func setupAuthRouter(verifier auth.TokenVerifier) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	var seen int
	r := gin.New()
	r.GET("/protected", AuthMiddleware(verifier), func(c *gin.Context) {
		seen = c.GetInt(UserIDKey)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestAuthMiddlewareCookie(t *testing.T) {
	verifier := &staticVerifier{userID: 7}
	router, seen := setupAuthRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cookie-token", verifier.got)
	assert.Equal(t, 7, *seen)
}

func TestAuthMiddlewareBearerFallback(t *testing.T) {
	verifier := &staticVerifier{userID: 7}
	router, _ := setupAuthRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "header-token", verifier.got)
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	router, _ := setupAuthRouter(&staticVerifier{userID: 7})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	router, _ := setupAuthRouter(&staticVerifier{err: auth.ErrInvalidToken})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
