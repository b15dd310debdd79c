package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhol1961/waggin-meals-sub004/internal/api/middleware"
	"github.com/mhol1961/waggin-meals-sub004/internal/auth"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

const testJwtSecret = "jwt-secret-for-tests"

func setupAdminRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(testJwtSecret), middleware.AdminMiddleware())
	admin.GET("/check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(middleware.ContextKeyUserID)})
	})
	return r
}

func staffToken(t *testing.T, isAdmin bool, ttl time.Duration) (utils.SixID, string) {
	t.Helper()
	userID := utils.SixID{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	token, err := auth.GenerateJWT(userID, isAdmin, testJwtSecret, ttl)
	require.NoError(t, err)
	return userID, token
}

func TestAuthMiddleware_AdminTokenPasses(t *testing.T) {
	r := setupAdminRouter()
	userID, token := staffToken(t, true, time.Hour)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
}

func TestAuthMiddleware_NonAdminTokenForbidden(t *testing.T) {
	r := setupAdminRouter()
	_, token := staffToken(t, false, time.Hour)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthMiddleware_ExpiredTokenRejected(t *testing.T) {
	r := setupAdminRouter()
	_, token := staffToken(t, true, -time.Minute)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_MissingOrMalformedHeader(t *testing.T) {
	r := setupAdminRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/check", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/admin/check", nil)
	req.Header.Set("Authorization", "Token abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_WrongSecretRejected(t *testing.T) {
	r := setupAdminRouter()
	userID := utils.SixID{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	token, err := auth.GenerateJWT(userID, true, "some-other-secret", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
