package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsvc "github.com/amoylab/riderwatch/internal/auth/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hdrSvc = func() *jsvc.Service {
	s, _ := jsvc.NewService(jsvc.Config{SecretKey: "this-is-a-very-long-secret-key-for-testing", Duration: time.Hour})
	return s
}()

func performRequest(headers map[string]string, extra ...gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuthMiddleware(hdrSvc)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		caller, ok := Caller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant": caller.Tenant, "cities": caller.AllowedCities})
	})
	r.GET("/p", handlers...)
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, role string, cities ...int64) map[string]string {
	t.Helper()
	tok, err := hdrSvc.GenerateToken("u", "acme", cities, role)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	w := performRequest(nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthMiddleware_BadPrefix(t *testing.T) {
	w := performRequest(map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthMiddleware_InvalidToken(t *testing.T) {
	w := performRequest(map[string]string{"Authorization": "Bearer invalid"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthMiddleware_Valid(t *testing.T) {
	w := performRequest(bearer(t, jsvc.RoleViewer, 7, 9))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant":"acme","cities":[7,9]}`, w.Body.String())
}

func TestRequireOperator(t *testing.T) {
	w := performRequest(bearer(t, jsvc.RoleViewer), RequireOperator())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(bearer(t, jsvc.RoleOperator), RequireOperator())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCaller_WithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := Caller(c)
	assert.False(t, ok)

	WithClaims(&jsvc.Claims{Tenant: "acme"})(c)
	caller, ok := Caller(c)
	require.True(t, ok)
	assert.Equal(t, "acme", caller.Tenant)
}
