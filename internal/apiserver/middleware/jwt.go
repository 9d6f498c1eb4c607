package middleware

import (
	"net/http"
	"strings"

	"github.com/amoylab/riderwatch/internal/auth/jwt"
	"github.com/amoylab/riderwatch/internal/rider"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// JWTAuthMiddleware creates a middleware that validates caller tokens
func JWTAuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireOperator rejects callers that may not change block state
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok || !claims.CanOperate() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Claims returns the validated claims of the request
func Claims(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

// Caller returns the search identity of the request
func Caller(c *gin.Context) (rider.Caller, bool) {
	claims, ok := Claims(c)
	if !ok {
		return rider.Caller{}, false
	}
	return rider.Caller{Tenant: claims.Tenant, AllowedCities: claims.Cities}, true
}

// WithClaims stores claims on the request; used when authentication happens
// elsewhere
func WithClaims(claims *jwt.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(claimsKey, claims)
		c.Next()
	}
}
