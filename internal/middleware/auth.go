// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, metrics, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → RateLimit → Auth → Audit → Handler
//
// Security headers run early so they appear on all responses including
// errors. Rate limiting runs before auth to block brute-force attacks before
// any token verification work. Auth populates the user identity; audit
// logging runs last so only authenticated requests are recorded with their
// final status.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/assetdock/assetdock/internal/auth"
)

// UserIDKey is the gin.Context key under which the authenticated user id is
// stored by AuthMiddleware.
const UserIDKey = "user_id"

// AuthMiddleware validates the bearer token on every request and stores the
// resolved user id in the context. Requests without a verifiable token are
// rejected with 401; the response never distinguishes why verification
// failed.
func AuthMiddleware(resolver auth.CurrentUserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		userID, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid credentials",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID returns the authenticated user id stored by AuthMiddleware, or
// "" when the request is unauthenticated.
func GetUserID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
