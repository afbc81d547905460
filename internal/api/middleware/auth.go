package middleware

import (
	"net/http"
	"strings"
	"swapgogo/backend/internal/security"

	"github.com/gin-gonic/gin"
)

// Context keys set by RequireAuth.
const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// RequireAuth validates the bearer token. Browsers cannot set headers on a
// WebSocket handshake, so the token may also come as the "token" query parameter.
func RequireAuth(tokens *security.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(UserIDKey, claims.Subject)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// UserID returns the authenticated user of the request.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
