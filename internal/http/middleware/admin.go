package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-API-Key"

// RequireAdminAPIKey accepts the key in X-Admin-API-Key or as a bearer token.
// With no key configured the admin API is unavailable.
func RequireAdminAPIKey(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminAPIKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			return
		}

		apiKey := c.GetHeader(AdminKeyHeader)
		if apiKey == "" {
			apiKey, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminAPIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}

		c.Next()
	}
}
