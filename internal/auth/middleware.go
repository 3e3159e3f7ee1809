// Package auth guards the admin routes with a static API key.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/dashgate/internal/secrets"
)

// APIKeyHeader is the alternative to a Bearer token.
const APIKeyHeader = "x-api-key"

// AdminKey returns the key presented by the request: a Bearer token or the
// x-api-key header.
func AdminKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// Middleware rejects requests that do not present apiKey. An empty apiKey
// disables the check.
func Middleware(apiKey string) gin.HandlerFunc {
	expected := strings.TrimSpace(apiKey)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		if !secrets.Equal(AdminKey(c.Request), expected) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "unauthorized",
					"type":    "invalid_request_error",
					"code":    "invalid_api_key",
				},
			})
			return
		}
		c.Next()
	}
}
