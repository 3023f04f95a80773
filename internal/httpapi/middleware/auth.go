// Package middleware holds the gin middleware the intake HTTP API
// wraps mutating routes with: a single static bearer token for admin
// auth (extract-token-then-validate, constant-time compare against
// PIPELINE_API_KEY). There is no end-user identity model in this
// service, so nothing is set on the request context beyond the
// pass/fail decision.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAdminKey builds a gin middleware that rejects requests unless
// the Authorization header carries "Bearer <apiKey>" or, when that
// header holds no bearer token, the api_key query parameter equals
// apiKey. When apiKey is
// empty (PIPELINE_API_KEY unset), auth is disabled entirely and every
// request passes — an unset admin secret means this deployment didn't
// opt into the gate, not that everything should be locked out.
func RequireAdminKey(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing or invalid admin key", "code": "unauthorized"}})
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return c.Query("api_key")
}
