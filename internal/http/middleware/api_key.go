package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/newsgraph/internal/platform/logger"
)

const headerAPIKey = "X-API-Key"

// RequireAPIKey rejects requests whose X-API-Key header does not match key.
// An empty key disables the check.
func RequireAPIKey(log *logger.Logger, key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	if key == "" {
		return func(c *gin.Context) { c.Next() }
	}
	if log == nil {
		log = logger.Nop()
	}
	mwLog := log.With("middleware", "APIKey")
	return func(c *gin.Context) {
		got := c.GetHeader(headerAPIKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			mwLog.Debug("rejected request", "path", c.Request.URL.Path, "has_key", got != "")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Invalid or missing API Key", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}
