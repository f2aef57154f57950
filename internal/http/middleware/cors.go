package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the given origins. A "*" entry allows any origin without
// credentials; no origins means cross-origin requests get no CORS headers.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-API-Key", "X-Request-Id", "X-Trace-Id"},
		ExposeHeaders: []string{"X-Request-Id", "X-Trace-Id"},
	}
	cleaned := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
		cleaned = append(cleaned, o)
	}
	if len(cleaned) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	cfg.AllowOrigins = cleaned
	cfg.AllowCredentials = true
	return cors.New(cfg)
}
