package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var staticHeaders = map[string]string{
	"Vary":                             "Origin",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Headers":     "Authorization, Content-Type, X-Request-ID",
	"Access-Control-Allow-Methods":     "GET, POST, OPTIONS",
	"Access-Control-Expose-Headers":    "Content-Disposition, X-Request-ID",
	"Access-Control-Max-Age":           "600",
}

// New returns a CORS middleware for the listed origins; an empty list allows any origin.
// Preflight requests are answered with 204 and never reach the handlers.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[normalize(origin)] = true
	}
	allowOrigin := func(origin string) string {
		switch {
		case len(allowed) == 0 && origin == "":
			return "*"
		case len(allowed) == 0 || allowed[normalize(origin)]:
			return origin
		}
		return ""
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if value := allowOrigin(c.GetHeader("Origin")); value != "" {
			h.Set("Access-Control-Allow-Origin", value)
		}
		for k, v := range staticHeaders {
			h.Set(k, v)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalize(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
