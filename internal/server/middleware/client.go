package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const maxUserAgentLen = 512

// Client stores the caller's IP and user agent in the request context. The IP is gin's ClientIP,
// which honours X-Forwarded-For only from trusted proxies.
func Client() gin.HandlerFunc {
	return func(c *gin.Context) {
		ua := strings.TrimSpace(c.Request.UserAgent())
		if len(ua) > maxUserAgentLen {
			ua = ua[:maxUserAgentLen]
		}
		ctx := WithClient(c.Request.Context(), ClientInfo{IP: c.ClientIP(), UserAgent: ua})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
