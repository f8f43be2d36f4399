package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/luminadocs/lumina/internal/shared/id"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with a ULID unless the caller supplied one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = string(id.NewRequestID())
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}
