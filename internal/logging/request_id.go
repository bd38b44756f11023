package logging

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ginRequestIDKey is the gin context key holding the per-request identifier.
const ginRequestIDKey = "requestID"

// SetGinRequestID stores the request identifier on a gin context.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c == nil {
		return
	}
	trimmed := strings.TrimSpace(requestID)
	if trimmed == "" {
		return
	}
	c.Set(ginRequestIDKey, trimmed)
}

// GinRequestID returns the request identifier stored on a gin context, if any.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	v, exists := c.Get(ginRequestIDKey)
	if !exists {
		return ""
	}
	id, ok := v.(string)
	if !ok {
		return ""
	}
	return id
}
