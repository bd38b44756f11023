package admin

import (
	"net/http"
	"strings"

	"github.com/openrouter-alt/gateway/internal/security"

	"github.com/gin-gonic/gin"
)

// Gin context keys for authenticated admin identity.
const (
	contextKeyAdminID       = "adminID"
	contextKeyAdminUsername = "adminUsername"
)

// AuthMiddleware validates the admin bearer token and stores the admin
// identity on the context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		claims, errParse := security.ParseAdminToken(jwtSecret, token)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(contextKeyAdminID, claims.AdminID)
		c.Set(contextKeyAdminUsername, claims.Username)
		c.Next()
	}
}
