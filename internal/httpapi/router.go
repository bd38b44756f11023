// Package httpapi wires the gateway's public HTTP surface: the middleware
// pipeline plus the OpenAI-compatible /v1 handlers.
package httpapi

import (
	"github.com/openrouter-alt/gateway/internal/apierr"
	"github.com/openrouter-alt/gateway/internal/auth"
	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/proxy"
	"github.com/openrouter-alt/gateway/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the collaborators the public routes need.
type Deps struct {
	DB            *gorm.DB
	Config        *config.Config
	Authenticator *auth.Authenticator
	Limiter       *ratelimit.Service
	Forwarder     *proxy.Client
	Recorder      *billing.Recorder
}

// NewRouter builds the gin engine with the standard stage order:
// authenticator, rate limiter, then the target handler, with usage recording
// on the way back out of chat completions.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(RecoveryMiddleware(), RequestIDMiddleware(), CORSMiddleware())

	health := NewHealthHandler(deps.DB)
	engine.GET("/health", health.Health)

	modelsHandler := NewModelsHandler(deps.Forwarder, deps.Config.Models)
	chatHandler := NewChatHandler(deps.Forwarder, deps.Recorder, deps.Config)

	v1 := engine.Group("/v1", AuthMiddleware(deps.Authenticator), RateLimitMiddleware(deps.Limiter))
	v1.GET("/models", modelsHandler.List)
	v1.POST("/chat/completions", chatHandler.Complete)

	engine.NoMethod(func(c *gin.Context) {
		apierr.Write(c, apierr.MethodNotAllowed("method not allowed", allowedMethods(c)))
	})
	engine.NoRoute(func(c *gin.Context) {
		apierr.Write(c, apierr.Format(apierr.KindNotFound, "resource not found", nil))
	})

	return engine
}

// allowedMethods lists the permitted methods for a path hitting NoMethod.
func allowedMethods(c *gin.Context) []string {
	switch c.Request.URL.Path {
	case "/v1/chat/completions":
		return []string{"POST", "OPTIONS"}
	case "/v1/models", "/health":
		return []string{"GET", "OPTIONS"}
	default:
		return []string{"GET", "POST", "OPTIONS"}
	}
}
