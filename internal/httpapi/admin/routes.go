package admin

import (
	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/config"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the provisioning API under /admin. Everything except
// login requires a valid admin bearer token.
func RegisterRoutes(engine *gin.Engine, db *gorm.DB, cfg config.AdminConfig, pricing *billing.PricingSource) {
	authHandler := NewAuthHandler(db, cfg)
	accountHandler := NewAccountHandler(db)
	pricingHandler := NewPricingHandler(db, pricing)
	usageHandler := NewUsageHandler(db)
	settingsHandler := NewSettingsHandler(db)

	group := engine.Group("/admin")
	group.POST("/login", authHandler.Login)

	authed := group.Group("", AuthMiddleware(cfg.JWTSecret))
	authed.POST("/accounts", accountHandler.Create)
	authed.GET("/accounts", accountHandler.List)
	authed.PATCH("/accounts/:id/status", accountHandler.UpdateStatus)

	authed.POST("/pricing", pricingHandler.Upsert)
	authed.GET("/pricing", pricingHandler.List)

	authed.GET("/usage", usageHandler.List)
	authed.GET("/usage/summary", usageHandler.Summary)

	authed.GET("/settings", settingsHandler.Get)
	authed.PUT("/settings", settingsHandler.Update)
}
