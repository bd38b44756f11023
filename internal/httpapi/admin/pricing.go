package admin

import (
	"net/http"
	"strings"

	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PricingHandler manages the model rate card.
type PricingHandler struct {
	db      *gorm.DB
	pricing *billing.PricingSource
}

// NewPricingHandler constructs a PricingHandler.
func NewPricingHandler(db *gorm.DB, pricing *billing.PricingSource) *PricingHandler {
	return &PricingHandler{db: db, pricing: pricing}
}

// upsertPricingRequest defines the request body for rate card writes.
type upsertPricingRequest struct {
	Model                string   `json:"model"`
	PricePer1K           *float64 `json:"price_per_1k"`
	Currency             string   `json:"currency"`
	Active               *bool    `json:"active"`
	FreeMultiplier       *float64 `json:"free_multiplier"`
	PremiumMultiplier    *float64 `json:"premium_multiplier"`
	EnterpriseMultiplier *float64 `json:"enterprise_multiplier"`
}

// Upsert creates or replaces one model's rate card entry and drops any
// cached copy so the change takes effect within one lookup.
func (h *PricingHandler) Upsert(c *gin.Context) {
	var body upsertPricingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	model := strings.TrimSpace(body.Model)
	if model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	if body.PricePer1K == nil || *body.PricePer1K < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price_per_1k must be a non-negative number"})
		return
	}

	row := models.ModelPricing{
		Model:                model,
		PricePer1K:           *body.PricePer1K,
		Currency:             "USD",
		Active:               true,
		FreeMultiplier:       1,
		PremiumMultiplier:    1,
		EnterpriseMultiplier: 1,
	}
	if currency := strings.TrimSpace(body.Currency); currency != "" {
		row.Currency = currency
	}
	if body.Active != nil {
		row.Active = *body.Active
	}
	if body.FreeMultiplier != nil {
		row.FreeMultiplier = *body.FreeMultiplier
	}
	if body.PremiumMultiplier != nil {
		row.PremiumMultiplier = *body.PremiumMultiplier
	}
	if body.EnterpriseMultiplier != nil {
		row.EnterpriseMultiplier = *body.EnterpriseMultiplier
	}

	errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"price_per_1k", "currency", "active",
				"free_multiplier", "premium_multiplier", "enterprise_multiplier",
				"updated_at",
			}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pricing upsert failed"})
		return
	}

	if h.pricing != nil {
		h.pricing.Invalidate(c.Request.Context(), model)
	}
	c.JSON(http.StatusOK, gin.H{"model": row.Model, "price_per_1k": row.PricePer1K, "active": row.Active})
}

// List returns the full rate card.
func (h *PricingHandler) List(c *gin.Context) {
	var rows []models.ModelPricing
	if errFind := h.db.WithContext(c.Request.Context()).Order("model ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list pricing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": rows})
}
