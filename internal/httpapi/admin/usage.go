package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openrouter-alt/gateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsageHandler serves usage ledger reporting endpoints.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// List returns usage rows with optional account, model, and time filters.
func (h *UsageHandler) List(c *gin.Context) {
	q := h.filteredQuery(c)

	limit := 100
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		if v, errParse := strconv.Atoi(limitStr); errParse == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	var rows []models.Usage
	if errFind := q.Order("requested_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows})
}

// usageSummaryRow is one aggregate bucket of the usage report.
type usageSummaryRow struct {
	Model       string  `json:"model" gorm:"column:model"`
	Requests    int64   `json:"requests" gorm:"column:requests"`
	TotalTokens int64   `json:"total_tokens" gorm:"column:total_tokens"`
	TotalCost   float64 `json:"total_cost" gorm:"column:total_cost"`
}

// Summary aggregates request counts, tokens, and cost per model.
func (h *UsageHandler) Summary(c *gin.Context) {
	q := h.filteredQuery(c)

	var rows []usageSummaryRow
	errScan := q.
		Select("model, COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS total_tokens, COALESCE(SUM(cost), 0) AS total_cost").
		Group("model").
		Order("total_cost DESC").
		Scan(&rows).Error
	if errScan != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": rows})
}

// filteredQuery applies the shared account/model/time filters.
func (h *UsageHandler) filteredQuery(c *gin.Context) *gorm.DB {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Usage{})

	if accountStr := strings.TrimSpace(c.Query("account_id")); accountStr != "" {
		if id, errParse := strconv.ParseUint(accountStr, 10, 64); errParse == nil {
			q = q.Where("account_id = ?", id)
		}
	}
	if model := strings.TrimSpace(c.Query("model")); model != "" {
		q = q.Where("model = ?", model)
	}
	if fromStr := strings.TrimSpace(c.Query("from")); fromStr != "" {
		if t, errParse := time.Parse(time.RFC3339, fromStr); errParse == nil {
			q = q.Where("requested_at >= ?", t.UTC())
		}
	}
	if toStr := strings.TrimSpace(c.Query("to")); toStr != "" {
		if t, errParse := time.Parse(time.RFC3339, toStr); errParse == nil {
			q = q.Where("requested_at <= ?", t.UTC())
		}
	}
	return q
}
