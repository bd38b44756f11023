package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openrouter-alt/gateway/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// allowedSettingKeys restricts writes to the keys the gateway understands.
var allowedSettingKeys = map[string]bool{
	settings.DefaultPricePer1KKey:  true,
	settings.UsageRetentionDaysKey: true,
}

// SettingsHandler manages runtime settings overrides.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// Get returns the current snapshot values for all known keys.
func (h *SettingsHandler) Get(c *gin.Context) {
	values := gin.H{}
	for key := range allowedSettingKeys {
		if raw, ok := settings.Value(key); ok {
			values[key] = json.RawMessage(raw)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":   values,
		"updated_at": settings.UpdatedAt(),
	})
}

// updateSettingRequest defines the request body for a settings write.
type updateSettingRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Update writes one setting and refreshes the in-memory snapshot.
func (h *SettingsHandler) Update(c *gin.Context) {
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	key := strings.TrimSpace(body.Key)
	if !allowedSettingKeys[key] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting key"})
		return
	}
	if len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}

	if errUpsert := settings.Upsert(c.Request.Context(), h.db, key, body.Value); errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": body.Value})
}
