// Package admin exposes the provisioning API: admin login, account and
// pricing management, runtime settings, and usage reporting.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	db  *gorm.DB
	cfg config.AdminConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg config.AdminConfig) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an admin and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	password := strings.TrimSpace(body.Password)
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
		return
	}
	if !security.CheckPassword(admin.Password, password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateAdminToken(h.cfg.JWTSecret, admin.ID, admin.Username, h.cfg.TokenExpiry.Std())
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	now := time.Now().UTC()
	_ = h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("last_login_at", &now).Error

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.cfg.TokenExpiry.Std() / time.Second),
		"username":   admin.Username,
	})
}
