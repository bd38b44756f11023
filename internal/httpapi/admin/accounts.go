package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AccountHandler manages caller account endpoints.
type AccountHandler struct {
	db *gorm.DB
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{db: db}
}

// createAccountRequest defines the request body for account creation.
type createAccountRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

// Create provisions an account with freshly generated credential tokens.
// The tokens are returned once in this response and never logged.
func (h *AccountHandler) Create(c *gin.Context) {
	var body createAccountRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	email := strings.TrimSpace(strings.ToLower(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}
	tier := strings.TrimSpace(body.Tier)
	if tier == "" {
		tier = models.TierFree
	}
	switch tier {
	case models.TierFree, models.TierPremium, models.TierEnterprise:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}

	laCookie, errLa := security.GenerateCredentialToken()
	if errLa != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	cfClearance, errCf := security.GenerateCredentialToken()
	if errCf != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	account := models.Account{
		Email:       email,
		LaCookie:    laCookie,
		CfClearance: cfClearance,
		Tier:        tier,
		Status:      models.AccountStatusActive,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&account).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "account creation failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           account.ID,
		"email":        account.Email,
		"tier":         account.Tier,
		"status":       account.Status,
		"la_cookie":    account.LaCookie,
		"cf_clearance": account.CfClearance,
	})
}

// List returns accounts with optional email and status filters. Credential
// tokens are never included in listings.
func (h *AccountHandler) List(c *gin.Context) {
	var (
		emailQ  = strings.TrimSpace(c.Query("email"))
		statusQ = strings.TrimSpace(c.Query("status"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.Account{})
	if emailQ != "" {
		q = q.Where("email LIKE ?", "%"+emailQ+"%")
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}

	var rows []models.Account
	if errFind := q.Order("created_at DESC").Limit(200).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":             row.ID,
			"email":          row.Email,
			"tier":           row.Tier,
			"status":         row.Status,
			"last_access_at": row.LastAccessAt,
			"created_at":     row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// updateStatusRequest defines the request body for status changes.
type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus switches an account between active, suspended, and inactive.
func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var body updateStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := strings.TrimSpace(body.Status)
	switch status {
	case models.AccountStatusActive, models.AccountStatusSuspended, models.AccountStatusInactive:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Account{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update status failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}
