package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage records metering data for a single billable request.
// Rows are append-only; nothing in the service mutates them after creation.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;index"`           // Owning account ID.
	Model     string `gorm:"type:text;not null;index"` // Model name.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt token count.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion token count.
	TotalTokens      int64 `gorm:"not null;default:0"` // Total token count.

	Cost float64 `gorm:"type:decimal(12,6);not null;default:0"` // Priced cost, 6 decimal places.

	RequestID string `gorm:"type:text;not null;index"` // Opaque per-request identifier.
	Endpoint  string `gorm:"type:text;not null"`       // API endpoint name.

	Detail datatypes.JSON `gorm:"type:text"` // Optional structured request detail.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (Usage) TableName() string {
	return "usages"
}
