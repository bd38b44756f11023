package models

import "time"

// Account tiers.
const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

// Account statuses.
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusInactive  = "inactive"
)

// Account represents an API caller identified by a pair of opaque tokens.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;not null;uniqueIndex"` // Contact email.

	LaCookie    string `gorm:"type:text;not null;index:idx_accounts_tokens"` // First credential token.
	CfClearance string `gorm:"type:text;not null;index:idx_accounts_tokens"` // Second credential token.

	Tier   string `gorm:"type:text;not null;default:'free'"`   // Billing tier.
	Status string `gorm:"type:text;not null;default:'active'"` // Account status.

	LastAccessAt *time.Time // Last successful authentication time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TierMultiplier returns the rate-limit multiplier for the account's tier.
func (a *Account) TierMultiplier() int64 {
	switch a.Tier {
	case TierEnterprise:
		return 20
	case TierPremium:
		return 5
	default:
		return 1
	}
}
