package models

import "time"

// ModelPricing is the rate card entry for one model.
type ModelPricing struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Model string `gorm:"type:text;not null;uniqueIndex"` // Model name.

	PricePer1K float64 `gorm:"column:price_per_1k;type:decimal(12,6);not null"` // Price per 1000 tokens.
	Currency   string  `gorm:"type:text;not null;default:'USD'"`                // Currency code.
	Active     bool    `gorm:"not null;default:true"`                           // Whether the entry is in effect.

	FreeMultiplier       float64 `gorm:"not null;default:1"` // Tier multiplier for free accounts.
	PremiumMultiplier    float64 `gorm:"not null;default:1"` // Tier multiplier for premium accounts.
	EnterpriseMultiplier float64 `gorm:"not null;default:1"` // Tier multiplier for enterprise accounts.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (ModelPricing) TableName() string {
	return "model_pricing"
}

// TierMultiplier returns the billing multiplier for the given account tier.
func (p *ModelPricing) TierMultiplier(tier string) float64 {
	switch tier {
	case TierEnterprise:
		return p.EnterpriseMultiplier
	case TierPremium:
		return p.PremiumMultiplier
	default:
		return p.FreeMultiplier
	}
}
