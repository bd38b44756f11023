// Package settings keeps an in-memory snapshot of database-backed runtime
// settings so hot paths never query the settings table per request.
package settings

// Setting keys and their fallbacks.
const (
	// DefaultPricePer1KKey overrides the configured default price per 1000
	// tokens used when a model has no rate card.
	DefaultPricePer1KKey = "DEFAULT_PRICE_PER_1K"
	// UsageRetentionDaysKey controls how long usage ledger rows are kept.
	UsageRetentionDaysKey = "USAGE_RETENTION_DAYS"

	// DefaultUsageRetentionDays is the fallback retention period.
	DefaultUsageRetentionDays = 90
)
