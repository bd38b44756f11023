package models

import "time"

// RateWindow is a fixed-width time bucket of request and token counts for one account.
//
// At most one row exists per (account, window start, granularity); the unique
// index is what makes lazy creation idempotent and lets concurrent requests
// converge on a single counter row.
type RateWindow struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID   uint64 `gorm:"not null;uniqueIndex:idx_rate_windows_bucket"`           // Owning account ID.
	WindowStart int64  `gorm:"not null;uniqueIndex:idx_rate_windows_bucket"`           // Window start, epoch seconds aligned to the window size.
	Granularity string `gorm:"type:text;not null;uniqueIndex:idx_rate_windows_bucket"` // Window granularity tag.

	RequestCount int64 `gorm:"not null;default:0"` // Admitted requests in this window.
	TokenCount   int64 `gorm:"not null;default:0"` // Tokens consumed in this window.

	RequestLimit int64 `gorm:"not null"` // Request quota for this window.
	TokenLimit   int64 `gorm:"not null"` // Token quota for this window (tracked, not gated).

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last increment timestamp.
}

// TableName overrides the default table name.
func (RateWindow) TableName() string {
	return "rate_windows"
}
