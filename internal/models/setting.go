package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one runtime configuration value as JSON.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	// Value stays a text column: sqlite gives json/jsonb declarations
	// NUMERIC affinity, which silently converts bare-number values to REAL
	// and breaks scanning them back.
	Key   string         `gorm:"type:text;not null;uniqueIndex"` // Setting key.
	Value datatypes.JSON `gorm:"type:text;not null"`             // JSON-encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
