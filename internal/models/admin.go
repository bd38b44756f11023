package models

import "time"

// Admin represents an administrator account for the provisioning API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Login name.
	Password string `gorm:"type:text;not null"`             // bcrypt password hash.

	Active bool `gorm:"not null;default:true"` // Whether the admin may log in.

	LastLoginAt *time.Time // Last successful login time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
