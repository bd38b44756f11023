package db

import (
	"fmt"

	"github.com/openrouter-alt/gateway/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all gateway tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Account{},
		&models.RateWindow{},
		&models.Usage{},
		&models.ModelPricing{},
		&models.Admin{},
		&models.Setting{},
	)
}
