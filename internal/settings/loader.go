package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openrouter-alt/gateway/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Refresh reloads all settings from the database into the in-memory
// snapshot. Call it at process startup and after every settings write.
func Refresh(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}

	Store(maxUpdatedAt, values)
	return nil
}

// Upsert writes one setting row and refreshes the snapshot.
func Upsert(ctx context.Context, db *gorm.DB, key string, value json.RawMessage) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	if !json.Valid(value) {
		return errors.New("settings: value is not valid JSON")
	}

	row := models.Setting{Key: key, Value: datatypes.JSON(value)}
	errUpsert := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		return errUpsert
	}
	return Refresh(ctx, db)
}
