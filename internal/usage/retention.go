// Package usage maintains the usage ledger, pruning rows past the configured
// retention period.
package usage

import (
	"context"
	"time"

	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultDeleteBatchSize = 5000
	maxBatchesPerRun       = 2000
)

// RetentionCleaner periodically deletes old rows from the usages table.
type RetentionCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	days      int
	batchSize int
}

// NewRetentionCleaner builds a cleaner from usage settings. The retention
// period can be overridden at runtime through the settings table.
func NewRetentionCleaner(db *gorm.DB, cfg config.UsageConfig) *RetentionCleaner {
	if db == nil {
		return nil
	}
	return &RetentionCleaner{
		db:        db,
		interval:  cfg.CleanerInterval.Std(),
		days:      cfg.RetentionDays,
		batchSize: defaultDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("usage retention cleaner started (interval=%s)", c.interval)
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce deletes expired rows in bounded batches.
func (c *RetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	if ctx == nil {
		ctx = context.Background()
	}

	retentionDays := settings.UsageRetentionDays(c.days)
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return deletedTotal
		}
		n, errDelete := c.deleteBatch(ctx, cutoff)
		if errDelete != nil {
			log.WithError(errDelete).Warn("usage retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.Infof("usage retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
	return deletedTotal
}

func (c *RetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = defaultDeleteBatchSize
	}

	// Limited subquery keeps transactions short and avoids table locks.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM usages
		WHERE id IN (
			SELECT id FROM usages
			WHERE requested_at < ?
			ORDER BY requested_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
