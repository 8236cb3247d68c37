package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"presence-service/internal/domain"
)

// AutoMigrate creates or updates the presence tables and their indexes
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.PresenceRecord{}); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}

// AutoMigrateWithRetry runs AutoMigrate up to maxRetries times with linear backoff
func AutoMigrateWithRetry(db *gorm.DB, logger *zap.Logger, maxRetries int) error {
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		existed := db.Migrator().HasTable(&domain.PresenceRecord{})

		err = AutoMigrate(db)
		if err == nil {
			logger.Info("Migration completed",
				zap.Int("attempt", attempt),
				zap.Bool("table_existed", existed),
			)
			return nil
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			logger.Warn("Migration attempt failed, retrying...",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
		}
	}

	logger.Error("Migration failed after all retry attempts",
		zap.Int("total_attempts", maxRetries),
		zap.Error(err),
	)
	return fmt.Errorf("migration failed after %d attempts: %w", maxRetries, err)
}
