package database

import (
	"fmt"
	"time"

	"researchhub/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres connection and migrates the partition table.
func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// Configure GORM logger
	customLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: customLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Database connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("Database migrated successfully")
	return db, nil
}

// Migrate creates or updates the partitions table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Partition{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
