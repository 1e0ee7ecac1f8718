package store

import (
	"context"
	"errors"
	"time"

	"researchhub/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps partitions as rows of the partitions table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open, migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row models.Partition
	err := s.db.WithContext(ctx).Where("partition_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Blob, true, nil
}

// Put upserts the row so a put is always a whole-document overwrite.
func (s *GormStore) Put(ctx context.Context, key string, blob []byte) error {
	row := models.Partition{
		Key:       key,
		Blob:      blob,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&row).Error
}
