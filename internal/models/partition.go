package models

import "time"

// Partition is one keyed document in the relational partition store.
type Partition struct {
	Key       string `gorm:"column:partition_key;primaryKey;size:255"`
	Blob      []byte `gorm:"column:blob;not null"`
	UpdatedAt time.Time
}

// TableName binds the model to the partitions table.
func (Partition) TableName() string {
	return "partitions"
}
