package gormkv

import (
	"time"

	"gorm.io/datatypes"
)

// Record is one durable key-value row. Values are JSON-encoded so scalar and
// structured payloads share a column without delimiter escaping.
type Record struct {
	Namespace string         `gorm:"primaryKey;size:64"`
	Key       string         `gorm:"primaryKey;size:64"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Record) TableName() string { return "kv_records" }
