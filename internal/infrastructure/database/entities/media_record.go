package entities

import (
	"time"

	"gorm.io/datatypes"
)

// MediaRecord represents the persisted upload lifecycle state.
type MediaRecord struct {
	MediaID            string         `gorm:"type:varchar(40);primaryKey"`
	OwnerID            string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_media_record_owner_key,priority:1"`
	IdempotencyKey     string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_media_record_owner_key,priority:2"`
	FileName           string         `gorm:"type:varchar(255);not null"`
	FileSize           int64          `gorm:"not null"`
	ContentType        string         `gorm:"type:varchar(64);not null"`
	RemoteKey          string         `gorm:"type:varchar(512);not null"`
	Status             string         `gorm:"type:varchar(32);not null;index"`
	MultipartUploadID  string         `gorm:"type:varchar(512)"`
	ChunkSize          int64
	PartCount          int
	CorrelationID      string         `gorm:"type:varchar(64)"`
	ProcessingMetadata datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time      `gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime;index"`
}

func (MediaRecord) TableName() string {
	return "media_records"
}
