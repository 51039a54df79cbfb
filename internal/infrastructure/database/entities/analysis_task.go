package entities

import (
	"time"

	"gorm.io/gorm"
)

// Analysis task queue states.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// AnalysisTask represents one queued analysis handoff for a verified upload.
type AnalysisTask struct {
	ID            string    `gorm:"type:varchar(40);primaryKey"`
	MediaID       string    `gorm:"type:varchar(40);not null;index"`
	RemoteKey     string    `gorm:"type:varchar(512);not null"`
	ContentType   string    `gorm:"type:varchar(64);not null"`
	FileSize      int64     `gorm:"not null"`
	CorrelationID string    `gorm:"type:varchar(64);not null"`
	Status        string    `gorm:"type:varchar(32);not null;index"`
	Attempts      int       `gorm:"not null;default:0"`
	LastError     string    `gorm:"type:text"`
	ScheduledAt   time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate ensures defaults.
func (t *AnalysisTask) BeforeCreate(tx *gorm.DB) error {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = time.Now()
	}
	return nil
}

func (AnalysisTask) TableName() string {
	return "analysis_tasks"
}
