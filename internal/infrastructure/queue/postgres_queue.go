package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	domain "jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/infrastructure/database/entities"
)

// PostgresQueue implements TaskQueue and the analysis trigger using the
// analysis_tasks table.
type PostgresQueue struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewPostgresQueue creates a new PostgreSQL-backed task queue.
func NewPostgresQueue(db *gorm.DB, log zerolog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:  db,
		log: log.With().Str("component", "postgres-queue").Logger(),
	}
}

// Enqueue stores an analysis handoff for dispatch. A media record with a
// task already waiting or in flight is not enqueued twice, which keeps the
// stranded-upload sweep idempotent.
func (q *PostgresQueue) Enqueue(ctx context.Context, task domain.AnalysisTask) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		err := tx.Model(&entities.AnalysisTask{}).
			Where("media_id = ? AND status IN ?", task.MediaID, []string{entities.TaskStatusPending, entities.TaskStatusProcessing}).
			Count(&active).Error
		if err != nil {
			return fmt.Errorf("check active tasks: %w", err)
		}
		if active > 0 {
			q.log.Debug().Str("media_id", task.MediaID).Msg("analysis task already queued")
			return nil
		}

		entity := entities.AnalysisTask{
			ID:            uuid.NewString(),
			MediaID:       task.MediaID,
			RemoteKey:     task.RemoteKey,
			ContentType:   task.ContentType,
			FileSize:      task.FileSize,
			CorrelationID: task.CorrelationID,
		}
		if err := tx.Create(&entity).Error; err != nil {
			return fmt.Errorf("enqueue task: %w", err)
		}
		return nil
	})
}

// Dequeue claims the next due task using FOR UPDATE SKIP LOCKED. The claim
// and the status flip happen in one transaction so a crashed worker leaves
// the row unlocked for the next poll.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	var entity entities.AnalysisTask

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Raw("SELECT * FROM analysis_tasks WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED",
				entities.TaskStatusPending, time.Now()).
			Scan(&entity).Error
		if err != nil {
			return fmt.Errorf("dequeue task: %w", err)
		}
		if entity.ID == "" {
			return nil // No tasks available
		}

		res := tx.Model(&entities.AnalysisTask{}).
			Where("id = ?", entity.ID).
			Updates(map[string]interface{}{
				"status":   entities.TaskStatusProcessing,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("claim task: %w", res.Error)
		}
		entity.Attempts++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entity.ID == "" {
		return nil, nil
	}

	return &Task{
		ID:            entity.ID,
		MediaID:       entity.MediaID,
		RemoteKey:     entity.RemoteKey,
		ContentType:   entity.ContentType,
		FileSize:      entity.FileSize,
		CorrelationID: entity.CorrelationID,
		Attempts:      entity.Attempts,
		ScheduledAt:   entity.ScheduledAt,
	}, nil
}

// MarkCompleted records a successful dispatch.
func (q *PostgresQueue) MarkCompleted(ctx context.Context, taskID string) error {
	result := q.db.WithContext(ctx).
		Model(&entities.AnalysisTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status": entities.TaskStatusCompleted,
		})

	if result.Error != nil {
		return fmt.Errorf("mark completed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

// Reschedule returns a failed task to the queue for a later attempt.
func (q *PostgresQueue) Reschedule(ctx context.Context, taskID string, taskErr error, nextAttempt time.Time) error {
	result := q.db.WithContext(ctx).
		Model(&entities.AnalysisTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":       entities.TaskStatusPending,
			"last_error":   taskErr.Error(),
			"scheduled_at": nextAttempt,
		})

	if result.Error != nil {
		return fmt.Errorf("reschedule task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

// MarkFailed abandons a task after its retry budget is exhausted.
func (q *PostgresQueue) MarkFailed(ctx context.Context, taskID string, taskErr error) error {
	result := q.db.WithContext(ctx).
		Model(&entities.AnalysisTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":     entities.TaskStatusFailed,
			"last_error": taskErr.Error(),
		})

	if result.Error != nil {
		return fmt.Errorf("mark failed: %w", result.Error)
	}
	return nil
}

// GetQueueDepth returns the number of tasks waiting for dispatch.
func (q *PostgresQueue) GetQueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&entities.AnalysisTask{}).
		Where("status = ?", entities.TaskStatusPending).
		Count(&count).Error

	if err != nil {
		return 0, fmt.Errorf("get queue depth: %w", err)
	}
	return count, nil
}
