package queue

import (
	"context"
	"time"
)

// Task represents one queued analysis handoff ready for dispatch.
type Task struct {
	ID            string
	MediaID       string
	RemoteKey     string
	ContentType   string
	FileSize      int64
	CorrelationID string
	Attempts      int
	ScheduledAt   time.Time
}

// TaskQueue defines the worker-side queue operations. Claiming happens
// inside Dequeue so two workers never dispatch the same task.
type TaskQueue interface {
	// Dequeue claims the next due task using SELECT FOR UPDATE SKIP LOCKED
	Dequeue(ctx context.Context) (*Task, error)

	// MarkCompleted records a successful dispatch
	MarkCompleted(ctx context.Context, taskID string) error

	// Reschedule returns a failed task to the queue for a later attempt
	Reschedule(ctx context.Context, taskID string, taskErr error, nextAttempt time.Time) error

	// MarkFailed abandons a task after its retry budget is exhausted
	MarkFailed(ctx context.Context, taskID string, taskErr error) error

	// GetQueueDepth returns the number of tasks waiting for dispatch
	GetQueueDepth(ctx context.Context) (int64, error)
}
