package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/upload"
	"jan-server/services/upload-api/internal/infrastructure/metrics"
	"jan-server/services/upload-api/internal/infrastructure/queue"
)

// RecordFailer marks media records failed when their analysis trigger is
// abandoned.
type RecordFailer interface {
	FailProcessing(ctx context.Context, mediaID string, cause error) error
}

// dispatchBackoff paces redelivery of failed triggers. The queue stores the
// next attempt time, so the delay survives restarts.
var dispatchBackoff = upload.RetryPolicy{
	InitialDelay:    10 * time.Second,
	MaxDelay:        10 * time.Minute,
	BackoffStrategy: upload.BackoffExponential,
	JitterFactor:    0.2,
}

// Worker dispatches queued analysis triggers.
type Worker struct {
	id           int
	queue        queue.TaskQueue
	notifier     Notifier
	records      RecordFailer
	maxAttempts  int
	taskTimeout  time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
	stopChan     chan struct{}
}

// NewWorker creates a new dispatch worker.
func NewWorker(
	id int,
	taskQueue queue.TaskQueue,
	notifier Notifier,
	records RecordFailer,
	cfg Config,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		id:           id,
		queue:        taskQueue,
		notifier:     notifier,
		records:      records,
		maxAttempts:  cfg.MaxAttempts,
		taskTimeout:  cfg.TaskTimeout,
		pollInterval: cfg.PollInterval,
		log:          log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan:     make(chan struct{}),
	}
}

// Start begins dispatching tasks from the queue.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped by context")
			return
		case <-w.stopChan:
			w.log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			w.processNextTask(ctx)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) processNextTask(ctx context.Context) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to dequeue task")
		return
	}
	if task == nil {
		// No tasks available
		return
	}

	w.log.Info().
		Str("task_id", task.ID).
		Str("media_id", task.MediaID).
		Int("attempt", task.Attempts).
		Msg("dispatching analysis trigger")

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	if err := w.notifier.Dispatch(taskCtx, task); err != nil {
		w.handleDispatchFailure(ctx, task, err)
		return
	}

	metrics.RecordAnalysisDispatch("delivered")
	if err := w.queue.MarkCompleted(ctx, task.ID); err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task completed")
	}
}

func (w *Worker) handleDispatchFailure(ctx context.Context, task *queue.Task, dispatchErr error) {
	if task.Attempts < w.maxAttempts {
		metrics.RecordAnalysisDispatch("retried")
		nextAttempt := time.Now().Add(dispatchBackoff.CalculateDelay(task.Attempts))
		w.log.Warn().
			Err(dispatchErr).
			Str("task_id", task.ID).
			Int("attempt", task.Attempts).
			Time("next_attempt", nextAttempt).
			Msg("analysis trigger delivery failed, rescheduling")
		if err := w.queue.Reschedule(ctx, task.ID, dispatchErr, nextAttempt); err != nil {
			w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to reschedule task")
		}
		return
	}

	metrics.RecordAnalysisDispatch("abandoned")
	w.log.Error().
		Err(dispatchErr).
		Str("task_id", task.ID).
		Str("media_id", task.MediaID).
		Int("attempt", task.Attempts).
		Msg("analysis trigger abandoned after retry budget")

	if err := w.queue.MarkFailed(ctx, task.ID, dispatchErr); err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task failed")
	}
	if err := w.records.FailProcessing(ctx, task.MediaID, dispatchErr); err != nil {
		w.log.Error().Err(err).Str("media_id", task.MediaID).Msg("failed to fail media record")
	}
}
