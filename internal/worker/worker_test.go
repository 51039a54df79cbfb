package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/infrastructure/queue"
)

type fakeTaskQueue struct {
	mu          sync.Mutex
	tasks       []*queue.Task
	dequeueErr  error
	completed   []string
	rescheduled []rescheduleCall
	failed      []string
}

type rescheduleCall struct {
	taskID      string
	nextAttempt time.Time
}

func (q *fakeTaskQueue) Dequeue(ctx context.Context) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	if len(q.tasks) == 0 {
		return nil, nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, nil
}

func (q *fakeTaskQueue) MarkCompleted(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, taskID)
	return nil
}

func (q *fakeTaskQueue) Reschedule(ctx context.Context, taskID string, taskErr error, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rescheduled = append(q.rescheduled, rescheduleCall{taskID, nextAttempt})
	return nil
}

func (q *fakeTaskQueue) MarkFailed(ctx context.Context, taskID string, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, taskID)
	return nil
}

func (q *fakeTaskQueue) GetQueueDepth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks)), nil
}

func (q *fakeTaskQueue) completedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.completed...)
}

func (q *fakeTaskQueue) rescheduledCalls() []rescheduleCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]rescheduleCall(nil), q.rescheduled...)
}

func (q *fakeTaskQueue) failedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.failed...)
}

type fakeNotifier struct {
	mu         sync.Mutex
	err        error
	dispatched []*queue.Task
}

func (n *fakeNotifier) Dispatch(ctx context.Context, task *queue.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, task)
	return n.err
}

func (n *fakeNotifier) dispatchCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dispatched)
}

type fakeRecords struct {
	mu     sync.Mutex
	failed map[string]error
}

func (r *fakeRecords) FailProcessing(ctx context.Context, mediaID string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = make(map[string]error)
	}
	r.failed[mediaID] = cause
	return nil
}

func (r *fakeRecords) failureFor(mediaID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[mediaID]
}

func testTask(attempts int) *queue.Task {
	return &queue.Task{
		ID:            "task-1",
		MediaID:       "jan_01hgw2k8p9x4qzv7n3m5t6r8yc",
		RemoteKey:     "uploads/owner-1/jan_01hgw2k8p9x4qzv7n3m5t6r8yc/clip.mp4",
		ContentType:   "video/mp4",
		FileSize:      2048,
		CorrelationID: "corr-1",
		Attempts:      attempts,
	}
}

func newTestWorker(q queue.TaskQueue, n Notifier, r RecordFailer) *Worker {
	cfg := Config{
		WorkerCount:  1,
		TaskTimeout:  time.Second,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
	}
	return NewWorker(1, q, n, r, cfg, zerolog.Nop())
}

func TestProcessNextTaskDelivers(t *testing.T) {
	q := &fakeTaskQueue{tasks: []*queue.Task{testTask(1)}}
	n := &fakeNotifier{}
	r := &fakeRecords{}
	w := newTestWorker(q, n, r)

	w.processNextTask(context.Background())

	if n.dispatchCount() != 1 {
		t.Fatalf("dispatched %d tasks, want 1", n.dispatchCount())
	}
	if got := q.completedIDs(); len(got) != 1 || got[0] != "task-1" {
		t.Errorf("completed = %v, want [task-1]", got)
	}
	if len(q.rescheduledCalls()) != 0 || len(q.failedIDs()) != 0 {
		t.Error("successful delivery must not reschedule or fail the task")
	}
	if r.failureFor(testTask(1).MediaID) != nil {
		t.Error("successful delivery must not fail the media record")
	}
}

func TestProcessNextTaskReschedulesFailedDelivery(t *testing.T) {
	q := &fakeTaskQueue{tasks: []*queue.Task{testTask(1)}}
	n := &fakeNotifier{err: errors.New("webhook returned status 503")}
	r := &fakeRecords{}
	w := newTestWorker(q, n, r)

	before := time.Now()
	w.processNextTask(context.Background())

	calls := q.rescheduledCalls()
	if len(calls) != 1 || calls[0].taskID != "task-1" {
		t.Fatalf("rescheduled = %v, want one call for task-1", calls)
	}
	// Backoff starts at 10s, so even with jitter the next attempt is
	// comfortably in the future.
	if !calls[0].nextAttempt.After(before.Add(5 * time.Second)) {
		t.Errorf("next attempt %v is not paced out", calls[0].nextAttempt)
	}
	if len(q.completedIDs()) != 0 || len(q.failedIDs()) != 0 {
		t.Error("rescheduled task must stay pending")
	}
	if r.failureFor(testTask(1).MediaID) != nil {
		t.Error("record must not fail while retries remain")
	}
}

func TestProcessNextTaskAbandonsAfterRetryBudget(t *testing.T) {
	task := testTask(3)
	q := &fakeTaskQueue{tasks: []*queue.Task{task}}
	dispatchErr := errors.New("webhook returned status 500")
	n := &fakeNotifier{err: dispatchErr}
	r := &fakeRecords{}
	w := newTestWorker(q, n, r)

	w.processNextTask(context.Background())

	if got := q.failedIDs(); len(got) != 1 || got[0] != "task-1" {
		t.Fatalf("failed = %v, want [task-1]", got)
	}
	if len(q.rescheduledCalls()) != 0 {
		t.Error("exhausted task must not be rescheduled")
	}
	if got := r.failureFor(task.MediaID); !errors.Is(got, dispatchErr) {
		t.Errorf("record failure cause = %v, want the dispatch error", got)
	}
}

func TestProcessNextTaskEmptyQueue(t *testing.T) {
	q := &fakeTaskQueue{}
	n := &fakeNotifier{}
	w := newTestWorker(q, n, &fakeRecords{})

	w.processNextTask(context.Background())

	if n.dispatchCount() != 0 {
		t.Errorf("dispatched %d tasks from an empty queue", n.dispatchCount())
	}
}

func TestProcessNextTaskDequeueError(t *testing.T) {
	q := &fakeTaskQueue{dequeueErr: errors.New("connection refused")}
	n := &fakeNotifier{}
	w := newTestWorker(q, n, &fakeRecords{})

	w.processNextTask(context.Background())

	if n.dispatchCount() != 0 {
		t.Error("dequeue failure must not dispatch anything")
	}
}

func TestPoolDeliversAndStops(t *testing.T) {
	q := &fakeTaskQueue{tasks: []*queue.Task{testTask(1)}}
	n := &fakeNotifier{}
	pool := NewPool(q, n, &fakeRecords{}, Config{
		WorkerCount:  2,
		TaskTimeout:  time.Second,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(q.completedIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task was not delivered before the deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := q.completedIDs(); len(got) != 1 {
		t.Errorf("completed = %v, want exactly one delivery", got)
	}
}

func TestHTTPNotifierPostsTrigger(t *testing.T) {
	var mu sync.Mutex
	var gotPayload TriggerPayload
	var gotEvent, gotMediaID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEvent = r.Header.Get("X-Jan-Event")
		gotMediaID = r.Header.Get("X-Jan-Media-ID")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, time.Second, zerolog.Nop())
	task := testTask(1)
	if err := n.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != "media.uploaded" || gotMediaID != task.MediaID {
		t.Errorf("headers = %q %q", gotEvent, gotMediaID)
	}
	if gotPayload.MediaID != task.MediaID ||
		gotPayload.RemoteKey != task.RemoteKey ||
		gotPayload.ContentType != task.ContentType ||
		gotPayload.FileSize != task.FileSize ||
		gotPayload.CorrelationID != task.CorrelationID ||
		gotPayload.Event != "media.uploaded" {
		t.Errorf("payload = %+v does not describe the task", gotPayload)
	}
}

func TestHTTPNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pipeline overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, time.Second, zerolog.Nop())
	err := n.Dispatch(context.Background(), testTask(1))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected a status error, got %v", err)
	}
}

func TestHTTPNotifierRequiresURL(t *testing.T) {
	n := NewHTTPNotifier("", time.Second, zerolog.Nop())
	if err := n.Dispatch(context.Background(), testTask(1)); err == nil {
		t.Fatal("expected an error when no webhook is configured")
	}
}
