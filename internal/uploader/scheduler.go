package uploader

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Scheduler admits sessions under a global concurrency cap. Admission is
// FIFO by submission order, and at most maxConcurrent sessions run an
// episode at once. All bookkeeping lives inside the run loop goroutine;
// callers communicate over channels, so the queue and the running set
// have a single writer and no shared mutable state.
type Scheduler struct {
	maxConcurrent int
	log           zerolog.Logger

	submitCh chan *Session
	removeCh chan string
	doneCh   chan string
	waitCh   chan chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler with the given concurrency cap.
func NewScheduler(maxConcurrent int, log zerolog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		log:           log.With().Str("component", "scheduler").Logger(),
		submitCh:      make(chan *Session),
		removeCh:      make(chan string),
		doneCh:        make(chan string),
		waitCh:        make(chan chan struct{}),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the admission loop. Sessions admitted after Start run
// their episodes with ctx as the parent context.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Submit queues a session for admission.
func (s *Scheduler) Submit(ctx context.Context, sess *Session) error {
	select {
	case s.submitCh <- sess:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove cancels a running session's transfer or drops it from the
// queue. A freed slot is reused only after the episode has returned, so
// the concurrency cap is never exceeded.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	select {
	case s.removeCh <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted session has finished its episode.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.waitCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop pauses every running session and shuts the admission loop down.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	var (
		queue   []*Session
		waiters []chan struct{}
	)
	running := make(map[string]*Session)

	admit := func() {
		for len(running) < s.maxConcurrent && len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			running[next.ID()] = next
			s.log.Debug().
				Str("session_id", next.ID()).
				Int("running", len(running)).
				Int("queued", len(queue)).
				Msg("session admitted")
			go func(sess *Session) {
				if err := sess.Run(ctx); err != nil {
					s.log.Warn().Err(err).Str("session_id", sess.ID()).Msg("session episode failed")
				}
				s.doneCh <- sess.ID()
			}(next)
		}
		if len(running) == 0 && len(queue) == 0 {
			for _, w := range waiters {
				close(w)
			}
			waiters = nil
		}
	}

	drain := func() {
		for _, sess := range running {
			sess.Pause()
		}
		for len(running) > 0 {
			delete(running, <-s.doneCh)
		}
		for _, w := range waiters {
			close(w)
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-s.stopCh:
			drain()
			return
		case sess := <-s.submitCh:
			queue = append(queue, sess)
			admit()
		case id := <-s.doneCh:
			delete(running, id)
			admit()
		case id := <-s.removeCh:
			for i, sess := range queue {
				if sess.ID() == id {
					queue = append(queue[:i], queue[i+1:]...)
					break
				}
			}
			if sess, ok := running[id]; ok {
				sess.Pause()
			}
			admit()
		case w := <-s.waitCh:
			if len(running) == 0 && len(queue) == 0 {
				close(w)
				continue
			}
			waiters = append(waiters, w)
		}
	}
}
