package uploader

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/upload"
)

// FileInfo identifies one local file offered for upload.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
}

// PartETag pairs an uploaded part number with its integrity token for the
// finalize call.
type PartETag struct {
	PartNumber int
	ETag       string
}

// Ticket is the coordinator's answer to initiate: the media identity plus
// the presigned write credentials for this session.
type Ticket struct {
	MediaID      string
	SessionToken string
	UploadURL    string
	PartURLs     map[int]string
	ExpiresAt    time.Time
}

// Outcome reports the coordinator's finalize verdict.
type Outcome struct {
	Status     string
	TriggerRef string
}

// Coordinator is the server side collaborator a session talks to. The
// resty implementation lives in the coordclient package.
type Coordinator interface {
	Initiate(ctx context.Context, file FileInfo, chunkSize int64, idempotencyKey string) (*Ticket, error)
	PartURL(ctx context.Context, mediaID string, partNumber int) (string, error)
	Finalize(ctx context.Context, mediaID, sessionToken string, parts []PartETag) (*Outcome, error)
	Abort(ctx context.Context, mediaID string) error
}

// Deps are the shared collaborators every session uses.
type Deps struct {
	Coordinator Coordinator
	Executor    *Executor
	Planner     *upload.Planner
	Log         zerolog.Logger
}

// SessionConfig tunes one session.
type SessionConfig struct {
	// ChunkSize is sent to the coordinator and used for local planning, so
	// both sides derive the identical part layout.
	ChunkSize int64
	// OnProgress, when set, observes every state or progress change. It
	// runs on the session's goroutine and must not call back into the
	// session.
	OnProgress func(Snapshot)
}

// Snapshot is a point-in-time view of a session for display and tests.
type Snapshot struct {
	ID            string
	FileName      string
	TotalSize     int64
	State         upload.State
	ProgressBytes int64
	MediaID       string
	Error         *upload.Error
	Outcome       *Outcome
}

// Session drives one file through the upload state machine: plan the
// parts, transfer whatever is still outstanding, finalize, and surface
// the coordinator's verdict. A session has a single writer: only the
// goroutine running an episode mutates the plan and progress, and every
// shared read goes through the mutex. Uploaded parts survive pause,
// errors, and process restarts within the same session object, so a
// resumed episode re-sends only the remainder.
type Session struct {
	mu sync.Mutex

	id             string
	file           FileInfo
	source         io.ReaderAt
	idempotencyKey string
	chunkSize      int64

	state   upload.State
	plan    *upload.Plan
	ticket  *Ticket
	display int64
	lastErr *upload.Error
	outcome *Outcome

	cancelEpisode context.CancelFunc

	coordinator Coordinator
	executor    *Executor
	planner     *upload.Planner
	onProgress  func(Snapshot)
	log         zerolog.Logger
}

// NewSession creates a pending session for one file. The source must
// support concurrent range reads so retried parts can re-stream.
func NewSession(file FileInfo, source io.ReaderAt, deps Deps, cfg SessionConfig) *Session {
	return &Session{
		id:             uuid.NewString(),
		file:           file,
		source:         source,
		idempotencyKey: uuid.NewString(),
		chunkSize:      cfg.ChunkSize,
		state:          upload.StatePending,
		coordinator:    deps.Coordinator,
		executor:       deps.Executor,
		planner:        deps.Planner,
		onProgress:     cfg.OnProgress,
		log:            deps.Log.With().Str("component", "session").Str("file", file.Name).Logger(),
	}
}

// ID returns the client-local session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() upload.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProgressBytes returns the monotonic progress high-water mark.
func (s *Session) ProgressBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// MediaID returns the server-assigned media id, if initiate has run.
func (s *Session) MediaID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticket == nil {
		return ""
	}
	return s.ticket.MediaID
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Run executes one upload episode: ensure a ticket and plan, transfer the
// outstanding parts, finalize, and record the verdict. It blocks until
// the session completes, pauses, or errors. Pause and cancellation end
// the episode with a nil error; failures land the session in the error
// state and return the structured cause.
func (s *Session) Run(ctx context.Context) error {
	episode, err := s.beginEpisode(ctx)
	if err != nil {
		return err
	}
	defer s.endEpisode()

	if err := s.ensureTicket(episode); err != nil {
		return s.settle(err)
	}
	if err := s.transferParts(episode); err != nil {
		return s.settle(err)
	}
	return s.finalize(episode)
}

// Pause asks the running episode to stop at the next checkpoint. Uploaded
// parts and the multipart token are preserved for resume.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != upload.StateUploading || s.cancelEpisode == nil {
		return
	}
	s.cancelEpisode()
}

// Retry clears the error and re-arms the session for another episode.
// Uploaded parts keep their etags so only the remainder is re-sent.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.TransitionTo(upload.StatePending)
	if err != nil {
		return err
	}
	s.state = next
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// Abort cancels any running episode and asks the coordinator to clean up
// the remote multipart session. Cleanup failures are logged, never
// surfaced: this is housekeeping, not a correctness requirement.
func (s *Session) Abort(ctx context.Context) {
	s.mu.Lock()
	if s.cancelEpisode != nil {
		s.cancelEpisode()
	}
	ticket := s.ticket
	s.mu.Unlock()

	if ticket == nil {
		return
	}
	if err := s.coordinator.Abort(ctx, ticket.MediaID); err != nil {
		s.log.Warn().Err(err).Str("media_id", ticket.MediaID).Msg("abort cleanup failed")
	}
}

func (s *Session) beginEpisode(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.TransitionTo(upload.StateUploading)
	if err != nil {
		return nil, upload.WrapError(err, upload.CodeValidation, "session cannot start", upload.SeverityFatal)
	}
	s.state = next
	episode, cancel := context.WithCancel(ctx)
	s.cancelEpisode = cancel
	s.notifyLocked()
	return episode, nil
}

func (s *Session) endEpisode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelEpisode != nil {
		s.cancelEpisode()
		s.cancelEpisode = nil
	}
}

func (s *Session) ensureTicket(ctx context.Context) error {
	s.mu.Lock()
	ticket := s.ticket
	s.mu.Unlock()
	if ticket != nil {
		return nil
	}

	ticket, err := s.coordinator.Initiate(ctx, s.file, s.chunkSize, s.idempotencyKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ticket = ticket
	s.mu.Unlock()
	s.log.Info().Str("media_id", ticket.MediaID).Msg("upload session initiated")
	return nil
}

func (s *Session) transferParts(ctx context.Context) error {
	s.mu.Lock()
	if s.plan == nil {
		plan, err := s.planner.Plan(s.file.Size, s.chunkSize)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.plan = plan
	}
	remaining := s.plan.Remaining()
	s.mu.Unlock()

	for _, part := range remaining {
		if err := s.transferPart(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// transferPart moves one byte range. An expired URL is replaced through
// the coordinator and the part retried, without burning the transient
// retry budget inside the executor.
func (s *Session) transferPart(ctx context.Context, part upload.Part) error {
	url, err := s.partURL(ctx, part.Number)
	if err != nil {
		return err
	}

	open := func() (io.Reader, error) {
		return io.NewSectionReader(s.source, part.Start, part.Size()), nil
	}
	base := s.committedBytes()
	report := func(attemptBytes int64) {
		s.observeTransfer(base + attemptBytes)
	}

	for reissues := 0; ; reissues++ {
		etag, err := s.executor.Transfer(ctx, url, s.file.ContentType, part.Size(), open, report)
		if err == nil {
			return s.markUploaded(part.Number, etag)
		}
		uerr := upload.Classify(err)
		if uerr.Severity != upload.SeverityReissue || reissues >= s.executor.policy.MaxRetries {
			return uerr
		}
		s.log.Info().Int("part", part.Number).Msg("presigned url expired, requesting a fresh one")
		url, err = s.freshPartURL(ctx, part.Number)
		if err != nil {
			return err
		}
	}
}

func (s *Session) partURL(ctx context.Context, partNumber int) (string, error) {
	s.mu.Lock()
	ticket := s.ticket
	mode := s.plan.Mode
	s.mu.Unlock()

	expired := !ticket.ExpiresAt.IsZero() && time.Now().After(ticket.ExpiresAt)
	if mode == upload.ModeSimple {
		if ticket.UploadURL != "" && !expired {
			return ticket.UploadURL, nil
		}
		return s.freshPartURL(ctx, partNumber)
	}
	if url, ok := ticket.PartURLs[partNumber]; ok && !expired {
		return url, nil
	}
	return s.freshPartURL(ctx, partNumber)
}

func (s *Session) freshPartURL(ctx context.Context, partNumber int) (string, error) {
	s.mu.Lock()
	mediaID := s.ticket.MediaID
	s.mu.Unlock()

	url, err := s.coordinator.PartURL(ctx, mediaID, partNumber)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (s *Session) finalize(ctx context.Context) error {
	s.mu.Lock()
	if !s.plan.Complete() {
		s.mu.Unlock()
		return s.settle(upload.NewValidation("finalize requires every part uploaded"))
	}
	next, err := s.state.TransitionTo(upload.StateValidating)
	if err != nil {
		s.mu.Unlock()
		return s.settle(upload.WrapError(err, upload.CodeValidation, "session cannot finalize", upload.SeverityFatal))
	}
	s.state = next
	ticket := s.ticket
	var parts []PartETag
	if s.plan.Mode == upload.ModeMultipart {
		parts = make([]PartETag, 0, len(s.plan.Parts))
		for _, p := range s.plan.Parts {
			parts = append(parts, PartETag{PartNumber: p.Number, ETag: p.ETag})
		}
	}
	s.notifyLocked()
	s.mu.Unlock()

	outcome, err := s.coordinator.Finalize(ctx, ticket.MediaID, ticket.SessionToken, parts)
	if err != nil {
		return s.settle(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = outcome
	if next, terr := s.state.TransitionTo(upload.StateCompleted); terr == nil {
		s.state = next
	}
	s.notifyLocked()
	s.log.Info().
		Str("media_id", ticket.MediaID).
		Str("status", outcome.Status).
		Int64("bytes", s.display).
		Msg("upload completed")
	return nil
}

// settle ends an episode after a failure. Cancellation while uploading
// becomes a pause with progress preserved; anything else moves the
// session to the error state with the structured cause attached.
func (s *Session) settle(err error) error {
	uerr := upload.Classify(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if uerr.Code == upload.CodeCancelled {
		if next, terr := s.state.TransitionTo(upload.StatePaused); terr == nil {
			s.state = next
			s.notifyLocked()
			s.log.Info().Int64("bytes", s.display).Msg("upload paused")
			return nil
		}
	}

	if next, terr := s.state.TransitionTo(upload.StateError); terr == nil {
		s.state = next
	}
	s.lastErr = uerr
	s.notifyLocked()
	s.log.Error().Err(uerr).Str("code", uerr.Code).Msg("upload session failed")
	return uerr
}

func (s *Session) committedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return 0
	}
	return s.plan.UploadedBytes()
}

// observeTransfer folds in-flight attempt bytes into the progress
// high-water mark. The mark never decreases and never exceeds the file
// size, so a retried attempt restarting at zero is invisible to callers.
func (s *Session) observeTransfer(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes > s.file.Size {
		bytes = s.file.Size
	}
	if bytes <= s.display {
		return
	}
	s.display = bytes
	s.notifyLocked()
}

func (s *Session) markUploaded(number int, etag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.plan.MarkUploaded(number, etag); err != nil {
		return err
	}
	if committed := s.plan.UploadedBytes(); committed > s.display {
		s.display = committed
	}
	s.notifyLocked()
	s.log.Debug().Int("part", number).Int64("bytes", s.display).Msg("part uploaded")
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		FileName:      s.file.Name,
		TotalSize:     s.file.Size,
		State:         s.state,
		ProgressBytes: s.display,
		Error:         s.lastErr,
		Outcome:       s.outcome,
	}
	if s.ticket != nil {
		snap.MediaID = s.ticket.MediaID
	}
	return snap
}

func (s *Session) notifyLocked() {
	if s.onProgress == nil {
		return
	}
	s.onProgress(s.snapshotLocked())
}
