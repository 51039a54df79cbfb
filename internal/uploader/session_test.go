package uploader_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/upload"
	"jan-server/services/upload-api/internal/uploader"
)

// fakeCoordinator scripts the server side of a session without HTTP.
type fakeCoordinator struct {
	mu        sync.Mutex
	ticket    *uploader.Ticket
	outcome   *uploader.Outcome
	initErr   error
	finalErr  error
	freshURL  func(partNumber int) string
	initiates int
	reissues  map[int]int
	finalized [][]uploader.PartETag
	aborts    int
}

func (f *fakeCoordinator) Initiate(ctx context.Context, file uploader.FileInfo, chunkSize int64, idempotencyKey string) (*uploader.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiates++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f.ticket, nil
}

func (f *fakeCoordinator) PartURL(ctx context.Context, mediaID string, partNumber int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reissues == nil {
		f.reissues = make(map[int]int)
	}
	f.reissues[partNumber]++
	if f.freshURL == nil {
		return "", fmt.Errorf("no fresh url configured")
	}
	return f.freshURL(partNumber), nil
}

func (f *fakeCoordinator) Finalize(ctx context.Context, mediaID, sessionToken string, parts []uploader.PartETag) (*uploader.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, parts)
	if f.finalErr != nil {
		return nil, f.finalErr
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &uploader.Outcome{Status: "processing", TriggerRef: "corr-1"}, nil
}

func (f *fakeCoordinator) Abort(ctx context.Context, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return nil
}

func (f *fakeCoordinator) reissueCount(part int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reissues[part]
}

func (f *fakeCoordinator) finalizeCalls() [][]uploader.PartETag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]uploader.PartETag(nil), f.finalized...)
}

// putRecorder counts PUTs per path on the fake storage server.
type putRecorder struct {
	mu   sync.Mutex
	puts map[string]int
	body map[string]string
}

func newPutRecorder() *putRecorder {
	return &putRecorder{puts: make(map[string]int), body: make(map[string]string)}
}

func (p *putRecorder) record(path, body string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts[path]++
	p.body[path] = body
	return p.puts[path]
}

func (p *putRecorder) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.puts[path]
}

func (p *putRecorder) payload(path string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body[path]
}

// okStorage answers every PUT with a per-path etag.
func okStorage(rec *putRecorder) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.record(r.URL.Path, string(body))
		w.Header().Set("ETag", `"etag`+r.URL.Path+`"`)
		w.WriteHeader(http.StatusOK)
	}))
}

func testDeps(coord uploader.Coordinator) uploader.Deps {
	return uploader.Deps{
		Coordinator: coord,
		Executor:    uploader.NewExecutor(testPolicy(1), 0, zerolog.Nop()),
		Planner:     upload.NewPlanner(8, 5, 100),
		Log:         zerolog.Nop(),
	}
}

func multipartTicket(base string, parts int) *uploader.Ticket {
	urls := make(map[int]string, parts)
	for i := 1; i <= parts; i++ {
		urls[i] = fmt.Sprintf("%s/p%d", base, i)
	}
	return &uploader.Ticket{
		MediaID:      "jan_media1",
		SessionToken: "mp-token",
		PartURLs:     urls,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestSessionSimpleUploadCompletes(t *testing.T) {
	rec := newPutRecorder()
	storage := okStorage(rec)
	defer storage.Close()

	coord := &fakeCoordinator{ticket: &uploader.Ticket{
		MediaID:   "jan_media1",
		UploadURL: storage.URL + "/simple",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := sess.State(); got != upload.StateCompleted {
		t.Errorf("state = %s, want completed", got)
	}
	if got := sess.ProgressBytes(); got != 4 {
		t.Errorf("progress = %d, want 4", got)
	}
	if got := sess.MediaID(); got != "jan_media1" {
		t.Errorf("media id = %q", got)
	}
	if got := rec.payload("/simple"); got != "demo" {
		t.Errorf("stored payload = %q", got)
	}

	calls := coord.finalizeCalls()
	if len(calls) != 1 {
		t.Fatalf("finalize calls = %d, want 1", len(calls))
	}
	if len(calls[0]) != 0 {
		t.Errorf("simple finalize sent %d part etags, want none", len(calls[0]))
	}
	snap := sess.Snapshot()
	if snap.Outcome == nil || snap.Outcome.Status != "processing" {
		t.Errorf("outcome = %+v", snap.Outcome)
	}
}

func TestSessionMultipartUploadsEveryPart(t *testing.T) {
	rec := newPutRecorder()
	storage := okStorage(rec)
	defer storage.Close()

	payload := "abcdefghijklmnopqrst" // 20 bytes -> parts of 8, 8, 4
	coord := &fakeCoordinator{ticket: multipartTicket(storage.URL, 3)}
	sess := uploader.NewSession(uploader.FileInfo{Name: "movie.mp4", Size: 20, ContentType: "video/mp4"},
		strings.NewReader(payload), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := sess.State(); got != upload.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	if got := sess.ProgressBytes(); got != 20 {
		t.Errorf("progress = %d, want 20", got)
	}
	wantBodies := map[string]string{"/p1": "abcdefgh", "/p2": "ijklmnop", "/p3": "qrst"}
	for path, want := range wantBodies {
		if rec.count(path) != 1 {
			t.Errorf("%s PUT count = %d, want 1", path, rec.count(path))
		}
		if got := rec.payload(path); got != want {
			t.Errorf("%s payload = %q, want %q", path, got, want)
		}
	}

	calls := coord.finalizeCalls()
	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("finalize calls = %+v, want one call with 3 parts", calls)
	}
	for i, part := range calls[0] {
		if part.PartNumber != i+1 {
			t.Errorf("part %d out of order: %+v", i, part)
		}
		if part.ETag == "" {
			t.Errorf("part %d missing etag", part.PartNumber)
		}
	}
}

func TestSessionPausePreservesUploadedParts(t *testing.T) {
	rec := newPutRecorder()
	entered := make(chan struct{})
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := rec.record(r.URL.Path, string(body))
		if r.URL.Path == "/p2" && n == 1 {
			close(entered)
			<-r.Context().Done()
			return
		}
		w.Header().Set("ETag", `"etag`+r.URL.Path+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	coord := &fakeCoordinator{ticket: multipartTicket(storage.URL, 3)}
	sess := uploader.NewSession(uploader.FileInfo{Name: "movie.mp4", Size: 20, ContentType: "video/mp4"},
		strings.NewReader("abcdefghijklmnopqrst"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(context.Background()) }()

	<-entered
	sess.Pause()
	if err := <-runDone; err != nil {
		t.Fatalf("paused Run returned error: %v", err)
	}

	if got := sess.State(); got != upload.StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}
	if got := sess.ProgressBytes(); got < 8 {
		t.Errorf("progress after pause = %d, want at least the committed first part", got)
	}
	if len(coord.finalizeCalls()) != 0 {
		t.Error("finalize must not run for a paused session")
	}

	// Resume: only the outstanding parts transfer again.
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if got := sess.State(); got != upload.StateCompleted {
		t.Fatalf("state after resume = %s, want completed", got)
	}
	if got := rec.count("/p1"); got != 1 {
		t.Errorf("/p1 PUT count = %d, resume must skip uploaded parts", got)
	}
	if got := sess.ProgressBytes(); got != 20 {
		t.Errorf("progress after resume = %d, want 20", got)
	}
	if coord.initiates != 1 {
		t.Errorf("initiate calls = %d, resume must reuse the ticket", coord.initiates)
	}
}

func TestSessionRetryAfterErrorSkipsUploadedParts(t *testing.T) {
	rec := newPutRecorder()
	var healthy sync.Map
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.record(r.URL.Path, string(body))
		if _, ok := healthy.Load("ok"); !ok && r.URL.Path == "/p2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", `"etag`+r.URL.Path+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	coord := &fakeCoordinator{ticket: multipartTicket(storage.URL, 3)}
	sess := uploader.NewSession(uploader.FileInfo{Name: "movie.mp4", Size: 20, ContentType: "video/mp4"},
		strings.NewReader("abcdefghijklmnopqrst"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	err := sess.Run(context.Background())
	if !upload.IsCode(err, upload.CodeTransientTransfer) {
		t.Fatalf("Run err = %v, want %s", err, upload.CodeTransientTransfer)
	}
	if got := sess.State(); got != upload.StateError {
		t.Fatalf("state = %s, want error", got)
	}
	snap := sess.Snapshot()
	if snap.Error == nil || snap.Error.Code != upload.CodeTransientTransfer {
		t.Errorf("snapshot error = %+v", snap.Error)
	}

	healthy.Store("ok", true)
	if err := sess.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got := sess.State(); got != upload.StatePending {
		t.Fatalf("state after Retry = %s, want pending", got)
	}
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if got := sess.State(); got != upload.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	if got := rec.count("/p1"); got != 1 {
		t.Errorf("/p1 PUT count = %d, retry must not re-send uploaded parts", got)
	}
}

func TestSessionExpiredURLReissuedForPartOnly(t *testing.T) {
	rec := newPutRecorder()
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.record(r.URL.Path, string(body))
		if strings.HasPrefix(r.URL.Path, "/stale") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("ETag", `"etag`+r.URL.Path+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	coord := &fakeCoordinator{
		ticket: &uploader.Ticket{
			MediaID:   "jan_media1",
			UploadURL: storage.URL + "/stale",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		freshURL: func(partNumber int) string {
			return fmt.Sprintf("%s/fresh%d", storage.URL, partNumber)
		},
	}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rec.count("/stale"); got != 1 {
		t.Errorf("stale URL PUT count = %d, a rejected URL must not be retried", got)
	}
	if got := coord.reissueCount(1); got != 1 {
		t.Errorf("reissue count = %d, want 1", got)
	}
	if got := rec.payload("/fresh1"); got != "demo" {
		t.Errorf("fresh URL payload = %q", got)
	}
}

func TestSessionSkipsCachedURLsPastExpiry(t *testing.T) {
	rec := newPutRecorder()
	storage := okStorage(rec)
	defer storage.Close()

	coord := &fakeCoordinator{
		ticket: &uploader.Ticket{
			MediaID:   "jan_media1",
			UploadURL: storage.URL + "/cached",
			ExpiresAt: time.Now().Add(-time.Minute),
		},
		freshURL: func(partNumber int) string {
			return fmt.Sprintf("%s/fresh%d", storage.URL, partNumber)
		},
	}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.count("/cached"); got != 0 {
		t.Errorf("cached URL used %d times after its expiry", got)
	}
	if got := rec.count("/fresh1"); got != 1 {
		t.Errorf("fresh URL PUT count = %d, want 1", got)
	}
}

func TestSessionInitiateFailure(t *testing.T) {
	coord := &fakeCoordinator{initErr: upload.NewValidation("content type not allowed")}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.exe", Size: 4, ContentType: "application/x-msdownload"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	err := sess.Run(context.Background())
	if !upload.IsCode(err, upload.CodeValidation) {
		t.Fatalf("Run err = %v, want %s", err, upload.CodeValidation)
	}
	if got := sess.State(); got != upload.StateError {
		t.Errorf("state = %s, want error", got)
	}
	if len(coord.finalizeCalls()) != 0 {
		t.Error("finalize must not run after a failed initiate")
	}
}

func TestSessionFinalizeRejectionLandsInError(t *testing.T) {
	rec := newPutRecorder()
	storage := okStorage(rec)
	defer storage.Close()

	coord := &fakeCoordinator{
		ticket: &uploader.Ticket{
			MediaID:   "jan_media1",
			UploadURL: storage.URL + "/simple",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		finalErr: upload.NewError(upload.CodeSizeMismatch, "stored object size does not match", upload.SeverityFatal),
	}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	err := sess.Run(context.Background())
	if !upload.IsCode(err, upload.CodeSizeMismatch) {
		t.Fatalf("Run err = %v, want %s", err, upload.CodeSizeMismatch)
	}
	if got := sess.State(); got != upload.StateError {
		t.Errorf("state = %s, want error", got)
	}
}

func TestSessionProgressNeverDecreases(t *testing.T) {
	rec := newPutRecorder()
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := rec.record(r.URL.Path, string(body))
		if r.URL.Path == "/p2" && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("ETag", `"etag`+r.URL.Path+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer storage.Close()

	var snaps []uploader.Snapshot
	coord := &fakeCoordinator{ticket: multipartTicket(storage.URL, 3)}
	sess := uploader.NewSession(uploader.FileInfo{Name: "movie.mp4", Size: 20, ContentType: "video/mp4"},
		strings.NewReader("abcdefghijklmnopqrst"), testDeps(coord), uploader.SessionConfig{
			ChunkSize:  8,
			OnProgress: func(s uploader.Snapshot) { snaps = append(snaps, s) },
		})

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(snaps) == 0 {
		t.Fatal("expected progress snapshots")
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].ProgressBytes < snaps[i-1].ProgressBytes {
			t.Fatalf("progress decreased from %d to %d at snapshot %d",
				snaps[i-1].ProgressBytes, snaps[i].ProgressBytes, i)
		}
	}
	final := snaps[len(snaps)-1]
	if final.ProgressBytes != 20 || final.State != upload.StateCompleted {
		t.Errorf("final snapshot = %+v", final)
	}
}

func TestSessionPauseBeforeRunIsNoop(t *testing.T) {
	coord := &fakeCoordinator{}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	sess.Pause()
	if got := sess.State(); got != upload.StatePending {
		t.Errorf("state = %s, pause before run must not change it", got)
	}
}

func TestSessionAbortCleansUpRemoteSession(t *testing.T) {
	rec := newPutRecorder()
	storage := okStorage(rec)
	defer storage.Close()

	coord := &fakeCoordinator{ticket: &uploader.Ticket{
		MediaID:   "jan_media1",
		UploadURL: storage.URL + "/simple",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	sess := uploader.NewSession(uploader.FileInfo{Name: "clip.mp4", Size: 4, ContentType: "video/mp4"},
		strings.NewReader("demo"), testDeps(coord), uploader.SessionConfig{ChunkSize: 8})

	// Abort before initiate has nothing to clean up.
	sess.Abort(context.Background())
	if coord.aborts != 0 {
		t.Errorf("aborts = %d before any ticket exists", coord.aborts)
	}

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sess.Abort(context.Background())
	if coord.aborts != 1 {
		t.Errorf("aborts = %d, want 1", coord.aborts)
	}
}
