package uploader

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/upload"
)

// OpenPayload returns a fresh reader over the byte range of one transfer.
// The executor opens the payload once per attempt so a retry re-streams
// the range from the start instead of resuming a half-drained reader.
type OpenPayload func() (io.Reader, error)

// Executor performs a single presigned PUT per Transfer call, retrying
// transient failures with backoff. It holds no session state: outcomes
// are returned to the caller, which owns all bookkeeping.
type Executor struct {
	client   *http.Client
	policy   upload.RetryPolicy
	interval time.Duration
	log      zerolog.Logger
}

// NewExecutor creates a transfer executor with the given retry policy and
// progress reporting interval.
func NewExecutor(policy upload.RetryPolicy, progressInterval time.Duration, log zerolog.Logger) *Executor {
	return &Executor{
		client:   &http.Client{},
		policy:   policy,
		interval: progressInterval,
		log:      log.With().Str("component", "executor").Logger(),
	}
}

// Transfer streams size bytes from open to the presigned writeURL and
// returns the integrity token from the storage response. Transient
// failures (network errors, 5xx, 429) are retried with backoff up to the
// policy limit. Cancellation aborts at the next checkpoint and is never
// retried. A 403 surfaces as URL_EXPIRED without further attempts so the
// caller can fetch a fresh URL for the affected part only.
func (e *Executor) Transfer(ctx context.Context, writeURL, contentType string, size int64, open OpenPayload, onProgress ProgressFunc) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", upload.NewCancelled(err)
		}

		etag, err := e.put(ctx, writeURL, contentType, size, open, onProgress)
		if err == nil {
			return etag, nil
		}

		uerr := upload.Classify(err)
		if !uerr.IsRetryable() || attempt >= e.policy.MaxRetries {
			return "", uerr
		}

		e.log.Warn().
			Err(uerr).
			Int("attempt", attempt+1).
			Int64("size", size).
			Msg("transfer attempt failed, backing off")
		if werr := e.policy.Wait(ctx, attempt+1); werr != nil {
			return "", upload.NewCancelled(werr)
		}
	}
}

func (e *Executor) put(ctx context.Context, writeURL, contentType string, size int64, open OpenPayload, onProgress ProgressFunc) (string, error) {
	payload, err := open()
	if err != nil {
		return "", upload.WrapError(err, upload.CodeValidation, "open transfer payload", upload.SeverityFatal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, writeURL, newProgressReader(payload, e.interval, onProgress))
	if err != nil {
		return "", upload.WrapError(err, upload.CodeValidation, "build storage request", upload.SeverityFatal)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		uerr := upload.ClassifyStatus(resp.StatusCode)
		if len(detail) > 0 {
			uerr = uerr.WithDetail("response", strings.TrimSpace(string(detail)))
		}
		return "", uerr
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", upload.NewError(upload.CodeMissingIntegrityToken, "storage response did not include an etag", upload.SeverityFatal)
	}
	return etag, nil
}
