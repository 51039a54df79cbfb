package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/infrastructure/queue"
)

// TriggerPayload is the analysis trigger delivered downstream for one
// verified upload.
type TriggerPayload struct {
	MediaID       string `json:"mediaId"`
	RemoteKey     string `json:"remoteKey"`
	ContentType   string `json:"contentType"`
	FileSize      int64  `json:"fileSize"`
	CorrelationID string `json:"correlationId"`
	Event         string `json:"event"`
}

// Notifier delivers analysis triggers to the downstream pipeline.
type Notifier interface {
	Dispatch(ctx context.Context, task *queue.Task) error
}

// HTTPNotifier posts triggers to the configured analysis webhook.
type HTTPNotifier struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

func NewHTTPNotifier(webhookURL string, timeout time.Duration, log zerolog.Logger) *HTTPNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "jan-upload-api/1.0")
	return &HTTPNotifier{
		client: client,
		url:    webhookURL,
		log:    log.With().Str("component", "analysis-notifier").Logger(),
	}
}

// Dispatch performs a single delivery attempt. Retry pacing lives in the
// queue scheduler, not here.
func (n *HTTPNotifier) Dispatch(ctx context.Context, task *queue.Task) error {
	if n.url == "" {
		return fmt.Errorf("analysis webhook URL is not configured")
	}

	payload := TriggerPayload{
		MediaID:       task.MediaID,
		RemoteKey:     task.RemoteKey,
		ContentType:   task.ContentType,
		FileSize:      task.FileSize,
		CorrelationID: task.CorrelationID,
		Event:         "media.uploaded",
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Jan-Event", payload.Event).
		SetHeader("X-Jan-Media-ID", task.MediaID).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("deliver analysis trigger: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("analysis webhook returned status %d", resp.StatusCode())
	}

	n.log.Info().
		Str("media_id", task.MediaID).
		Str("correlation_id", task.CorrelationID).
		Int("status", resp.StatusCode()).
		Msg("analysis trigger delivered")
	return nil
}
