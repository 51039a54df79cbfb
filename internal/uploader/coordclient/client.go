package coordclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/domain/upload"
	"jan-server/services/upload-api/internal/interfaces/httpserver/requests"
	"jan-server/services/upload-api/internal/interfaces/httpserver/responses"
	"jan-server/services/upload-api/internal/uploader"
)

// Client talks to the coordinator HTTP API. It implements
// uploader.Coordinator on top of the same request and response types the
// server binds, so the two sides cannot drift apart.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New creates a coordinator client for the given base URL. An empty
// authToken leaves the requests unauthenticated for dev setups.
func New(baseURL, authToken string, timeout time.Duration, log zerolog.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if authToken != "" {
		client.SetAuthToken(authToken)
	}
	return &Client{
		http: client,
		log:  log.With().Str("component", "coordclient").Logger(),
	}
}

// Initiate registers the file with the coordinator and returns the upload
// ticket. The idempotency key makes replays return the original ticket
// with freshly presigned URLs.
func (c *Client) Initiate(ctx context.Context, file uploader.FileInfo, chunkSize int64, idempotencyKey string) (*uploader.Ticket, error) {
	req := requests.InitiateUploadRequest{
		FileName:       file.Name,
		FileSize:       file.Size,
		ContentType:    file.ContentType,
		IdempotencyKey: idempotencyKey,
		ChunkSize:      chunkSize,
	}

	var (
		out    responses.InitiateUploadResponse
		apiErr responses.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/media/initiate")
	if cerr := c.check(resp, err, &apiErr); cerr != nil {
		return nil, cerr
	}

	ticket := &uploader.Ticket{
		MediaID:      out.MediaID,
		SessionToken: out.SessionToken,
		UploadURL:    out.UploadURL,
		ExpiresAt:    out.ExpiresAt,
	}
	if len(out.Parts) > 0 {
		ticket.PartURLs = make(map[int]string, len(out.Parts))
		for _, part := range out.Parts {
			ticket.PartURLs[part.PartNumber] = part.URL
		}
	}
	return ticket, nil
}

// PartURL requests a fresh presigned URL for one part of an in-flight
// multipart upload.
func (c *Client) PartURL(ctx context.Context, mediaID string, partNumber int) (string, error) {
	var (
		out    responses.PartURLIssueResponse
		apiErr responses.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v1/media/%s/parts/%d/url", mediaID, partNumber))
	if cerr := c.check(resp, err, &apiErr); cerr != nil {
		return "", cerr
	}
	return out.URL, nil
}

// Finalize submits the uploaded part list and returns the coordinator's
// verdict after its storage verification.
func (c *Client) Finalize(ctx context.Context, mediaID, sessionToken string, parts []uploader.PartETag) (*uploader.Outcome, error) {
	req := requests.FinalizeUploadRequest{SessionToken: sessionToken}
	for _, part := range parts {
		req.Parts = append(req.Parts, requests.FinalizePartInput{
			PartNumber: int32(part.PartNumber),
			ETag:       part.ETag,
		})
	}

	var (
		out    responses.FinalizeUploadResponse
		apiErr responses.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Put(fmt.Sprintf("/v1/media/%s/finalize", mediaID))
	if cerr := c.check(resp, err, &apiErr); cerr != nil {
		return nil, cerr
	}
	return &uploader.Outcome{
		Status:     out.Status,
		TriggerRef: out.TriggerRef,
	}, nil
}

// Status fetches the read-only record projection for polling.
func (c *Client) Status(ctx context.Context, mediaID string) (*responses.MediaStatusResponse, error) {
	var (
		out    responses.MediaStatusResponse
		apiErr responses.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v1/media/%s", mediaID))
	if cerr := c.check(resp, err, &apiErr); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// Abort asks the coordinator to clean up the remote multipart session.
func (c *Client) Abort(ctx context.Context, mediaID string) error {
	var apiErr responses.ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(requests.AbortUploadRequest{}).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1/media/%s/abort", mediaID))
	return c.check(resp, err, &apiErr)
}

// DownloadURL fetches a presigned read URL for a verified object.
func (c *Client) DownloadURL(ctx context.Context, mediaID string) (*responses.DownloadURLResponse, error) {
	var (
		out    responses.DownloadURLResponse
		apiErr responses.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v1/media/%s/download", mediaID))
	if cerr := c.check(resp, err, &apiErr); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// check converts transport failures and API error bodies into structured
// upload errors so the session's retry logic can branch on the code.
func (c *Client) check(resp *resty.Response, err error, apiErr *responses.ErrorResponse) error {
	if err != nil {
		return upload.Classify(err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	severity := upload.SeverityFatal
	code := upload.CodeValidation
	if status == http.StatusTooManyRequests || status >= 500 {
		severity = upload.SeverityRetryable
		code = upload.CodeTransientTransfer
	}
	message := fmt.Sprintf("coordinator returned status %d", status)
	if apiErr != nil {
		if apiErr.Reason != "" {
			code = apiErr.Reason
		}
		if apiErr.Message != "" {
			message = apiErr.Message
		}
	}
	if code == upload.CodeURLExpired {
		severity = upload.SeverityReissue
	}
	return upload.NewError(code, message, severity).WithDetail("http_status", status)
}
