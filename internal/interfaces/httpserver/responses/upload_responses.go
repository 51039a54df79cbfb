package responses

import (
	"encoding/json"
	"time"

	"jan-server/services/upload-api/internal/domain/media"
)

// PartURLResponse is one presigned upload target.
type PartURLResponse struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// InitiateUploadResponse is the upload ticket for one media file. Simple
// uploads carry uploadUrl; multipart uploads carry sessionToken plus one
// URL per planned part, in part order.
type InitiateUploadResponse struct {
	MediaID      string            `json:"mediaId"`
	Status       string            `json:"status"`
	RemoteKey    string            `json:"remoteKey"`
	UploadURL    string            `json:"uploadUrl,omitempty"`
	SessionToken string            `json:"sessionToken,omitempty"`
	Parts        []PartURLResponse `json:"parts,omitempty"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	Replayed     bool              `json:"replayed,omitempty"`
}

// BuildInitiateUploadResponse creates the response from the domain ticket.
func BuildInitiateUploadResponse(result *media.InitiateResult) *InitiateUploadResponse {
	resp := &InitiateUploadResponse{
		MediaID:      result.Record.MediaID,
		Status:       string(result.Record.Status),
		RemoteKey:    result.Record.RemoteKey,
		UploadURL:    result.UploadURL,
		SessionToken: result.SessionToken,
		ExpiresAt:    result.ExpiresAt,
		Replayed:     result.Replayed,
	}
	for _, part := range result.Parts {
		resp.Parts = append(resp.Parts, PartURLResponse{
			PartNumber: part.PartNumber,
			URL:        part.URL,
		})
	}
	return resp
}

// PartURLIssueResponse is a freshly presigned URL for one part.
type PartURLIssueResponse struct {
	MediaID    string    `json:"mediaId"`
	PartNumber int       `json:"partNumber"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// BuildPartURLIssueResponse creates the re-issue response.
func BuildPartURLIssueResponse(mediaID string, part *media.PartURL) *PartURLIssueResponse {
	return &PartURLIssueResponse{
		MediaID:    mediaID,
		PartNumber: part.PartNumber,
		URL:        part.URL,
		ExpiresAt:  part.ExpiresAt,
	}
}

// FinalizeUploadResponse reports the record status after finalize.
// TriggerRef is the analysis correlation id when a trigger was enqueued.
type FinalizeUploadResponse struct {
	MediaID    string `json:"mediaId"`
	Status     string `json:"status"`
	TriggerRef string `json:"triggerRef,omitempty"`
}

// BuildFinalizeUploadResponse creates the finalize response.
func BuildFinalizeUploadResponse(mediaID string, result *media.FinalizeResult) *FinalizeUploadResponse {
	return &FinalizeUploadResponse{
		MediaID:    mediaID,
		Status:     string(result.Status),
		TriggerRef: result.TriggerRef,
	}
}

// MediaStatusResponse is the read-only projection for client polling.
type MediaStatusResponse struct {
	MediaID            string          `json:"mediaId"`
	FileName           string          `json:"fileName"`
	FileSize           int64           `json:"fileSize"`
	ContentType        string          `json:"contentType"`
	Status             string          `json:"status"`
	RemoteKey          string          `json:"remoteKey"`
	ProcessingMetadata json.RawMessage `json:"processingMetadata,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// BuildMediaStatusResponse creates the status projection from the record.
func BuildMediaStatusResponse(record *media.MediaRecord) *MediaStatusResponse {
	return &MediaStatusResponse{
		MediaID:            record.MediaID,
		FileName:           record.FileName,
		FileSize:           record.FileSize,
		ContentType:        record.ContentType,
		Status:             string(record.Status),
		RemoteKey:          record.RemoteKey,
		ProcessingMetadata: record.ProcessingMetadata,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

// AbortUploadResponse acknowledges a best-effort abort.
type AbortUploadResponse struct {
	MediaID string `json:"mediaId"`
	Status  string `json:"status"`
}

// DownloadURLResponse is a short-lived presigned read URL.
type DownloadURLResponse struct {
	MediaID   string `json:"mediaId"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

// BuildDownloadURLResponse creates the download grant response.
func BuildDownloadURLResponse(mediaID string, grant *media.DownloadGrant) *DownloadURLResponse {
	return &DownloadURLResponse{
		MediaID:   mediaID,
		URL:       grant.URL,
		ExpiresIn: grant.ExpiresIn,
	}
}

// AnalysisResultResponse acknowledges a pipeline callback.
type AnalysisResultResponse struct {
	MediaID string `json:"mediaId"`
	Status  string `json:"status"`
}
