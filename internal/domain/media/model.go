package media

import (
	"encoding/json"
	"time"
)

// MediaRecord is the server-side view of one uploaded media file.
type MediaRecord struct {
	MediaID            string
	OwnerID            string
	IdempotencyKey     string
	FileName           string
	FileSize           int64
	ContentType        string
	RemoteKey          string
	Status             Status
	MultipartUploadID  string
	ChunkSize          int64
	PartCount          int
	CorrelationID      string
	ProcessingMetadata json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsMultipart checks if the record was initiated as a multipart upload.
func (m *MediaRecord) IsMultipart() bool {
	return m.MultipartUploadID != ""
}

// InitiateRequest carries the client intent to start an upload.
type InitiateRequest struct {
	OwnerID        string
	FileName       string
	FileSize       int64
	ContentType    string
	IdempotencyKey string
	// ChunkSize is an optional client override; zero means the server default.
	ChunkSize int64
}

// PartURL is one presigned upload target for a multipart plan.
type PartURL struct {
	PartNumber int
	URL        string
	ExpiresAt  time.Time
}

// InitiateResult is the upload ticket handed back to the client. Simple
// uploads carry a single UploadURL, multipart uploads carry per-part URLs
// plus an advisory session token echoing the storage upload id.
type InitiateResult struct {
	Record       *MediaRecord
	Replayed     bool
	UploadURL    string
	Parts        []PartURL
	SessionToken string
	ExpiresAt    time.Time
}

// FinalizePart identifies one uploaded part and its integrity token.
type FinalizePart struct {
	PartNumber int
	ETag       string
}

// FinalizeRequest asks the coordinator to assemble and verify an upload.
type FinalizeRequest struct {
	MediaID      string
	OwnerID      string
	SessionToken string
	Parts        []FinalizePart
}

// FinalizeResult reports the record status after finalize. TriggerRef is the
// correlation id of the analysis handoff when one was enqueued.
type FinalizeResult struct {
	Record     *MediaRecord
	Status     Status
	TriggerRef string
}

// AnalysisTask is the message handed to the analysis pipeline for one
// verified upload.
type AnalysisTask struct {
	MediaID       string
	RemoteKey     string
	ContentType   string
	FileSize      int64
	CorrelationID string
}

// AnalysisResult is the downstream verdict reported back for a record.
type AnalysisResult struct {
	MediaID       string
	CorrelationID string
	Succeeded     bool
	Metadata      json.RawMessage
}

// DownloadGrant is a short-lived read URL for a stored object.
type DownloadGrant struct {
	URL       string
	ExpiresIn int
}
