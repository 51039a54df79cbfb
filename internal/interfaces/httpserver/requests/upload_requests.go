package requests

import (
	"encoding/json"

	"jan-server/services/upload-api/internal/domain/media"
)

// InitiateUploadRequest declares a file the client wants to upload.
// IdempotencyKey is generated client-side and stable across retries of
// the same file, so a replayed initiate returns the original record.
type InitiateUploadRequest struct {
	FileName       string `json:"fileName" binding:"required"`
	FileSize       int64  `json:"fileSize" binding:"required,gt=0"`
	ContentType    string `json:"contentType" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
	ChunkSize      int64  `json:"chunkSize,omitempty"`
}

// ToDomain converts the request to the domain model.
func (r *InitiateUploadRequest) ToDomain(ownerID string) *media.InitiateRequest {
	return &media.InitiateRequest{
		OwnerID:        ownerID,
		FileName:       r.FileName,
		FileSize:       r.FileSize,
		ContentType:    r.ContentType,
		IdempotencyKey: r.IdempotencyKey,
		ChunkSize:      r.ChunkSize,
	}
}

// FinalizePartInput is one uploaded part in a finalize request.
type FinalizePartInput struct {
	PartNumber int32  `json:"partNumber" binding:"required,gte=1"`
	ETag       string `json:"etag" binding:"required"`
}

// FinalizeUploadRequest asks the coordinator to assemble and verify the
// stored object. Parts are required for multipart sessions and must be
// ascending and gap-free.
type FinalizeUploadRequest struct {
	SessionToken string              `json:"sessionToken,omitempty"`
	Parts        []FinalizePartInput `json:"parts,omitempty"`
}

// ToDomain converts the request to the domain model.
func (r *FinalizeUploadRequest) ToDomain(ownerID, mediaID string) *media.FinalizeRequest {
	parts := make([]media.FinalizePart, 0, len(r.Parts))
	for _, p := range r.Parts {
		parts = append(parts, media.FinalizePart{
			PartNumber: int(p.PartNumber),
			ETag:       p.ETag,
		})
	}
	return &media.FinalizeRequest{
		OwnerID:      ownerID,
		MediaID:      mediaID,
		SessionToken: r.SessionToken,
		Parts:        parts,
	}
}

// AbortUploadRequest carries the client's view of the multipart session.
// The token is advisory: the stored record wins when they differ.
type AbortUploadRequest struct {
	SessionToken string `json:"sessionToken,omitempty"`
}

// AnalysisResultRequest is the pipeline callback reporting an analysis
// outcome for a media record in processing.
type AnalysisResultRequest struct {
	CorrelationID string                 `json:"correlationId" binding:"required"`
	Succeeded     *bool                  `json:"succeeded" binding:"required"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ToDomain converts the request to the domain model.
func (r *AnalysisResultRequest) ToDomain(mediaID string) *media.AnalysisResult {
	var metadata json.RawMessage
	if len(r.Metadata) > 0 {
		metadata, _ = json.Marshal(r.Metadata)
	}
	return &media.AnalysisResult{
		MediaID:       mediaID,
		CorrelationID: r.CorrelationID,
		Succeeded:     r.Succeeded != nil && *r.Succeeded,
		Metadata:      metadata,
	}
}
