package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jan-server/services/upload-api/internal/config"
	"jan-server/services/upload-api/internal/domain/upload"
	"jan-server/services/upload-api/utils/mediaid"
	"jan-server/services/upload-api/utils/platformerrors"
)

// extensionAliases maps secondary file extensions to the canonical one
// reported by the mimetype database.
var extensionAliases = map[string]string{
	".jpeg": ".jpg",
	".jpe":  ".jpg",
	".qt":   ".mov",
	".m4v":  ".mp4",
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Repository defines persistence operations needed by the service.
type Repository interface {
	Create(ctx context.Context, rec *MediaRecord) error
	GetByID(ctx context.Context, mediaID string) (*MediaRecord, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*MediaRecord, error)
	UpdateStatusIf(ctx context.Context, mediaID string, from, to Status, update StatusUpdate) (bool, error)
	ListByStatusBefore(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*MediaRecord, error)
}

// StatusUpdate carries the optional fields written together with a status
// change so the record moves atomically.
type StatusUpdate struct {
	CorrelationID      string
	ProcessingMetadata json.RawMessage
}

// CompletedPart identifies one stored part for multipart assembly.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Storage defines the object storage operations needed by the service.
type Storage interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
	Head(ctx context.Context, key string) (int64, error)
}

// AnalysisTrigger hands verified uploads to the analysis pipeline.
type AnalysisTrigger interface {
	Enqueue(ctx context.Context, task AnalysisTask) error
}

// Service coordinates upload lifecycles: it issues presigned tickets,
// verifies finished uploads against storage, and hands verified objects to
// the analysis pipeline.
type Service struct {
	cfg     *config.Config
	repo    Repository
	storage Storage
	trigger AnalysisTrigger
	planner *upload.Planner
	allowed map[string]int64
	log     zerolog.Logger
}

func NewService(cfg *config.Config, repo Repository, storage Storage, trigger AnalysisTrigger, log zerolog.Logger) (*Service, error) {
	allowed, err := cfg.AllowedContentTypes()
	if err != nil {
		return nil, fmt.Errorf("resolve content type allow-list: %w", err)
	}
	return &Service{
		cfg:     cfg,
		repo:    repo,
		storage: storage,
		trigger: trigger,
		planner: upload.NewPlanner(cfg.ChunkSize, cfg.MinPartSize, cfg.MaxParts),
		allowed: allowed,
		log:     log.With().Str("component", "media-service").Logger(),
	}, nil
}

// Initiate validates the upload intent, creates the record, and returns the
// presigned ticket. Re-sending the same idempotency key returns the original
// record instead of creating a duplicate.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := s.validateInitiate(ctx, req); err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.buildTicket(ctx, existing, true)
	}

	plan, err := s.planner.Plan(req.FileSize, req.ChunkSize)
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			err.Error(),
			err,
			"3f6c1d8a-92e4-4b5f-a1c7-0d2e8b4f6a9c",
		)
	}

	id := mediaid.New()
	rec := &MediaRecord{
		MediaID:        id,
		OwnerID:        req.OwnerID,
		IdempotencyKey: req.IdempotencyKey,
		FileName:       sanitizeFileName(req.FileName),
		FileSize:       req.FileSize,
		ContentType:    req.ContentType,
		RemoteKey:      s.remoteKey(req.OwnerID, id, req.FileName),
		Status:         StatusUploading,
		ChunkSize:      plan.ChunkSize,
		PartCount:      len(plan.Parts),
	}

	if plan.Mode == upload.ModeMultipart {
		uploadID, err := s.storage.CreateMultipart(ctx, rec.RemoteKey, req.ContentType)
		if err != nil {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerDomain,
				platformerrors.ErrorTypeExternal,
				"failed to open a multipart session",
				err,
				"6b9f2c4d-18a3-4e7b-9d5f-3a1c8e6b2f4d",
			)
		}
		rec.MultipartUploadID = uploadID
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		if platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict) {
			// Lost a race against a concurrent initiate with the same key.
			// The winner's record is the one both callers must see.
			s.abandonMultipart(ctx, rec)
			existing, ferr := s.repo.FindByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
			if ferr == nil && existing != nil {
				return s.buildTicket(ctx, existing, true)
			}
		}
		return nil, err
	}

	s.log.Info().
		Str("media_id", id).
		Str("mode", string(plan.Mode)).
		Int("parts", len(plan.Parts)).
		Int64("bytes", req.FileSize).
		Msg("upload initiated")

	return s.buildTicket(ctx, rec, false)
}

// PartUploadURL re-issues the presigned URL for a single part. Clients use
// it to resume an interrupted upload and to replace expired URLs.
func (s *Service) PartUploadURL(ctx context.Context, ownerID, mediaID string, partNumber int) (*PartURL, error) {
	rec, err := s.getOwned(ctx, ownerID, mediaID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusUploading {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeConflict,
			fmt.Sprintf("upload is %s and no longer accepts parts", rec.Status),
			nil,
			"8d4a6f2b-3c1e-4b9d-8a7f-5e2c9b4d1f6a",
		)
	}
	if !rec.IsMultipart() {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"simple uploads have no parts",
			nil,
			"2e7b9d4f-6a1c-4d8e-b3f5-9c2a7e4b6d1f",
		)
	}
	if partNumber < 1 || partNumber > rec.PartCount {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			fmt.Sprintf("part number %d is outside 1..%d", partNumber, rec.PartCount),
			nil,
			"9c5e1f7a-2d4b-4c6e-8b9a-1f3d5c7e9a2b",
		)
	}

	signed, err := s.storage.PresignUploadPart(ctx, rec.RemoteKey, rec.MultipartUploadID, int32(partNumber), s.cfg.S3PresignTTL)
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeExternal,
			"failed to presign part upload",
			err,
			"4a8c2e6d-9b1f-4e3a-a5d7-6c8b2f4e9a1d",
		)
	}
	return &PartURL{
		PartNumber: partNumber,
		URL:        s.externalizeURL(signed),
		ExpiresAt:  time.Now().Add(s.cfg.S3PresignTTL),
	}, nil
}

// Finalize assembles a finished upload, verifies the stored object against
// the declared size, and hands the record to the analysis pipeline. The
// record only reaches uploaded after storage confirmed the object.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	rec, err := s.getOwned(ctx, req.OwnerID, req.MediaID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case StatusUploaded, StatusProcessing, StatusCompleted:
		// Duplicate finalize reports the already-decided outcome.
		return &FinalizeResult{Record: rec, Status: rec.Status, TriggerRef: rec.CorrelationID}, nil
	case StatusFailed:
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeGone,
			"upload already failed, initiate a new one",
			nil,
			"7f3b9e1c-5d2a-4f8b-9c4e-2a6d8f1b3e5c",
		)
	}

	if rec.IsMultipart() {
		if req.SessionToken != "" && req.SessionToken != rec.MultipartUploadID {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation,
				"session token does not match the stored upload session",
				nil,
				"1d6f3a9b-8e4c-4a2d-b7f9-5c1e3b8d6f2a",
			)
		}
		completed, err := collectParts(req.Parts, rec.PartCount)
		if err != nil {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerDomain,
				platformerrors.ErrorTypeValidation,
				err.Error(),
				err,
				"5b2d8f4a-1c6e-4d9b-a3e7-8f5a2c4e6b9d",
			)
		}
		if err := s.storage.CompleteMultipart(ctx, rec.RemoteKey, rec.MultipartUploadID, completed); err != nil {
			cause := upload.WrapError(err, upload.CodeStorageVerification, "storage could not assemble the uploaded parts", upload.SeverityFatal)
			return nil, s.failVerification(ctx, rec, cause)
		}
	} else if len(req.Parts) > 0 {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"simple uploads finalize without a part list",
			nil,
			"3c9a5e7f-4b8d-4e1a-9f6c-7d3b5a9e1c4f",
		)
	}

	// Server-side verification: the stored object is the source of truth,
	// not the byte count the client claims to have sent.
	size, err := s.storage.Head(ctx, rec.RemoteKey)
	if err != nil {
		cause := upload.WrapError(err, upload.CodeStorageVerification, "stored object could not be verified", upload.SeverityFatal)
		return nil, s.failVerification(ctx, rec, cause)
	}
	if size != rec.FileSize {
		cause := upload.NewError(
			upload.CodeSizeMismatch,
			fmt.Sprintf("stored object is %d bytes, expected %d", size, rec.FileSize),
			upload.SeverityFatal,
		)
		return nil, s.failVerification(ctx, rec, cause)
	}

	moved, err := s.repo.UpdateStatusIf(ctx, rec.MediaID, StatusUploading, StatusUploaded, StatusUpdate{})
	if err != nil {
		return nil, err
	}
	if !moved {
		// A concurrent finalize won the race; report whatever it decided.
		current, err := s.repo.GetByID(ctx, rec.MediaID)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{Record: current, Status: current.Status, TriggerRef: current.CorrelationID}, nil
	}
	rec.Status = StatusUploaded

	s.log.Info().
		Str("media_id", rec.MediaID).
		Int64("bytes", rec.FileSize).
		Msg("upload verified")

	return s.dispatchAnalysis(ctx, rec), nil
}

// Get returns the record for status queries.
func (s *Service) Get(ctx context.Context, ownerID, mediaID string) (*MediaRecord, error) {
	return s.getOwned(ctx, ownerID, mediaID)
}

// Abort cancels an in-flight upload. Storage cleanup is best effort: an
// orphaned multipart session is eventually expired by the bucket lifecycle.
func (s *Service) Abort(ctx context.Context, ownerID, mediaID string) (Status, error) {
	rec, err := s.getOwned(ctx, ownerID, mediaID)
	if err != nil {
		return "", err
	}

	if rec.Status == StatusUploading {
		s.abandonMultipart(ctx, rec)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    upload.CodeCancelled,
			"message": "upload aborted by the owner",
		},
	})
	moved, err := s.repo.UpdateStatusIf(ctx, mediaID, StatusUploading, StatusFailed, StatusUpdate{ProcessingMetadata: meta})
	if err != nil {
		return "", err
	}
	if !moved {
		current, err := s.repo.GetByID(ctx, mediaID)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	s.log.Info().Str("media_id", mediaID).Msg("upload aborted")
	return StatusFailed, nil
}

// PresignDownload returns a short-lived read URL for a verified object.
func (s *Service) PresignDownload(ctx context.Context, ownerID, mediaID string) (*DownloadGrant, error) {
	rec, err := s.getOwned(ctx, ownerID, mediaID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Downloadable() {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeConflict,
			fmt.Sprintf("media is %s and not available for download", rec.Status),
			nil,
			"6e2c8a4f-9d1b-4f7e-8c3a-5b9d1f7e3a6c",
		)
	}
	signed, err := s.storage.PresignGet(ctx, rec.RemoteKey, s.cfg.S3PresignTTL)
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeExternal,
			"failed to presign download",
			err,
			"8a4e6c2d-7f9b-4d1e-a5c3-9e7b1d3f5a8c",
		)
	}
	return &DownloadGrant{
		URL:       s.externalizeURL(signed),
		ExpiresIn: int(s.cfg.S3PresignTTL.Seconds()),
	}, nil
}

// RecordAnalysisResult applies the downstream verdict for a record that is
// awaiting analysis. Duplicate deliveries of the same verdict are idempotent.
func (s *Service) RecordAnalysisResult(ctx context.Context, res AnalysisResult) (Status, error) {
	rec, err := s.repo.GetByID(ctx, res.MediaID)
	if err != nil {
		return "", err
	}
	if res.CorrelationID != "" && rec.CorrelationID != "" && res.CorrelationID != rec.CorrelationID {
		return "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeConflict,
			"correlation id does not match the active analysis run",
			nil,
			"4f8b2d6e-1a9c-4e5b-b7d3-2c8f4a6e9b1d",
		)
	}

	target := StatusCompleted
	if !res.Succeeded {
		target = StatusFailed
	}

	moved, err := s.repo.UpdateStatusIf(ctx, res.MediaID, StatusProcessing, target, StatusUpdate{ProcessingMetadata: res.Metadata})
	if err != nil {
		return "", err
	}
	if !moved {
		current, gerr := s.repo.GetByID(ctx, res.MediaID)
		if gerr == nil && current.Status == target {
			return target, nil
		}
		return "", platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeConflict,
			fmt.Sprintf("media is %s and not awaiting analysis", rec.Status),
			nil,
			"9b5d1f3a-6c8e-4a2f-8e4b-7a3c5e9f1b6d",
		)
	}

	s.log.Info().
		Str("media_id", res.MediaID).
		Str("status", target.String()).
		Msg("analysis result recorded")
	return target, nil
}

// FailProcessing marks a record failed after the analysis trigger could not
// be delivered within the retry budget.
func (s *Service) FailProcessing(ctx context.Context, mediaID string, cause error) error {
	meta, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    upload.CodeAnalysisTrigger,
			"message": cause.Error(),
		},
	})
	moved, err := s.repo.UpdateStatusIf(ctx, mediaID, StatusProcessing, StatusFailed, StatusUpdate{ProcessingMetadata: meta})
	if err != nil {
		return err
	}
	if moved {
		s.log.Error().Err(cause).Str("media_id", mediaID).Msg("analysis trigger abandoned")
	}
	return nil
}

// RecoverStrandedUploads re-enqueues analysis triggers for records that were
// verified but never handed off, e.g. because the queue was unavailable at
// finalize time.
func (s *Service) RecoverStrandedUploads(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	records, err := s.repo.ListByStatusBefore(ctx, StatusUploaded, cutoff, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range records {
		if res := s.dispatchAnalysis(ctx, rec); res.Status == StatusProcessing {
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Info().Int("count", recovered).Msg("re-enqueued stranded uploads")
	}
	return recovered, nil
}

// dispatchAnalysis hands a verified record to the analysis pipeline. The
// record stays uploaded when the handoff cannot be enqueued so the recovery
// sweep can retry it later.
func (s *Service) dispatchAnalysis(ctx context.Context, rec *MediaRecord) *FinalizeResult {
	correlationID := uuid.NewString()
	task := AnalysisTask{
		MediaID:       rec.MediaID,
		RemoteKey:     rec.RemoteKey,
		ContentType:   rec.ContentType,
		FileSize:      rec.FileSize,
		CorrelationID: correlationID,
	}

	if err := s.trigger.Enqueue(ctx, task); err != nil {
		s.log.Error().Err(err).Str("media_id", rec.MediaID).Msg("failed to enqueue analysis trigger")
		return &FinalizeResult{Record: rec, Status: StatusUploaded}
	}

	moved, err := s.repo.UpdateStatusIf(ctx, rec.MediaID, StatusUploaded, StatusProcessing, StatusUpdate{CorrelationID: correlationID})
	if err != nil {
		s.log.Error().Err(err).Str("media_id", rec.MediaID).Msg("failed to advance record to processing")
		return &FinalizeResult{Record: rec, Status: StatusUploaded, TriggerRef: correlationID}
	}
	if !moved {
		return &FinalizeResult{Record: rec, Status: StatusUploaded, TriggerRef: correlationID}
	}

	s.log.Info().
		Str("media_id", rec.MediaID).
		Str("correlation_id", correlationID).
		Msg("analysis trigger enqueued")
	rec.Status = StatusProcessing
	return &FinalizeResult{Record: rec, Status: StatusProcessing, TriggerRef: correlationID}
}

// failVerification moves the record to failed and reports the cause. The
// client cannot repair a verification failure, so the multipart session is
// abandoned as well.
func (s *Service) failVerification(ctx context.Context, rec *MediaRecord, cause *upload.Error) error {
	meta, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    cause.Code,
			"message": cause.Message,
		},
	})
	if _, err := s.repo.UpdateStatusIf(ctx, rec.MediaID, StatusUploading, StatusFailed, StatusUpdate{ProcessingMetadata: meta}); err != nil {
		s.log.Error().Err(err).Str("media_id", rec.MediaID).Msg("failed to mark record failed")
	}
	s.abandonMultipart(ctx, rec)

	errType := platformerrors.ErrorTypeExternal
	if cause.Code == upload.CodeSizeMismatch {
		errType = platformerrors.ErrorTypeValidation
	}
	s.log.Error().
		Str("media_id", rec.MediaID).
		Str("code", cause.Code).
		Msg("upload verification failed")
	return platformerrors.NewError(
		ctx,
		platformerrors.LayerDomain,
		errType,
		cause.Message,
		cause,
		"2a6e4c8b-3f1d-4b9e-9a5c-8d2f6b4a1e7c",
	)
}

func (s *Service) abandonMultipart(ctx context.Context, rec *MediaRecord) {
	if !rec.IsMultipart() {
		return
	}
	if err := s.storage.AbortMultipart(ctx, rec.RemoteKey, rec.MultipartUploadID); err != nil {
		s.log.Warn().Err(err).Str("media_id", rec.MediaID).Msg("multipart abort failed, storage lifecycle will expire it")
	}
}

func (s *Service) getOwned(ctx context.Context, ownerID, mediaID string) (*MediaRecord, error) {
	if !mediaid.IsValid(mediaID) {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			"invalid media id",
			nil,
			"5c9b3e7d-2a4f-4c6b-8f1e-4d8a6c2b9e5f",
		)
	}
	rec, err := s.repo.GetByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeForbidden,
			"media belongs to another owner",
			nil,
			"7d1f5b9a-8c3e-4d2a-b6f4-1e9c7a5d3b8f",
		)
	}
	return rec, nil
}

func (s *Service) validateInitiate(ctx context.Context, req InitiateRequest) error {
	fail := func(msg string, uuid string) error {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerDomain,
			platformerrors.ErrorTypeValidation,
			msg,
			nil,
			uuid,
		)
	}

	if strings.TrimSpace(req.OwnerID) == "" {
		return fail("owner is required", "1b7d9f3e-5a2c-4e8b-9d6f-3c1a8e5b7d9f")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return fail("idempotency key is required", "8e2a6c4b-9f1d-4a3e-b5c7-6d9f2b4e8a1c")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return fail("file name is required", "4c8e2b6d-1f7a-4b9c-8a3e-5f1d7c9b3e6a")
	}
	if req.FileSize <= 0 {
		return fail("file size must be positive", "9f5a1d7c-3b8e-4c4a-9e2b-7a5c1f8d4b6e")
	}

	limit, ok := s.allowed[req.ContentType]
	if !ok {
		return fail(fmt.Sprintf("unsupported content type %s", req.ContentType), "3e7c9a5f-6d2b-4f1e-a8c4-2b6e9d5a7f3c")
	}
	if req.FileSize > limit {
		return fail(fmt.Sprintf("file exceeds the %d byte limit for %s", limit, req.ContentType), "6a4f8d2e-7b9c-4e5a-9c1f-8e3b5d7a9c2e")
	}

	if !extensionMatches(req.FileName, req.ContentType) {
		return fail(fmt.Sprintf("file extension does not match content type %s", req.ContentType), "2d8b4f6a-9e1c-4a7d-b3e5-4f6a8c2d9b1e")
	}
	return nil
}

func (s *Service) remoteKey(ownerID, mediaID, fileName string) string {
	owner := unsafeKeyChars.ReplaceAllString(ownerID, "_")
	return fmt.Sprintf("uploads/%s/%s/%s", owner, mediaID, sanitizeFileName(fileName))
}

// externalizeURL rewrites presigned URLs to the public endpoint when the
// bucket sits behind a gateway and the SDK signs for the internal host.
func (s *Service) externalizeURL(raw string) string {
	publicEndpoint := strings.TrimSpace(s.cfg.S3PublicEndpoint)
	if publicEndpoint == "" || strings.TrimSpace(raw) == "" {
		return raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	public, err := url.Parse(publicEndpoint)
	if err != nil || public.Host == "" {
		return raw
	}

	target.Scheme = public.Scheme
	target.Host = public.Host
	return target.String()
}

func (s *Service) buildTicket(ctx context.Context, rec *MediaRecord, replayed bool) (*InitiateResult, error) {
	res := &InitiateResult{
		Record:    rec,
		Replayed:  replayed,
		ExpiresAt: time.Now().Add(s.cfg.S3PresignTTL),
	}
	if rec.Status != StatusUploading {
		// Nothing left to upload; the caller gets the record status only.
		return res, nil
	}

	if !rec.IsMultipart() {
		signed, err := s.storage.PresignPut(ctx, rec.RemoteKey, rec.ContentType, s.cfg.S3PresignTTL)
		if err != nil {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerDomain,
				platformerrors.ErrorTypeExternal,
				"failed to presign upload",
				err,
				"5e9c1b7f-4a6d-4c8e-9b2a-7f5d3e1c8b4a",
			)
		}
		res.UploadURL = s.externalizeURL(signed)
		return res, nil
	}

	res.SessionToken = rec.MultipartUploadID
	res.Parts = make([]PartURL, 0, rec.PartCount)
	for number := 1; number <= rec.PartCount; number++ {
		signed, err := s.storage.PresignUploadPart(ctx, rec.RemoteKey, rec.MultipartUploadID, int32(number), s.cfg.S3PresignTTL)
		if err != nil {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerDomain,
				platformerrors.ErrorTypeExternal,
				"failed to presign part upload",
				err,
				"8b3f7d1e-6c9a-4e4b-a2d8-9c5f1b7e4d2a",
			)
		}
		res.Parts = append(res.Parts, PartURL{
			PartNumber: number,
			URL:        s.externalizeURL(signed),
			ExpiresAt:  res.ExpiresAt,
		})
	}
	return res, nil
}

// collectParts validates that the reported parts are exactly 1..expected in
// ascending order with integrity tokens, and converts them for assembly.
func collectParts(parts []FinalizePart, expected int) ([]CompletedPart, error) {
	if len(parts) != expected {
		return nil, fmt.Errorf("expected %d parts, got %d", expected, len(parts))
	}
	completed := make([]CompletedPart, 0, len(parts))
	for i, part := range parts {
		if part.PartNumber != i+1 {
			return nil, fmt.Errorf("part list must be contiguous and ascending, position %d holds part %d", i+1, part.PartNumber)
		}
		if strings.TrimSpace(part.ETag) == "" {
			return nil, fmt.Errorf("part %d is missing its integrity token", part.PartNumber)
		}
		completed = append(completed, CompletedPart{
			PartNumber: int32(part.PartNumber),
			ETag:       part.ETag,
		})
	}
	return completed, nil
}

func sanitizeFileName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = unsafeKeyChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "upload"
	}
	if len(base) > 128 {
		base = strings.TrimLeft(base[len(base)-128:], "._")
	}
	return base
}

func extensionMatches(fileName, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return true
	}
	if canonical, ok := extensionAliases[ext]; ok {
		ext = canonical
	}
	mtype := mimetype.Lookup(contentType)
	if mtype == nil {
		return true
	}
	return mtype.Extension() == ext
}
