package media

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/infrastructure/database/entities"
	"jan-server/services/upload-api/utils/platformerrors"
)

// Repository handles media record persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, rec *domain.MediaRecord) error {
	entity := toEntity(rec)
	err := r.db.WithContext(ctx).Create(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeConflict,
				"media record already exists for this idempotency key",
				err,
				"4e7a1c9d-5b3f-4d2e-8a6c-9f1b3d5e7a2c",
			)
		}
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create media record",
			err,
			"8c2f6a4e-1d9b-4e7c-b5a3-2e8d4f6c1a9e",
		)
	}
	rec.CreatedAt = entity.CreatedAt
	rec.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *Repository) GetByID(ctx context.Context, mediaID string) (*domain.MediaRecord, error) {
	var entity entities.MediaRecord
	err := r.db.WithContext(ctx).Where("media_id = ?", mediaID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound,
				"media record not found",
				err,
				"1f5c9e3a-7d2b-4a8e-9c4f-6b1d8e3a5c7f",
			)
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to get media record",
			err,
			"9a3e5c7f-2b8d-4f4a-8e1c-5d7f9b3a6e2c",
		)
	}
	rec := mapEntity(entity)
	return &rec, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.MediaRecord, error) {
	var entity entities.MediaRecord
	err := r.db.WithContext(ctx).Where("owner_id = ? AND idempotency_key = ?", ownerID, key).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find media record by idempotency key",
			err,
			"6d1b8f4a-9c3e-4b7d-a2f8-4c6e1a9d3b5f",
		)
	}
	rec := mapEntity(entity)
	return &rec, nil
}

// UpdateStatusIf moves the record from one status to another in a single
// guarded update. It reports false when the record was not in the expected
// status, which is how concurrent lifecycle writers lose races safely.
func (r *Repository) UpdateStatusIf(ctx context.Context, mediaID string, from, to domain.Status, update domain.StatusUpdate) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeConflict,
			"status transition is not allowed",
			nil,
			"3b9d5f1c-8e4a-4c2b-9f6d-1a8c3e5b7d9f",
		)
	}

	values := map[string]interface{}{"status": to.String()}
	if update.CorrelationID != "" {
		values["correlation_id"] = update.CorrelationID
	}
	if len(update.ProcessingMetadata) > 0 {
		values["processing_metadata"] = datatypes.JSON(update.ProcessingMetadata)
	}

	res := r.db.WithContext(ctx).
		Model(&entities.MediaRecord{}).
		Where("media_id = ? AND status = ?", mediaID, from.String()).
		Updates(values)
	if res.Error != nil {
		return false, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to update media record status",
			res.Error,
			"7e3a9c5b-4f1d-4a6e-8d2b-6f4a8c1e3b5d",
		)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) ListByStatusBefore(ctx context.Context, status domain.Status, updatedBefore time.Time, limit int) ([]*domain.MediaRecord, error) {
	var rows []entities.MediaRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status.String(), updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list media records by status",
			err,
			"2c8e4a6f-9b1d-4e3c-a7f5-8d2b6e4a9c1f",
		)
	}

	records := make([]*domain.MediaRecord, 0, len(rows))
	for _, row := range rows {
		rec := mapEntity(row)
		records = append(records, &rec)
	}
	return records, nil
}

func toEntity(rec *domain.MediaRecord) entities.MediaRecord {
	return entities.MediaRecord{
		MediaID:            rec.MediaID,
		OwnerID:            rec.OwnerID,
		IdempotencyKey:     rec.IdempotencyKey,
		FileName:           rec.FileName,
		FileSize:           rec.FileSize,
		ContentType:        rec.ContentType,
		RemoteKey:          rec.RemoteKey,
		Status:             rec.Status.String(),
		MultipartUploadID:  rec.MultipartUploadID,
		ChunkSize:          rec.ChunkSize,
		PartCount:          rec.PartCount,
		CorrelationID:      rec.CorrelationID,
		ProcessingMetadata: datatypes.JSON(rec.ProcessingMetadata),
	}
}

func mapEntity(entity entities.MediaRecord) domain.MediaRecord {
	return domain.MediaRecord{
		MediaID:            entity.MediaID,
		OwnerID:            entity.OwnerID,
		IdempotencyKey:     entity.IdempotencyKey,
		FileName:           entity.FileName,
		FileSize:           entity.FileSize,
		ContentType:        entity.ContentType,
		RemoteKey:          entity.RemoteKey,
		Status:             domain.Status(entity.Status),
		MultipartUploadID:  entity.MultipartUploadID,
		ChunkSize:          entity.ChunkSize,
		PartCount:          entity.PartCount,
		CorrelationID:      entity.CorrelationID,
		ProcessingMetadata: json.RawMessage(entity.ProcessingMetadata),
		CreatedAt:          entity.CreatedAt,
		UpdatedAt:          entity.UpdatedAt,
	}
}
