package assets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// Repository manages persistence for stored generation assets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, asset *models.Asset) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindByObjectKey(ctx context.Context, objectKey string) (*models.Asset, error)
	ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.Asset, error)
	MarkStored(ctx context.Context, id uuid.UUID, contentType string, sizeBytes int64) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.AssetStatus) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error)
	ListByStatus(ctx context.Context, status enums.AssetStatus, limit int) ([]models.Asset, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an asset repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, asset *models.Asset) error {
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) FindByObjectKey(ctx context.Context, objectKey string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "object_key = ?", objectKey).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.Asset, error) {
	var rows []models.Asset
	if err := r.db.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkStored(ctx context.Context, id uuid.UUID, contentType string, sizeBytes int64) error {
	updates := map[string]any{
		"status":     enums.AssetStatusStored,
		"size_bytes": sizeBytes,
	}
	if contentType != "" {
		updates["content_type"] = contentType
	}
	return r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.UpdateStatus(ctx, id, enums.AssetStatusFailed)
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.AssetStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ?", id).
		UpdateColumn("status", status).Error
}

// ListStalePending returns assets whose ingestion started before cutoff and
// never finished. The cleanup job retries or abandons them.
func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Asset, error) {
	var rows []models.Asset
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.AssetStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.AssetStatus, limit int) ([]models.Asset, error) {
	var rows []models.Asset
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
