package generations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

// ListFilter narrows a profile's generation history.
type ListFilter struct {
	Kind   enums.GenerationKind
	Status enums.GenerationStatus
}

// Repository manages persistence for generation tasks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, generation *models.Generation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	FindByVendorTaskID(ctx context.Context, vendorTaskID string) (*models.Generation, error)
	ListByProfileID(ctx context.Context, profileID uuid.UUID, filter ListFilter, params pagination.Params) ([]models.Generation, error)
	ListUnsettled(ctx context.Context, now time.Time, limit int) ([]models.Generation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Generation, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, resultURLs []byte, resultText *string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) error
	MarkExpired(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a generation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, generation *models.Generation) error {
	return r.db.WithContext(ctx).Create(generation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	var generation models.Generation
	if err := r.db.WithContext(ctx).First(&generation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &generation, nil
}

func (r *repository) FindByVendorTaskID(ctx context.Context, vendorTaskID string) (*models.Generation, error) {
	var generation models.Generation
	if err := r.db.WithContext(ctx).First(&generation, "vendor_task_id = ?", vendorTaskID).Error; err != nil {
		return nil, err
	}
	return &generation, nil
}

func (r *repository) ListByProfileID(ctx context.Context, profileID uuid.UUID, filter ListFilter, params pagination.Params) ([]models.Generation, error) {
	query := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Generation
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUnsettled returns live tasks still awaiting a vendor verdict, oldest
// first so no task starves behind newer submissions.
func (r *repository) ListUnsettled(ctx context.Context, now time.Time, limit int) ([]models.Generation, error) {
	var rows []models.Generation
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.GenerationStatus{enums.GenerationStatusPending, enums.GenerationStatusProcessing}).
		Where("expires_at > ?", now).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Generation, error) {
	var rows []models.Generation
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.GenerationStatus{enums.GenerationStatusPending, enums.GenerationStatusProcessing}).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes the generation row; asset rows follow via the foreign key
// cascade.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Generation{}, "id = ?", id).Error
}

func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ? AND status = ?", id, enums.GenerationStatusPending).
		UpdateColumn("status", enums.GenerationStatusProcessing).Error
}

func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, resultURLs []byte, resultText *string, completedAt time.Time) error {
	updates := map[string]any{
		"status":       enums.GenerationStatusSucceeded,
		"completed_at": completedAt,
	}
	if len(resultURLs) > 0 {
		updates["result_urls"] = resultURLs
	}
	if resultText != nil {
		updates["result_text"] = *resultText
	}
	return r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.GenerationStatusFailed,
			"failure_reason": reason,
			"completed_at":   completedAt,
		}).Error
}

// MarkExpired flips a live task to expired. The status guard makes the reaper
// lose gracefully when settlement lands first.
func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ? AND status IN ?", id, []enums.GenerationStatus{enums.GenerationStatusPending, enums.GenerationStatusProcessing}).
		Updates(map[string]any{
			"status":       enums.GenerationStatusExpired,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
