package assets

import (
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// AssetDTO is the transport shape for a stored asset.
type AssetDTO struct {
	ID           uuid.UUID            `json:"id"`
	GenerationID uuid.UUID            `json:"generation_id"`
	Kind         enums.GenerationKind `json:"kind"`
	Status       enums.AssetStatus    `json:"status"`
	ContentType  string               `json:"content_type"`
	SizeBytes    int64                `json:"size_bytes"`
	URL          string               `json:"url,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// FromModel converts an asset model into its transport shape.
func FromModel(a *models.Asset) *AssetDTO {
	if a == nil {
		return nil
	}
	return &AssetDTO{
		ID:           a.ID,
		GenerationID: a.GenerationID,
		Kind:         a.Kind,
		Status:       a.Status,
		ContentType:  a.ContentType,
		SizeBytes:    a.SizeBytes,
		CreatedAt:    a.CreatedAt,
	}
}
