package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// Asset is a generated artifact copied from the vendor into object storage.
type Asset struct {
	ID           uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	GenerationID uuid.UUID            `gorm:"column:generation_id;type:uuid;not null;index"`
	Kind         enums.GenerationKind `gorm:"column:kind;type:generation_kind_enum;not null"`
	Status       enums.AssetStatus    `gorm:"column:status;type:asset_status_enum;not null;default:'pending'"`
	Bucket       string               `gorm:"column:bucket;not null"`
	ObjectKey    string               `gorm:"column:object_key;not null;uniqueIndex"`
	ContentType  string               `gorm:"column:content_type;not null"`
	SizeBytes    int64                `gorm:"column:size_bytes;not null;default:0"`
	SourceURL    string               `gorm:"column:source_url;not null"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
