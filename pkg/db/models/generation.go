package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// Generation tracks one media generation task from submission to settlement.
// VendorTaskID is unique so a task can be settled at most once.
type Generation struct {
	ID            uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID     uuid.UUID              `gorm:"column:profile_id;type:uuid;not null;index"`
	Kind          enums.GenerationKind   `gorm:"column:kind;type:generation_kind_enum;not null"`
	Vendor        enums.Vendor           `gorm:"column:vendor;type:vendor_enum;not null"`
	VendorTaskID  string                 `gorm:"column:vendor_task_id;not null;uniqueIndex"`
	Status        enums.GenerationStatus `gorm:"column:status;type:generation_status_enum;not null;default:'pending'"`
	Prompt        string                 `gorm:"column:prompt;type:text;not null"`
	Model         string                 `gorm:"column:model;not null"`
	Params        json.RawMessage        `gorm:"column:params;type:jsonb"`
	ResultURLs    json.RawMessage        `gorm:"column:result_urls;type:jsonb"`
	ResultText    *string                `gorm:"column:result_text;type:text"`
	Price         decimal.Decimal        `gorm:"column:price;type:numeric(20,6);not null;default:0"`
	IsDemo        bool                   `gorm:"column:is_demo;not null;default:false"`
	FailureReason *string                `gorm:"column:failure_reason"`
	SubmittedAt   time.Time              `gorm:"column:submitted_at;not null"`
	CompletedAt   *time.Time             `gorm:"column:completed_at"`
	ExpiresAt     time.Time              `gorm:"column:expires_at;not null;index"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
