package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to a wallet.
type LedgerEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID       uuid.UUID             `gorm:"column:wallet_id;type:uuid;not null;index"`
	GenerationID   *uuid.UUID            `gorm:"column:generation_id;type:uuid;index"`
	ActorProfileID uuid.UUID             `gorm:"column:actor_profile_id;type:uuid;not null"`
	Type           enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(20,6);not null"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
