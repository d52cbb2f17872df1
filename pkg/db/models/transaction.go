package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// Transaction mirrors a wallet movement executed through Circle.
// IdempotencyKey carries the settlement key (gen-<id> / genrev-<id>) and is
// unique so replayed settlements collapse into the original row.
type Transaction struct {
	ID               uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID         uuid.UUID                  `gorm:"column:wallet_id;type:uuid;not null;index"`
	GenerationID     *uuid.UUID                 `gorm:"column:generation_id;type:uuid;index"`
	Direction        enums.TransactionDirection `gorm:"column:direction;type:transaction_direction_enum;not null"`
	Status           enums.TransactionStatus    `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`
	Amount           decimal.Decimal            `gorm:"column:amount;type:numeric(20,6);not null"`
	Currency         enums.Currency             `gorm:"column:currency;type:currency_enum;not null;default:'USDC'"`
	IdempotencyKey   string                     `gorm:"column:idempotency_key;not null;uniqueIndex"`
	CircleTransferID *string                    `gorm:"column:circle_transfer_id;uniqueIndex"`
	TxHash           *string                    `gorm:"column:tx_hash"`
	Description      *string                    `gorm:"column:description"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
