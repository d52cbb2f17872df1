package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// Wallet mirrors the Circle programmable wallet provisioned for a profile.
// Balance is a cache of the vendor-reported balance; the vendor stays
// authoritative and BalanceSyncedAt records the last successful sync.
type Wallet struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID       uuid.UUID       `gorm:"column:profile_id;type:uuid;not null;uniqueIndex"`
	CircleWalletID  string          `gorm:"column:circle_wallet_id;not null;uniqueIndex"`
	Address         string          `gorm:"column:address;not null"`
	Blockchain      string          `gorm:"column:blockchain;not null"`
	Currency        enums.Currency  `gorm:"column:currency;type:currency_enum;not null;default:'USDC'"`
	Balance         decimal.Decimal `gorm:"column:balance;type:numeric(20,6);not null;default:0"`
	BalanceSyncedAt *time.Time      `gorm:"column:balance_synced_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
