package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// GenerationSubmittedEvent signals a new task was accepted by a vendor.
type GenerationSubmittedEvent struct {
	GenerationID uuid.UUID            `json:"generation_id"`
	ProfileID    uuid.UUID            `json:"profile_id"`
	Kind         enums.GenerationKind `json:"kind"`
	Vendor       enums.Vendor         `json:"vendor"`
	VendorTaskID string               `json:"vendor_task_id"`
	Model        string               `json:"model"`
	IsDemo       bool                 `json:"is_demo"`
	Price        decimal.Decimal      `json:"price"`
	SubmittedAt  time.Time            `json:"submitted_at"`
}

// GenerationSettledEvent is emitted exactly once when a task succeeds and
// the wallet debit is recorded.
type GenerationSettledEvent struct {
	GenerationID  uuid.UUID            `json:"generation_id"`
	ProfileID     uuid.UUID            `json:"profile_id"`
	Kind          enums.GenerationKind `json:"kind"`
	Vendor        enums.Vendor         `json:"vendor"`
	VendorTaskID  string               `json:"vendor_task_id"`
	TransactionID *uuid.UUID           `json:"transaction_id,omitempty"`
	Price         decimal.Decimal      `json:"price"`
	IsDemo        bool                 `json:"is_demo"`
	CompletedAt   time.Time            `json:"completed_at"`
}

// GenerationFailedEvent reports a vendor-side failure.
type GenerationFailedEvent struct {
	GenerationID uuid.UUID            `json:"generation_id"`
	ProfileID    uuid.UUID            `json:"profile_id"`
	Kind         enums.GenerationKind `json:"kind"`
	Vendor       enums.Vendor         `json:"vendor"`
	Reason       string               `json:"reason,omitempty"`
	FailedAt     time.Time            `json:"failed_at"`
}

// GenerationExpiredEvent reports a task the reaper gave up on.
type GenerationExpiredEvent struct {
	GenerationID uuid.UUID    `json:"generation_id"`
	ProfileID    uuid.UUID    `json:"profile_id"`
	Vendor       enums.Vendor `json:"vendor"`
	ExpiredAt    time.Time    `json:"expired_at"`
}

// GenerationReversedEvent records a compensating credit after a settled
// generation turned out to be unusable.
type GenerationReversedEvent struct {
	GenerationID  uuid.UUID       `json:"generation_id"`
	ProfileID     uuid.UUID       `json:"profile_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	ReversedAt    time.Time       `json:"reversed_at"`
}

// WalletDebitedEvent mirrors a confirmed debit for realtime balance sync.
type WalletDebitedEvent struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	ProfileID     uuid.UUID       `json:"profile_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	GenerationID  *uuid.UUID      `json:"generation_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	DebitedAt     time.Time       `json:"debited_at"`
}

// WalletCreditedEvent mirrors a confirmed credit (deposit or reversal).
type WalletCreditedEvent struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	ProfileID     uuid.UUID       `json:"profile_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	CreditedAt    time.Time       `json:"credited_at"`
}

// WalletSyncedEvent reports a fresh vendor-reported balance.
type WalletSyncedEvent struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	ProfileID uuid.UUID       `json:"profile_id"`
	Balance   decimal.Decimal `json:"balance"`
	SyncedAt  time.Time       `json:"synced_at"`
}

// DemoQuotaExhaustedEvent fires when a profile burns its last free generation.
type DemoQuotaExhaustedEvent struct {
	ProfileID   uuid.UUID `json:"profile_id"`
	Period      string    `json:"period"`
	Limit       int       `json:"limit"`
	ExhaustedAt time.Time `json:"exhausted_at"`
}
