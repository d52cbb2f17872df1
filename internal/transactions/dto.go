package transactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// TransactionDTO is the transport shape for a wallet transaction.
type TransactionDTO struct {
	ID               uuid.UUID                  `json:"id"`
	WalletID         uuid.UUID                  `json:"wallet_id"`
	GenerationID     *uuid.UUID                 `json:"generation_id,omitempty"`
	Direction        enums.TransactionDirection `json:"direction"`
	Status           enums.TransactionStatus    `json:"status"`
	Amount           decimal.Decimal            `json:"amount"`
	Currency         enums.Currency             `json:"currency"`
	CircleTransferID *string                    `json:"circle_transfer_id,omitempty"`
	TxHash           *string                    `json:"tx_hash,omitempty"`
	Description      *string                    `json:"description,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// FromModel converts a transaction model into its transport shape.
func FromModel(t *models.Transaction) *TransactionDTO {
	if t == nil {
		return nil
	}
	return &TransactionDTO{
		ID:               t.ID,
		WalletID:         t.WalletID,
		GenerationID:     t.GenerationID,
		Direction:        t.Direction,
		Status:           t.Status,
		Amount:           t.Amount,
		Currency:         t.Currency,
		CircleTransferID: t.CircleTransferID,
		TxHash:           t.TxHash,
		Description:      t.Description,
		CreatedAt:        t.CreatedAt,
	}
}
