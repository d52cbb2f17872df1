package transactions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

func setupTransactionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  generation_id TEXT,
  direction TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USDC',
  idempotency_key TEXT NOT NULL UNIQUE,
  circle_transfer_id TEXT UNIQUE,
  tx_hash TEXT,
  description TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS transactions").Error
	})
	return db
}

func seedTransaction(t *testing.T, db *gorm.DB, walletID uuid.UUID, createdAt time.Time, key string) *models.Transaction {
	t.Helper()
	row := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       walletID,
		Direction:      enums.TransactionDirectionDebit,
		Status:         enums.TransactionStatusConfirmed,
		Amount:         decimal.RequireFromString("0.10"),
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: key,
		CreatedAt:      createdAt,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestRepositoryIdempotencyKeyUnique(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	seedTransaction(t, db, walletID, time.Now(), "gen-abc")

	dup := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       walletID,
		Direction:      enums.TransactionDirectionDebit,
		Status:         enums.TransactionStatusPending,
		Amount:         decimal.RequireFromString("0.10"),
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: "gen-abc",
	}
	err := repo.Create(ctx, dup)
	require.Error(t, err)

	found, err := repo.FindByIdempotencyKey(ctx, "gen-abc")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusConfirmed, found.Status)
}

func TestRepositoryListByWalletIDPaginates(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		seedTransaction(t, db, walletID, base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("gen-%d", i))
	}
	// another wallet's row must never leak in
	seedTransaction(t, db, uuid.New(), base, "gen-other")

	page, err := repo.ListByWalletID(ctx, walletID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 3) // limit + 1 buffer row

	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt) || page[0].CreatedAt.Equal(page[1].CreatedAt))

	cursor := pagination.EncodeCursor(pagination.Cursor{
		CreatedAt: page[1].CreatedAt,
		ID:        page[1].ID,
	})
	next, err := repo.ListByWalletID(ctx, walletID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.NotEmpty(t, next)
	for _, row := range next {
		assert.True(t, row.CreatedAt.Before(page[1].CreatedAt))
		assert.Equal(t, walletID, row.WalletID)
	}
}

func TestRepositoryUpdateStatusAndTransfer(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	walletID := uuid.New()
	row := seedTransaction(t, db, walletID, time.Now(), "gen-upd")

	require.NoError(t, repo.UpdateStatus(ctx, row.ID, enums.TransactionStatusReversed))
	require.NoError(t, repo.SetCircleTransfer(ctx, row.ID, "tr-77", "0xhash"))

	found, err := repo.FindByCircleTransferID(ctx, "tr-77")
	require.NoError(t, err)
	assert.Equal(t, row.ID, found.ID)
	assert.Equal(t, enums.TransactionStatusReversed, found.Status)
	require.NotNil(t, found.TxHash)
	assert.Equal(t, "0xhash", *found.TxHash)
}
