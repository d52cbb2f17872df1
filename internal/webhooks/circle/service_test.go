package circlewebhook

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/internal/ledger"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type memTransactionRepo struct {
	byID         map[uuid.UUID]*models.Transaction
	byKey        map[string]*models.Transaction
	byTransferID map[string]*models.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{
		byID:         map[uuid.UUID]*models.Transaction{},
		byKey:        map[string]*models.Transaction{},
		byTransferID: map[string]*models.Transaction{},
	}
}

func (m *memTransactionRepo) WithTx(tx *gorm.DB) transactions.Repository { return m }

func (m *memTransactionRepo) Create(ctx context.Context, txn *models.Transaction) error {
	if _, exists := m.byKey[txn.IdempotencyKey]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint %q", "idx_transactions_idempotency_key")
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	m.byID[txn.ID] = txn
	m.byKey[txn.IdempotencyKey] = txn
	if txn.CircleTransferID != nil {
		m.byTransferID[*txn.CircleTransferID] = txn
	}
	return nil
}

func (m *memTransactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if txn, ok := m.byID[id]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	if txn, ok := m.byKey[key]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByCircleTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	if txn, ok := m.byTransferID[transferID]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) ListByWalletID(ctx context.Context, walletID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) ListAll(ctx context.Context, params pagination.Params) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error {
	txn, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	txn.Status = status
	return nil
}

func (m *memTransactionRepo) SetCircleTransfer(ctx context.Context, id uuid.UUID, transferID, txHash string) error {
	txn, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	txn.CircleTransferID = &transferID
	txn.TxHash = &txHash
	m.byTransferID[transferID] = txn
	return nil
}

type memWalletRepo struct {
	byCircleID map[string]*models.Wallet
	credits    int
}

func newMemWalletRepo() *memWalletRepo {
	return &memWalletRepo{byCircleID: map[string]*models.Wallet{}}
}

func (m *memWalletRepo) WithTx(tx *gorm.DB) wallets.Repository { return m }

func (m *memWalletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	m.byCircleID[wallet.CircleWalletID] = wallet
	return nil
}

func (m *memWalletRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	for _, wallet := range m.byCircleID {
		if wallet.ID == id {
			return wallet, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) FindByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	for _, wallet := range m.byCircleID {
		if wallet.ProfileID == profileID {
			return wallet, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) FindByCircleWalletID(ctx context.Context, circleWalletID string) (*models.Wallet, error) {
	if wallet, ok := m.byCircleID[circleWalletID]; ok {
		return wallet, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	return nil
}

func (m *memWalletRepo) DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	return false, nil
}

func (m *memWalletRepo) CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	wallet, err := m.FindByID(ctx, id)
	if err != nil {
		return err
	}
	wallet.Balance = wallet.Balance.Add(amount)
	m.credits++
	return nil
}

type ledgerRecorder struct {
	events []*models.LedgerEvent
}

func (m *ledgerRecorder) WithTx(tx *gorm.DB) ledger.Repository { return m }

func (m *ledgerRecorder) Create(ctx context.Context, event *models.LedgerEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *ledgerRecorder) ListByWalletID(ctx context.Context, walletID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	return nil, nil
}

func (m *ledgerRecorder) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.LedgerEvent, error) {
	return nil, nil
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
}

func (f *fakeInvalidator) InvalidateBalance(ctx context.Context, walletID uuid.UUID) error {
	f.invalidated = append(f.invalidated, walletID)
	return nil
}

type webhookFixture struct {
	svc          *Service
	transactions *memTransactionRepo
	wallets      *memWalletRepo
	ledger       *ledgerRecorder
	emitter      *fakeEmitter
	invalidator  *fakeInvalidator
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	txRepo := newMemTransactionRepo()
	walletRepo := newMemWalletRepo()
	ledgerRepo := &ledgerRecorder{}
	emitter := &fakeEmitter{}
	invalidator := &fakeInvalidator{}

	svc, err := NewService(ServiceParams{
		DB:           stubTxRunner{},
		Transactions: txRepo,
		Wallets:      walletRepo,
		Ledger:       ledgerRepo,
		Invalidator:  invalidator,
		Events:       emitter,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return &webhookFixture{
		svc:          svc,
		transactions: txRepo,
		wallets:      walletRepo,
		ledger:       ledgerRepo,
		emitter:      emitter,
		invalidator:  invalidator,
	}
}

func seedWallet(f *webhookFixture, circleWalletID string, balance string) *models.Wallet {
	wallet := &models.Wallet{
		ID:             uuid.New(),
		ProfileID:      uuid.New(),
		CircleWalletID: circleWalletID,
		Balance:        decimal.RequireFromString(balance),
	}
	f.wallets.byCircleID[circleWalletID] = wallet
	return wallet
}

func TestDepositCreditsWalletOnce(t *testing.T) {
	f := newWebhookFixture(t)
	wallet := seedWallet(f, "cw-1", "1.00")

	notification := &circle.TransferNotification{
		ID:       "transfer-1",
		WalletID: "cw-1",
		State:    "COMPLETE",
		TxHash:   "0xdeadbeef",
		Amounts:  []string{"5.00"},
	}

	if err := f.svc.HandleTransfer(context.Background(), notification); err != nil {
		t.Fatalf("handle transfer: %v", err)
	}

	if !wallet.Balance.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("balance = %s, want 6.00", wallet.Balance)
	}
	deposit, err := f.transactions.FindByIdempotencyKey(context.Background(), DepositKey("transfer-1"))
	if err != nil {
		t.Fatalf("deposit row missing: %v", err)
	}
	if deposit.Status != enums.TransactionStatusConfirmed || deposit.Direction != enums.TransactionDirectionCredit {
		t.Error("deposit row has wrong status or direction")
	}
	if len(f.ledger.events) != 1 || f.ledger.events[0].Type != enums.LedgerEventTypeDeposit {
		t.Error("ledger deposit event missing")
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.EventWalletCredited {
		t.Error("wallet_credited event missing")
	}
	if len(f.invalidator.invalidated) != 1 {
		t.Error("balance cache not invalidated")
	}

	// webhook replay collapses into the original deposit
	if err := f.svc.HandleTransfer(context.Background(), notification); err != nil {
		t.Fatalf("replayed transfer: %v", err)
	}
	if f.wallets.credits != 1 {
		t.Errorf("credits = %d, want 1 after replay", f.wallets.credits)
	}
}

func TestDepositUnknownWalletDropped(t *testing.T) {
	f := newWebhookFixture(t)

	err := f.svc.HandleTransfer(context.Background(), &circle.TransferNotification{
		ID:       "transfer-2",
		WalletID: "cw-unknown",
		State:    "COMPLETE",
		Amounts:  []string{"5.00"},
	})
	if err != nil {
		t.Fatalf("unknown wallet must ack: %v", err)
	}
	if f.wallets.credits != 0 || len(f.emitter.events) != 0 {
		t.Error("unknown wallet must not move money")
	}
}

func TestDepositIgnoresIntermediateStates(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(f, "cw-1", "1.00")

	err := f.svc.HandleTransfer(context.Background(), &circle.TransferNotification{
		ID:       "transfer-3",
		WalletID: "cw-1",
		State:    "RUNNING",
		Amounts:  []string{"5.00"},
	})
	if err != nil {
		t.Fatalf("intermediate state must ack: %v", err)
	}
	if f.wallets.credits != 0 {
		t.Error("intermediate state must not credit")
	}
}

func TestOutboundFailedMarksPendingTransactionFailed(t *testing.T) {
	f := newWebhookFixture(t)
	transferID := "transfer-4"
	txn := &models.Transaction{
		WalletID:         uuid.New(),
		Direction:        enums.TransactionDirectionDebit,
		Status:           enums.TransactionStatusPending,
		Amount:           decimal.RequireFromString("0.10"),
		IdempotencyKey:   "gen-" + uuid.NewString(),
		CircleTransferID: &transferID,
	}
	if err := f.transactions.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	err := f.svc.HandleTransfer(context.Background(), &circle.TransferNotification{
		ID:    transferID,
		State: "FAILED",
	})
	if err != nil {
		t.Fatalf("handle transfer: %v", err)
	}
	if txn.Status != enums.TransactionStatusFailed {
		t.Errorf("status = %s, want failed", txn.Status)
	}
}

func TestOutboundCompleteRecordsTxHash(t *testing.T) {
	f := newWebhookFixture(t)
	transferID := "transfer-5"
	txn := &models.Transaction{
		WalletID:         uuid.New(),
		Direction:        enums.TransactionDirectionDebit,
		Status:           enums.TransactionStatusConfirmed,
		Amount:           decimal.RequireFromString("0.10"),
		IdempotencyKey:   "gen-" + uuid.NewString(),
		CircleTransferID: &transferID,
	}
	if err := f.transactions.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	err := f.svc.HandleTransfer(context.Background(), &circle.TransferNotification{
		ID:     transferID,
		State:  "complete",
		TxHash: "0xfinal",
	})
	if err != nil {
		t.Fatalf("handle transfer: %v", err)
	}
	if txn.TxHash == nil || *txn.TxHash != "0xfinal" {
		t.Error("tx hash not recorded")
	}
}

func TestHandleTransferRequiresNotification(t *testing.T) {
	f := newWebhookFixture(t)
	err := f.svc.HandleTransfer(context.Background(), nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
