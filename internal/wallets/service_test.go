package wallets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/internal/ledger"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeWalletRepo struct {
	byProfile map[uuid.UUID]*models.Wallet
	created   *models.Wallet
	createErr error
	updated   *decimal.Decimal
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{byProfile: map[uuid.UUID]*models.Wallet{}}
}

func (f *fakeWalletRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeWalletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	if f.createErr != nil {
		return f.createErr
	}
	wallet.ID = uuid.New()
	f.byProfile[wallet.ProfileID] = wallet
	f.created = wallet
	return nil
}

func (f *fakeWalletRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	for _, wallet := range f.byProfile {
		if wallet.ID == id {
			return wallet, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWalletRepo) FindByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	if wallet, ok := f.byProfile[profileID]; ok {
		return wallet, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWalletRepo) FindByCircleWalletID(ctx context.Context, circleWalletID string) (*models.Wallet, error) {
	for _, wallet := range f.byProfile {
		if wallet.CircleWalletID == circleWalletID {
			return wallet, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWalletRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	f.updated = &balance
	for _, wallet := range f.byProfile {
		if wallet.ID == id {
			wallet.Balance = balance
			at := syncedAt
			wallet.BalanceSyncedAt = &at
		}
	}
	return nil
}

func (f *fakeWalletRepo) DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	return true, nil
}

func (f *fakeWalletRepo) CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return nil
}

type fakeCircleAPI struct {
	createFn   func(ctx context.Context, req circle.CreateWalletRequest) (*circle.Wallet, error)
	balanceFn  func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error)
	transferFn func(ctx context.Context, req circle.TransferRequest) (*circle.Transfer, error)
	transfers  []circle.TransferRequest
}

func (f *fakeCircleAPI) CreateWallet(ctx context.Context, req circle.CreateWalletRequest) (*circle.Wallet, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &circle.Wallet{ID: "cw-1", Address: "0xabc", Blockchain: req.Blockchain}, nil
}

func (f *fakeCircleAPI) GetBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
	if f.balanceFn != nil {
		return f.balanceFn(ctx, walletID, tokenID)
	}
	return decimal.Zero, nil
}

func (f *fakeCircleAPI) CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.Transfer, error) {
	f.transfers = append(f.transfers, req)
	if f.transferFn != nil {
		return f.transferFn(ctx, req)
	}
	return &circle.Transfer{ID: "tr-1", State: "COMPLETE", TxHash: "0xhash", Amount: req.Amount}, nil
}

type memTransactionRepo struct {
	rows map[uuid.UUID]*models.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{rows: map[uuid.UUID]*models.Transaction{}}
}

func (m *memTransactionRepo) WithTx(tx *gorm.DB) transactions.Repository { return m }

func (m *memTransactionRepo) Create(ctx context.Context, transaction *models.Transaction) error {
	for _, row := range m.rows {
		if row.IdempotencyKey == transaction.IdempotencyKey {
			return gorm.ErrDuplicatedKey
		}
	}
	m.rows[transaction.ID] = transaction
	return nil
}

func (m *memTransactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if row, ok := m.rows[id]; ok {
		return row, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	for _, row := range m.rows {
		if row.IdempotencyKey == key {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByCircleTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	for _, row := range m.rows {
		if row.CircleTransferID != nil && *row.CircleTransferID == transferID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) ListByWalletID(ctx context.Context, walletID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, row := range m.rows {
		if row.WalletID == walletID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memTransactionRepo) ListAll(ctx context.Context, params pagination.Params) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, row := range m.rows {
		out = append(out, *row)
	}
	return out, nil
}

func (m *memTransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error {
	if row, ok := m.rows[id]; ok {
		row.Status = status
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) SetCircleTransfer(ctx context.Context, id uuid.UUID, transferID, txHash string) error {
	if row, ok := m.rows[id]; ok {
		row.CircleTransferID = &transferID
		row.TxHash = &txHash
		return nil
	}
	return gorm.ErrRecordNotFound
}

type memLedgerRepo struct {
	events []*models.LedgerEvent
}

func (m *memLedgerRepo) WithTx(tx *gorm.DB) ledger.Repository { return m }

func (m *memLedgerRepo) Create(ctx context.Context, event *models.LedgerEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memLedgerRepo) ListByWalletID(ctx context.Context, walletID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	return nil, nil
}

func (m *memLedgerRepo) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.LedgerEvent, error) {
	return nil, nil
}

type fakeBalanceCache struct {
	values  map[string]string
	sets    map[string]string
	deleted []string
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{values: map[string]string{}, sets: map[string]string{}}
}

func (f *fakeBalanceCache) Get(ctx context.Context, key string) (string, error) {
	if value, ok := f.values[key]; ok {
		return value, nil
	}
	return "", errors.New("redis: nil")
}

func (f *fakeBalanceCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.sets[key] = value.(string)
	return nil
}

func (f *fakeBalanceCache) Del(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeBalanceCache) WalletBalanceKey(walletID string) string {
	return "mf:balance:" + walletID
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T, repo *fakeWalletRepo, api *fakeCircleAPI, cache *fakeBalanceCache, emitter *fakeEmitter) Service {
	t.Helper()
	return newTestServiceWithStores(t, repo, api, cache, emitter, newMemTransactionRepo(), &memLedgerRepo{})
}

func newTestServiceWithStores(t *testing.T, repo *fakeWalletRepo, api *fakeCircleAPI, cache *fakeBalanceCache, emitter *fakeEmitter, txns *memTransactionRepo, ledgerRepo *memLedgerRepo) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:           stubTxRunner{},
		Repo:         repo,
		Transactions: txns,
		Ledger:       ledgerRepo,
		Circle:       api,
		Cache:        cache,
		Events:       emitter,
		CircleConfig: config.CircleConfig{
			WalletSetID:     "ws-1",
			Blockchain:      "MATIC-AMOY",
			TokenID:         "tok-usdc",
			BalanceCacheTTL: 10 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestProvisionCreatesWallet(t *testing.T) {
	repo := newFakeWalletRepo()
	api := &fakeCircleAPI{}
	svc := newTestService(t, repo, api, newFakeBalanceCache(), &fakeEmitter{})

	profileID := uuid.New()
	wallet, err := svc.Provision(context.Background(), profileID)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if wallet.CircleWalletID != "cw-1" || wallet.Address != "0xabc" {
		t.Fatalf("unexpected wallet %+v", wallet)
	}
	if wallet.Currency != enums.CurrencyUSDC {
		t.Fatalf("unexpected currency %s", wallet.Currency)
	}
	if repo.created == nil {
		t.Fatal("wallet row not persisted")
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	repo := newFakeWalletRepo()
	profileID := uuid.New()
	existing := &models.Wallet{ID: uuid.New(), ProfileID: profileID, CircleWalletID: "cw-old"}
	repo.byProfile[profileID] = existing

	calls := 0
	api := &fakeCircleAPI{
		createFn: func(ctx context.Context, req circle.CreateWalletRequest) (*circle.Wallet, error) {
			calls++
			return &circle.Wallet{ID: "cw-new"}, nil
		},
	}
	svc := newTestService(t, repo, api, newFakeBalanceCache(), &fakeEmitter{})

	wallet, err := svc.Provision(context.Background(), profileID)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if wallet != existing {
		t.Fatalf("expected existing wallet to be returned")
	}
	if calls != 0 {
		t.Fatalf("circle should not be called for an existing wallet")
	}
}

func TestBalanceServedFromCache(t *testing.T) {
	repo := newFakeWalletRepo()
	profileID := uuid.New()
	wallet := &models.Wallet{ID: uuid.New(), ProfileID: profileID, CircleWalletID: "cw-1"}
	repo.byProfile[profileID] = wallet

	cache := newFakeBalanceCache()
	cache.values["mf:balance:"+wallet.ID.String()] = "12.50"

	vendorCalls := 0
	api := &fakeCircleAPI{
		balanceFn: func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
			vendorCalls++
			return decimal.Zero, nil
		},
	}
	svc := newTestService(t, repo, api, cache, &fakeEmitter{})

	balance, err := svc.Balance(context.Background(), profileID, false)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("unexpected balance %s", balance)
	}
	if vendorCalls != 0 {
		t.Fatalf("vendor should not be hit on cache hit")
	}
}

func TestBalanceSyncsAndEmitsOnChange(t *testing.T) {
	repo := newFakeWalletRepo()
	profileID := uuid.New()
	wallet := &models.Wallet{
		ID:             uuid.New(),
		ProfileID:      profileID,
		CircleWalletID: "cw-1",
		Balance:        decimal.RequireFromString("5"),
	}
	repo.byProfile[profileID] = wallet

	api := &fakeCircleAPI{
		balanceFn: func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
			if walletID != "cw-1" || tokenID != "tok-usdc" {
				t.Fatalf("unexpected vendor call %s/%s", walletID, tokenID)
			}
			return decimal.RequireFromString("42.10"), nil
		},
	}
	cache := newFakeBalanceCache()
	emitter := &fakeEmitter{}
	svc := newTestService(t, repo, api, cache, emitter)

	balance, err := svc.Balance(context.Background(), profileID, true)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("42.10")) {
		t.Fatalf("unexpected balance %s", balance)
	}
	if repo.updated == nil || !repo.updated.Equal(balance) {
		t.Fatalf("stored balance not updated")
	}
	if cache.sets["mf:balance:"+wallet.ID.String()] != "42.1" {
		t.Fatalf("cache not refreshed: %+v", cache.sets)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventWalletSynced {
		t.Fatalf("wallet_synced event not emitted: %+v", emitter.events)
	}
}

func TestBalanceFallsBackToStoredOnVendorError(t *testing.T) {
	repo := newFakeWalletRepo()
	profileID := uuid.New()
	wallet := &models.Wallet{
		ID:             uuid.New(),
		ProfileID:      profileID,
		CircleWalletID: "cw-1",
		Balance:        decimal.RequireFromString("7.25"),
	}
	repo.byProfile[profileID] = wallet

	api := &fakeCircleAPI{
		balanceFn: func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("circle down")
		},
	}
	svc := newTestService(t, repo, api, newFakeBalanceCache(), &fakeEmitter{})

	balance, err := svc.Balance(context.Background(), profileID, true)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("expected stored balance, got %s", balance)
	}
}

func TestTransferMovesFundsBetweenWallets(t *testing.T) {
	repo := newFakeWalletRepo()
	senderProfile := uuid.New()
	recipientProfile := uuid.New()
	repo.byProfile[senderProfile] = &models.Wallet{
		ID: uuid.New(), ProfileID: senderProfile, CircleWalletID: "cw-sender",
		Balance: decimal.RequireFromString("20"),
	}
	repo.byProfile[recipientProfile] = &models.Wallet{
		ID: uuid.New(), ProfileID: recipientProfile, CircleWalletID: "cw-recipient",
	}

	api := &fakeCircleAPI{
		balanceFn: func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
			return decimal.RequireFromString("20"), nil
		},
	}
	txns := newMemTransactionRepo()
	ledgerRepo := &memLedgerRepo{}
	emitter := &fakeEmitter{}
	svc := newTestServiceWithStores(t, repo, api, newFakeBalanceCache(), emitter, txns, ledgerRepo)

	result, err := svc.Transfer(context.Background(), senderProfile, TransferInput{
		RecipientProfileID: recipientProfile,
		Amount:             "5.50",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.CircleTransferID != "tr-1" {
		t.Fatalf("unexpected transfer id %s", result.CircleTransferID)
	}
	if !result.Balance.Equal(decimal.RequireFromString("14.50")) {
		t.Fatalf("unexpected remaining balance %s", result.Balance)
	}

	if len(api.transfers) != 1 {
		t.Fatalf("expected one circle transfer, got %d", len(api.transfers))
	}
	if api.transfers[0].WalletID != "cw-sender" || api.transfers[0].DestinationID != "cw-recipient" {
		t.Fatalf("unexpected transfer routing %+v", api.transfers[0])
	}

	if len(txns.rows) != 2 {
		t.Fatalf("expected debit and credit rows, got %d", len(txns.rows))
	}
	debit, err := txns.FindByID(context.Background(), result.TransactionID)
	if err != nil {
		t.Fatalf("debit row missing: %v", err)
	}
	if debit.Status != enums.TransactionStatusConfirmed || debit.Direction != enums.TransactionDirectionDebit {
		t.Fatalf("unexpected debit row %+v", debit)
	}

	if len(ledgerRepo.events) != 2 {
		t.Fatalf("expected withdrawal and deposit ledger events, got %d", len(ledgerRepo.events))
	}

	var debited, credited bool
	for _, event := range emitter.events {
		switch event.EventType {
		case enums.EventWalletDebited:
			debited = true
		case enums.EventWalletCredited:
			credited = true
		}
	}
	if !debited || !credited {
		t.Fatalf("expected debited and credited events, got %+v", emitter.events)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	repo := newFakeWalletRepo()
	senderProfile := uuid.New()
	recipientProfile := uuid.New()
	repo.byProfile[senderProfile] = &models.Wallet{
		ID: uuid.New(), ProfileID: senderProfile, CircleWalletID: "cw-sender",
		Balance: decimal.RequireFromString("1"),
	}
	repo.byProfile[recipientProfile] = &models.Wallet{
		ID: uuid.New(), ProfileID: recipientProfile, CircleWalletID: "cw-recipient",
	}

	api := &fakeCircleAPI{
		balanceFn: func(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
			return decimal.RequireFromString("1"), nil
		},
	}
	svc := newTestService(t, repo, api, newFakeBalanceCache(), &fakeEmitter{})

	_, err := svc.Transfer(context.Background(), senderProfile, TransferInput{
		RecipientProfileID: recipientProfile,
		Amount:             "5",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Fatalf("error = %v, want insufficient code", err)
	}
	if len(api.transfers) != 0 {
		t.Fatal("circle must not be called when funds are short")
	}
}

func TestTransferRejectsSelfAndUnknownRecipient(t *testing.T) {
	repo := newFakeWalletRepo()
	senderProfile := uuid.New()
	repo.byProfile[senderProfile] = &models.Wallet{
		ID: uuid.New(), ProfileID: senderProfile, CircleWalletID: "cw-sender",
		Balance: decimal.RequireFromString("10"),
	}
	svc := newTestService(t, repo, &fakeCircleAPI{}, newFakeBalanceCache(), &fakeEmitter{})

	_, err := svc.Transfer(context.Background(), senderProfile, TransferInput{
		RecipientProfileID: senderProfile,
		Amount:             "1",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("error = %v, want validation code", err)
	}

	_, err = svc.Transfer(context.Background(), senderProfile, TransferInput{
		RecipientProfileID: uuid.New(),
		Amount:             "1",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("error = %v, want not found code", err)
	}
}

func TestInvalidateBalance(t *testing.T) {
	cache := newFakeBalanceCache()
	svc := newTestService(t, newFakeWalletRepo(), &fakeCircleAPI{}, cache, &fakeEmitter{})

	walletID := uuid.New()
	if err := svc.InvalidateBalance(context.Background(), walletID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if len(cache.deleted) != 1 || cache.deleted[0] != "mf:balance:"+walletID.String() {
		t.Fatalf("cache key not deleted: %+v", cache.deleted)
	}
}
