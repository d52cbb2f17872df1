package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/internal/generations"
	"github.com/mediaforge-ai/mediaforge-backend/internal/ledger"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

// stubTxRunner rolls back by not running fn while failures remain.
type stubTxRunner struct {
	failures int
}

func (r *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("commit failed: connection reset")
	}
	return fn(nil)
}

type memGenerationRepo struct {
	rows map[uuid.UUID]*models.Generation
}

func newMemGenerationRepo() *memGenerationRepo {
	return &memGenerationRepo{rows: map[uuid.UUID]*models.Generation{}}
}

func (m *memGenerationRepo) WithTx(tx *gorm.DB) generations.Repository { return m }

func (m *memGenerationRepo) Create(ctx context.Context, g *models.Generation) error {
	m.rows[g.ID] = g
	return nil
}

func (m *memGenerationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	if g, ok := m.rows[id]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memGenerationRepo) FindByVendorTaskID(ctx context.Context, taskID string) (*models.Generation, error) {
	for _, g := range m.rows {
		if g.VendorTaskID == taskID {
			copied := *g
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memGenerationRepo) ListByProfileID(ctx context.Context, profileID uuid.UUID, filter generations.ListFilter, params pagination.Params) ([]models.Generation, error) {
	return nil, nil
}

func (m *memGenerationRepo) ListUnsettled(ctx context.Context, now time.Time, limit int) ([]models.Generation, error) {
	var out []models.Generation
	for _, g := range m.rows {
		if !g.Status.IsTerminal() && g.ExpiresAt.After(now) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memGenerationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Generation, error) {
	var out []models.Generation
	for _, g := range m.rows {
		if !g.Status.IsTerminal() && !g.ExpiresAt.After(now) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memGenerationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.rows, id)
	return nil
}

func (m *memGenerationRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if g, ok := m.rows[id]; ok && g.Status == enums.GenerationStatusPending {
		g.Status = enums.GenerationStatusProcessing
	}
	return nil
}

func (m *memGenerationRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, resultURLs []byte, resultText *string, completedAt time.Time) error {
	g, ok := m.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	g.Status = enums.GenerationStatusSucceeded
	g.ResultURLs = resultURLs
	g.ResultText = resultText
	g.CompletedAt = &completedAt
	return nil
}

func (m *memGenerationRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) error {
	g, ok := m.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	g.Status = enums.GenerationStatusFailed
	g.FailureReason = &reason
	g.CompletedAt = &completedAt
	return nil
}

func (m *memGenerationRepo) MarkExpired(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	g, ok := m.rows[id]
	if !ok || g.Status.IsTerminal() {
		return false, nil
	}
	g.Status = enums.GenerationStatusExpired
	g.CompletedAt = &completedAt
	return true, nil
}

type memTransactionRepo struct {
	rows map[string]*models.Transaction // keyed by idempotency key
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{rows: map[string]*models.Transaction{}}
}

func (m *memTransactionRepo) WithTx(tx *gorm.DB) transactions.Repository { return m }

func (m *memTransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	if _, exists := m.rows[t.IdempotencyKey]; exists {
		return errors.New("UNIQUE constraint failed: transactions.idempotency_key")
	}
	m.rows[t.IdempotencyKey] = t
	return nil
}

func (m *memTransactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	for _, t := range m.rows {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	if t, ok := m.rows[key]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) FindByCircleTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	for _, t := range m.rows {
		if t.CircleTransferID != nil && *t.CircleTransferID == transferID {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range m.rows {
		if t.GenerationID != nil && *t.GenerationID == generationID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTransactionRepo) ListByWalletID(ctx context.Context, walletID uuid.UUID, params pagination.Params) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) ListAll(ctx context.Context, params pagination.Params) ([]models.Transaction, error) {
	return nil, nil
}

func (m *memTransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error {
	for _, t := range m.rows {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memTransactionRepo) SetCircleTransfer(ctx context.Context, id uuid.UUID, transferID, txHash string) error {
	for _, t := range m.rows {
		if t.ID == id {
			t.CircleTransferID = &transferID
			if txHash != "" {
				t.TxHash = &txHash
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type memWalletRepo struct {
	wallet *models.Wallet
	debits int
}

func (m *memWalletRepo) WithTx(tx *gorm.DB) wallets.Repository { return m }

func (m *memWalletRepo) Create(ctx context.Context, w *models.Wallet) error { return nil }

func (m *memWalletRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	if m.wallet != nil && m.wallet.ID == id {
		copied := *m.wallet
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) FindByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	if m.wallet != nil && m.wallet.ProfileID == profileID {
		copied := *m.wallet
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) FindByCircleWalletID(ctx context.Context, circleWalletID string) (*models.Wallet, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memWalletRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	m.wallet.Balance = balance
	return nil
}

func (m *memWalletRepo) DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	if m.wallet.Balance.LessThan(amount) {
		return false, nil
	}
	m.wallet.Balance = m.wallet.Balance.Sub(amount)
	m.debits++
	return true, nil
}

func (m *memWalletRepo) CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	m.wallet.Balance = m.wallet.Balance.Add(amount)
	return nil
}

type memLedgerRepo struct {
	events []models.LedgerEvent
}

func (m *memLedgerRepo) WithTx(tx *gorm.DB) ledger.Repository { return m }

func (m *memLedgerRepo) Create(ctx context.Context, event *models.LedgerEvent) error {
	m.events = append(m.events, *event)
	return nil
}

func (m *memLedgerRepo) ListByWalletID(ctx context.Context, walletID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	return m.events, nil
}

func (m *memLedgerRepo) ListByGenerationID(ctx context.Context, generationID uuid.UUID) ([]models.LedgerEvent, error) {
	return m.events, nil
}

type fakeCircle struct {
	transfers []circle.TransferRequest
	err       error
}

func (f *fakeCircle) CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.Transfer, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.transfers = append(f.transfers, req)
	return &circle.Transfer{ID: "tr-" + req.IdempotencyKey[:8], State: "COMPLETE", TxHash: "0xabc", Amount: req.Amount}, nil
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeIngester struct {
	ingested []uuid.UUID
	err      error
}

func (f *fakeIngester) Ingest(ctx context.Context, generationID uuid.UUID) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.ingested = append(f.ingested, generationID)
	return 1, nil
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) InvalidateBalance(ctx context.Context, walletID uuid.UUID) error {
	f.calls++
	return nil
}

type fakeReleaser struct{ calls int }

func (f *fakeReleaser) Release(ctx context.Context, profileID uuid.UUID) error {
	f.calls++
	return nil
}

type statusAdapter struct {
	vendor   enums.Vendor
	statusFn func(taskID string) (*vendors.TaskStatus, error)
}

func (a *statusAdapter) Vendor() enums.Vendor                          { return a.vendor }
func (a *statusAdapter) Supports(kind enums.GenerationKind) bool       { return true }
func (a *statusAdapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	return nil, errors.New("not used")
}
func (a *statusAdapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	return a.statusFn(taskID)
}

type fixture struct {
	db          *stubTxRunner
	gens        *memGenerationRepo
	txns        *memTransactionRepo
	wallets     *memWalletRepo
	ledger      *memLedgerRepo
	circle      *fakeCircle
	emitter     *fakeEmitter
	invalidator *fakeInvalidator
	ingester    *fakeIngester
	releaser    *fakeReleaser
	svc         Service
}

func newFixture(t *testing.T, adapter vendors.Adapter) *fixture {
	t.Helper()

	f := &fixture{
		db:          &stubTxRunner{},
		gens:        newMemGenerationRepo(),
		txns:        newMemTransactionRepo(),
		wallets:     &memWalletRepo{},
		ledger:      &memLedgerRepo{},
		circle:      &fakeCircle{},
		emitter:     &fakeEmitter{},
		invalidator: &fakeInvalidator{},
		ingester:    &fakeIngester{},
		releaser:    &fakeReleaser{},
	}
	if adapter == nil {
		adapter = &statusAdapter{vendor: enums.VendorReplicate, statusFn: func(string) (*vendors.TaskStatus, error) {
			return &vendors.TaskStatus{State: vendors.TaskStateQueued}, nil
		}}
	}
	registry := vendors.NewRegistry(adapter)
	var err error
	f.svc, err = NewService(ServiceParams{
		DB:           f.db,
		Generations:  f.gens,
		Transactions: f.txns,
		Wallets:      f.wallets,
		Ledger:       f.ledger,
		Circle:       f.circle,
		Registry:     registry,
		Invalidator:  f.invalidator,
		Assets:       f.ingester,
		Demo:         f.releaser,
		Events:       f.emitter,
		CircleConfig: config.CircleConfig{TreasuryWalletID: "treasury-1", TokenID: "usdc-token"},
		GenerationConfig: config.GenerationConfig{
			PollInterval:    time.Millisecond,
			PollMaxInterval: 5 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return f
}

func (f *fixture) seedWallet(balance string) *models.Wallet {
	f.wallets.wallet = &models.Wallet{
		ID:             uuid.New(),
		ProfileID:      uuid.New(),
		CircleWalletID: "cw-1",
		Balance:        decimal.RequireFromString(balance),
	}
	return f.wallets.wallet
}

func (f *fixture) seedGeneration(profileID uuid.UUID, price string, isDemo bool) *models.Generation {
	g := &models.Generation{
		ID:           uuid.New(),
		ProfileID:    profileID,
		Kind:         enums.GenerationKindImage,
		Vendor:       enums.VendorReplicate,
		VendorTaskID: "task-" + uuid.NewString()[:8],
		Status:       enums.GenerationStatusProcessing,
		Prompt:       "a lighthouse",
		Price:        decimal.RequireFromString(price),
		IsDemo:       isDemo,
		SubmittedAt:  time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	f.gens.rows[g.ID] = g
	return g
}

func succeededStatus(urls ...string) vendors.TaskStatus {
	return vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultURLs: urls}
}

func TestSettleSuccessDebitsWalletOnce(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)

	err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus("https://cdn/img.png"))
	if err != nil {
		t.Fatalf("SettleResult returned error: %v", err)
	}

	txn, err := f.txns.FindByIdempotencyKey(context.Background(), SettleKey(gen.ID))
	if err != nil {
		t.Fatalf("settlement transaction missing: %v", err)
	}
	if txn.Status != enums.TransactionStatusConfirmed {
		t.Errorf("transaction status = %s, want confirmed", txn.Status)
	}
	if txn.CircleTransferID == nil {
		t.Error("expected circle transfer id on the transaction")
	}
	if !f.wallets.wallet.Balance.Equal(decimal.RequireFromString("4.9")) {
		t.Errorf("balance = %s, want 4.9", f.wallets.wallet.Balance)
	}
	if len(f.ledger.events) != 1 || f.ledger.events[0].Type != enums.LedgerEventTypeGenerationDebit {
		t.Fatalf("ledger events = %+v, want one generation_debit", f.ledger.events)
	}
	if got := f.emitter.types(); len(got) != 2 || got[0] != enums.EventGenerationSettled || got[1] != enums.EventWalletDebited {
		t.Errorf("events = %v, want settled then debited", got)
	}
	if f.invalidator.calls != 1 {
		t.Errorf("balance cache invalidated %d times, want 1", f.invalidator.calls)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusSucceeded {
		t.Errorf("generation status = %s, want succeeded", f.gens.rows[gen.ID].Status)
	}
	if len(f.ingester.ingested) != 1 || f.ingester.ingested[0] != gen.ID {
		t.Errorf("ingested = %v, want the settled generation", f.ingester.ingested)
	}

	// replay is a no-op
	if err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus()); err != nil {
		t.Fatalf("replayed SettleResult returned error: %v", err)
	}
	if f.wallets.debits != 1 {
		t.Errorf("wallet debited %d times, want 1", f.wallets.debits)
	}
	if len(f.circle.transfers) != 1 {
		t.Errorf("circle transfers = %d, want 1", len(f.circle.transfers))
	}
}

func TestSettleDemoSkipsWallet(t *testing.T) {
	f := newFixture(t, nil)
	gen := f.seedGeneration(uuid.New(), "0.10", true)

	err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus("https://cdn/img.png"))
	if err != nil {
		t.Fatalf("SettleResult returned error: %v", err)
	}
	if len(f.circle.transfers) != 0 {
		t.Error("demo settlement must not move money")
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != enums.EventGenerationSettled {
		t.Errorf("events = %v, want one generation_settled", got)
	}
	if len(f.txns.rows) != 0 {
		t.Error("demo settlement must not create a transaction")
	}
	if len(f.ingester.ingested) != 1 {
		t.Errorf("ingested = %v, want the demo result stored", f.ingester.ingested)
	}
}

func TestSettleSurvivesIngestFailure(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)
	f.ingester.err = errors.New("bucket unavailable")

	if err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus("https://cdn/img.png")); err != nil {
		t.Fatalf("SettleResult returned error: %v", err)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusSucceeded {
		t.Errorf("status = %s, want succeeded despite ingest failure", f.gens.rows[gen.ID].Status)
	}
}

func TestSettleFailureReleasesDemoSlot(t *testing.T) {
	f := newFixture(t, nil)
	gen := f.seedGeneration(uuid.New(), "0.10", true)

	reason := "NSFW content detected"
	err := f.svc.SettleResult(context.Background(), gen.ID, vendors.TaskStatus{
		State:         vendors.TaskStateFailed,
		FailureReason: &reason,
	})
	if err != nil {
		t.Fatalf("SettleResult returned error: %v", err)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusFailed {
		t.Errorf("status = %s, want failed", f.gens.rows[gen.ID].Status)
	}
	if f.gens.rows[gen.ID].FailureReason == nil || *f.gens.rows[gen.ID].FailureReason != reason {
		t.Errorf("failure reason not recorded")
	}
	if f.releaser.calls != 1 {
		t.Errorf("demo released %d times, want 1", f.releaser.calls)
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != enums.EventGenerationFailed {
		t.Errorf("events = %v, want one generation_failed", got)
	}
}

func TestSettleTransferErrorLeavesClaimPending(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)
	f.circle.err = pkgerrors.New(pkgerrors.CodeDependency, "circle unavailable")

	err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus())
	if err == nil {
		t.Fatal("expected transfer error to surface")
	}

	txn, findErr := f.txns.FindByIdempotencyKey(context.Background(), SettleKey(gen.ID))
	if findErr != nil {
		t.Fatalf("pending claim missing: %v", findErr)
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Errorf("claim status = %s, want pending", txn.Status)
	}
	if f.gens.rows[gen.ID].Status.IsTerminal() {
		t.Error("generation must stay live for retry")
	}

	// vendor recovers; the retry reuses the same claim
	f.circle.err = nil
	if err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus()); err != nil {
		t.Fatalf("retried SettleResult returned error: %v", err)
	}
	if len(f.txns.rows) != 1 {
		t.Errorf("transactions = %d, want the single reused claim", len(f.txns.rows))
	}
	if txn.Status != enums.TransactionStatusConfirmed {
		t.Errorf("claim status = %s, want confirmed after retry", txn.Status)
	}
}

func TestSettleCommitFailureResumesPendingClaim(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)
	f.db.failures = 1

	err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus("https://cdn/img.png"))
	if err == nil {
		t.Fatal("expected commit failure to surface")
	}
	claim, findErr := f.txns.FindByIdempotencyKey(context.Background(), SettleKey(gen.ID))
	if findErr != nil {
		t.Fatalf("pending claim missing: %v", findErr)
	}
	if claim.Status != enums.TransactionStatusPending {
		t.Errorf("claim status = %s, want pending", claim.Status)
	}
	if f.gens.rows[gen.ID].Status.IsTerminal() {
		t.Error("generation must stay live for retry")
	}
	if len(f.circle.transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(f.circle.transfers))
	}

	// next poll resumes the claim; Circle dedupes the replayed transfer
	if err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus("https://cdn/img.png")); err != nil {
		t.Fatalf("retried SettleResult returned error: %v", err)
	}
	if len(f.txns.rows) != 1 {
		t.Errorf("transactions = %d, want the single reused claim", len(f.txns.rows))
	}
	if claim.Status != enums.TransactionStatusConfirmed {
		t.Errorf("claim status = %s, want confirmed after retry", claim.Status)
	}
	if len(f.circle.transfers) != 2 || f.circle.transfers[0].IdempotencyKey != f.circle.transfers[1].IdempotencyKey {
		t.Fatalf("replayed transfer must reuse the claim key: %+v", f.circle.transfers)
	}
	if f.wallets.debits != 1 {
		t.Errorf("wallet debited %d times, want 1", f.wallets.debits)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusSucceeded {
		t.Errorf("generation status = %s, want succeeded", f.gens.rows[gen.ID].Status)
	}
}

func TestReverseCreditsWallet(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)

	if err := f.svc.SettleResult(context.Background(), gen.ID, succeededStatus()); err != nil {
		t.Fatalf("SettleResult returned error: %v", err)
	}
	balanceAfterDebit := f.wallets.wallet.Balance

	if err := f.svc.Reverse(context.Background(), gen.ID, "unusable output"); err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if !f.wallets.wallet.Balance.Equal(balanceAfterDebit.Add(gen.Price)) {
		t.Errorf("balance = %s, want credit restored", f.wallets.wallet.Balance)
	}

	reversal, err := f.txns.FindByIdempotencyKey(context.Background(), ReverseKey(gen.ID))
	if err != nil {
		t.Fatalf("reversal transaction missing: %v", err)
	}
	if reversal.Direction != enums.TransactionDirectionCredit || reversal.Status != enums.TransactionStatusConfirmed {
		t.Errorf("reversal = %+v, want confirmed credit", reversal)
	}

	debit, _ := f.txns.FindByIdempotencyKey(context.Background(), SettleKey(gen.ID))
	if debit.Status != enums.TransactionStatusReversed {
		t.Errorf("original debit status = %s, want reversed", debit.Status)
	}

	// replay is a no-op
	transfersBefore := len(f.circle.transfers)
	if err := f.svc.Reverse(context.Background(), gen.ID, "unusable output"); err != nil {
		t.Fatalf("replayed Reverse returned error: %v", err)
	}
	if len(f.circle.transfers) != transfersBefore {
		t.Error("replayed reversal must not move money again")
	}
}

func TestReverseRequiresSettledGeneration(t *testing.T) {
	f := newFixture(t, nil)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)

	err := f.svc.Reverse(context.Background(), gen.ID, "nope")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Errorf("error = %v, want code %s", err, pkgerrors.CodeStateConflict)
	}
}

func TestPollOnceSettlesTerminalTasks(t *testing.T) {
	adapter := &statusAdapter{
		vendor: enums.VendorReplicate,
		statusFn: func(taskID string) (*vendors.TaskStatus, error) {
			return &vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultURLs: []string{"https://cdn/out.png"}}, nil
		},
	}
	f := newFixture(t, adapter)
	wallet := f.seedWallet("5")
	f.seedGeneration(wallet.ProfileID, "0.10", false)

	settled, err := f.svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}
}

func TestPollOnceMarksRunningTasksProcessing(t *testing.T) {
	adapter := &statusAdapter{
		vendor: enums.VendorReplicate,
		statusFn: func(taskID string) (*vendors.TaskStatus, error) {
			return &vendors.TaskStatus{State: vendors.TaskStateRunning}, nil
		},
	}
	f := newFixture(t, adapter)
	wallet := f.seedWallet("5")
	gen := f.seedGeneration(wallet.ProfileID, "0.10", false)
	gen.Status = enums.GenerationStatusPending

	settled, err := f.svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0", settled)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusProcessing {
		t.Errorf("status = %s, want processing", f.gens.rows[gen.ID].Status)
	}
}

func TestExpireOverdueEmitsAndReleasesDemo(t *testing.T) {
	f := newFixture(t, nil)
	gen := f.seedGeneration(uuid.New(), "0.10", true)
	gen.ExpiresAt = time.Now().Add(-time.Minute)

	expired, err := f.svc.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("ExpireOverdue returned error: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	if f.gens.rows[gen.ID].Status != enums.GenerationStatusExpired {
		t.Errorf("status = %s, want expired", f.gens.rows[gen.ID].Status)
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != enums.EventGenerationExpired {
		t.Errorf("events = %v, want one generation_expired", got)
	}
	if f.releaser.calls != 1 {
		t.Errorf("demo released %d times, want 1", f.releaser.calls)
	}
}
