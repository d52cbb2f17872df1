package generations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeGenerationRepo struct {
	Repository

	created  *models.Generation
	deleted  []uuid.UUID
	findFn   func(id uuid.UUID) (*models.Generation, error)
	listFn   func(profileID uuid.UUID, filter ListFilter, params pagination.Params) ([]models.Generation, error)
	createFn func(generation *models.Generation) error
}

func (f *fakeGenerationRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeGenerationRepo) Create(ctx context.Context, generation *models.Generation) error {
	if f.createFn != nil {
		return f.createFn(generation)
	}
	f.created = generation
	return nil
}

func (f *fakeGenerationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	if f.findFn != nil {
		return f.findFn(id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeGenerationRepo) ListByProfileID(ctx context.Context, profileID uuid.UUID, filter ListFilter, params pagination.Params) ([]models.Generation, error) {
	if f.listFn != nil {
		return f.listFn(profileID, filter, params)
	}
	return nil, nil
}

func (f *fakeGenerationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAssetPurger struct {
	purged []uuid.UUID
	err    error
}

func (f *fakeAssetPurger) PurgeForGeneration(ctx context.Context, generationID uuid.UUID) error {
	f.purged = append(f.purged, generationID)
	return f.err
}

type fakeAdapter struct {
	vendor   enums.Vendor
	kinds    map[enums.GenerationKind]bool
	submitFn func(req vendors.Request) (*vendors.SubmitResult, error)
}

func (f *fakeAdapter) Vendor() enums.Vendor { return f.vendor }

func (f *fakeAdapter) Supports(kind enums.GenerationKind) bool { return f.kinds[kind] }

func (f *fakeAdapter) Submit(ctx context.Context, req vendors.Request) (*vendors.SubmitResult, error) {
	if f.submitFn != nil {
		return f.submitFn(req)
	}
	return &vendors.SubmitResult{TaskID: "task-1", Status: &vendors.TaskStatus{State: vendors.TaskStateQueued}}, nil
}

func (f *fakeAdapter) Status(ctx context.Context, taskID string) (*vendors.TaskStatus, error) {
	return &vendors.TaskStatus{State: vendors.TaskStateQueued}, nil
}

type fakeWalletReader struct {
	wallet *models.Wallet
	err    error
}

func (f *fakeWalletReader) GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.wallet, nil
}

type fakeDemoGate struct {
	reservation *demo.Reservation
	reserveErr  error
	reserved    int
	released    int
}

func (f *fakeDemoGate) Reserve(ctx context.Context, profileID uuid.UUID) (*demo.Reservation, error) {
	f.reserved++
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	if f.reservation != nil {
		return f.reservation, nil
	}
	return &demo.Reservation{Remaining: 2}, nil
}

func (f *fakeDemoGate) Release(ctx context.Context, profileID uuid.UUID) error {
	f.released++
	return nil
}

type fakeSettler struct {
	settled []uuid.UUID
	err     error
}

func (f *fakeSettler) SettleResult(ctx context.Context, generationID uuid.UUID, status vendors.TaskStatus) error {
	f.settled = append(f.settled, generationID)
	return f.err
}

type fakeEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type generationFixture struct {
	repo    *fakeGenerationRepo
	wallets *fakeWalletReader
	demo    *fakeDemoGate
	settler *fakeSettler
	emitter *fakeEmitter
	purger  *fakeAssetPurger
	svc     Service
}

func newGenerationFixture(t *testing.T, adapter vendors.Adapter, wallets *fakeWalletReader) *generationFixture {
	t.Helper()

	f := &generationFixture{
		repo:    &fakeGenerationRepo{},
		wallets: wallets,
		demo:    &fakeDemoGate{},
		settler: &fakeSettler{},
		emitter: &fakeEmitter{},
		purger:  &fakeAssetPurger{},
	}
	registry := vendors.NewRegistry(adapter)
	var err error
	f.svc, err = NewService(ServiceParams{
		DB:       stubTxRunner{},
		Repo:     f.repo,
		Registry: registry,
		Wallets:  f.wallets,
		Demo:     f.demo,
		Settler:  f.settler,
		Events:   f.emitter,
		Assets:   f.purger,
		GenerationConfig: config.GenerationConfig{
			ChatPrice: "0.01", ImagePrice: "0.10", Model3DPrice: "0.50", VideoPrice: "1.00",
			TaskTTL: 30 * time.Minute,
		},
		DemoConfig: config.DemoConfig{MonthlyLimit: 3},
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return f
}

func chatAdapter() *fakeAdapter {
	return &fakeAdapter{
		vendor: enums.VendorOpenAI,
		kinds:  map[enums.GenerationKind]bool{enums.GenerationKindChat: true},
	}
}

func fundedWallet(balance string) *fakeWalletReader {
	return &fakeWalletReader{wallet: &models.Wallet{
		ID:      uuid.New(),
		Balance: decimal.RequireFromString(balance),
	}}
}

func TestSubmitPaidGeneration(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	profileID := uuid.New()

	got, err := f.svc.Submit(context.Background(), profileID, SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if got.IsDemo {
		t.Error("funded wallet submission must not be demo")
	}
	if f.demo.reserved != 0 {
		t.Errorf("demo reserved %d times, want 0", f.demo.reserved)
	}
	if f.repo.created == nil || f.repo.created.VendorTaskID != "task-1" {
		t.Fatalf("created row = %+v, want vendor task task-1", f.repo.created)
	}
	if f.repo.created.Status != enums.GenerationStatusPending {
		t.Errorf("status = %s, want pending", f.repo.created.Status)
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.EventGenerationSubmitted {
		t.Fatalf("events = %+v, want one generation_submitted", f.emitter.events)
	}
	if !got.Price.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("price = %s, want 0.01", got.Price)
	}
}

func TestSubmitWithoutWalletUsesDemoQuota(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), &fakeWalletReader{
		err: pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found"),
	})

	got, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !got.IsDemo {
		t.Error("expected demo generation")
	}
	if f.demo.reserved != 1 {
		t.Errorf("demo reserved %d times, want 1", f.demo.reserved)
	}
}

func TestSubmitLastDemoSlotEmitsExhaustedEvent(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), &fakeWalletReader{
		err: pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found"),
	})
	f.demo.reservation = &demo.Reservation{Remaining: 0, Exhausted: true}

	_, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(f.emitter.events) != 2 {
		t.Fatalf("got %d events, want submitted plus quota exhausted", len(f.emitter.events))
	}
	if f.emitter.events[1].EventType != enums.EventDemoQuotaExhausted {
		t.Errorf("second event = %s, want demo_quota_exhausted", f.emitter.events[1].EventType)
	}
}

func TestSubmitUnderfundedWalletFallsBackToDemo(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("0"))

	got, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !got.IsDemo {
		t.Error("underfunded wallet submission must run against the demo quota")
	}
	if f.demo.reserved != 1 {
		t.Errorf("demo reserved %d times, want 1", f.demo.reserved)
	}
}

func TestSubmitInsufficientBalanceAndQuota(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("0"))
	f.demo.reserveErr = pkgerrors.New(pkgerrors.CodeQuotaExceeded, "monthly demo quota exhausted")

	_, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Errorf("error = %v, want code %s", err, pkgerrors.CodeInsufficient)
	}
}

func TestSubmitVendorErrorReleasesReservation(t *testing.T) {
	adapter := chatAdapter()
	adapter.submitFn = func(req vendors.Request) (*vendors.SubmitResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vendor unavailable")
	}
	f := newGenerationFixture(t, adapter, &fakeWalletReader{
		err: pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found"),
	})

	_, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Errorf("error = %v, want code %s", err, pkgerrors.CodeDependency)
	}
	if f.demo.released != 1 {
		t.Errorf("demo released %d times, want 1", f.demo.released)
	}
}

func TestSubmitSynchronousResultSettlesInline(t *testing.T) {
	adapter := chatAdapter()
	adapter.submitFn = func(req vendors.Request) (*vendors.SubmitResult, error) {
		text := "the answer"
		return &vendors.SubmitResult{
			TaskID: "chatcmpl-9",
			Status: &vendors.TaskStatus{State: vendors.TaskStateSucceeded, ResultText: &text},
		}, nil
	}
	f := newGenerationFixture(t, adapter, fundedWallet("10"))
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		settled := *f.repo.created
		settled.Status = enums.GenerationStatusSucceeded
		return &settled, nil
	}

	got, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindChat,
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(f.settler.settled) != 1 {
		t.Fatalf("settler called %d times, want 1", len(f.settler.settled))
	}
	if got.Status != enums.GenerationStatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
}

func TestSubmitRejectsUnsupportedKind(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))

	_, err := f.svc.Submit(context.Background(), uuid.New(), SubmitGenerationDTO{
		Kind:   enums.GenerationKindVideo,
		Prompt: "hello",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Errorf("error = %v, want code %s", err, pkgerrors.CodeValidation)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	owner := uuid.New()
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		return &models.Generation{ID: id, ProfileID: owner}, nil
	}

	if _, err := f.svc.Get(context.Background(), owner, uuid.New()); err != nil {
		t.Fatalf("owner Get returned error: %v", err)
	}

	_, err := f.svc.Get(context.Background(), uuid.New(), uuid.New())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Errorf("error = %v, want code %s", err, pkgerrors.CodeNotFound)
	}
}

func TestListTrimsBufferRow(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	profileID := uuid.New()
	f.repo.listFn = func(pid uuid.UUID, filter ListFilter, params pagination.Params) ([]models.Generation, error) {
		rows := make([]models.Generation, 3)
		for i := range rows {
			rows[i] = models.Generation{ID: uuid.New(), ProfileID: pid, CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute)}
		}
		return rows, nil
	}

	result, err := f.svc.List(context.Background(), profileID, ListFilter{}, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(result.Generations) != 2 {
		t.Errorf("page size = %d, want 2", len(result.Generations))
	}
	if result.NextCursor == "" {
		t.Error("expected a next cursor")
	}
}

func TestListRejectsUnknownFilter(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))

	_, err := f.svc.List(context.Background(), uuid.New(), ListFilter{Kind: "audio"}, pagination.Params{})
	if !errorsHasCode(err, pkgerrors.CodeValidation) {
		t.Errorf("error = %v, want validation code", err)
	}
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	generationID := uuid.New()
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		return &models.Generation{ID: id, ProfileID: uuid.New(), Status: enums.GenerationStatusSucceeded}, nil
	}

	err := f.svc.Delete(context.Background(), uuid.New(), generationID)
	if !errorsHasCode(err, pkgerrors.CodeNotFound) {
		t.Errorf("error = %v, want not found code", err)
	}
	if len(f.purger.purged) != 0 || len(f.repo.deleted) != 0 {
		t.Error("foreign generation must not be purged or deleted")
	}
}

func TestDeleteRefusesLiveGeneration(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	profileID := uuid.New()
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		return &models.Generation{ID: id, ProfileID: profileID, Status: enums.GenerationStatusProcessing}, nil
	}

	err := f.svc.Delete(context.Background(), profileID, uuid.New())
	if !errorsHasCode(err, pkgerrors.CodeStateConflict) {
		t.Errorf("error = %v, want state conflict code", err)
	}
	if len(f.repo.deleted) != 0 {
		t.Error("live generation must not be deleted")
	}
}

func TestDeletePurgesAssetsAndRow(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	profileID := uuid.New()
	generationID := uuid.New()
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		return &models.Generation{ID: id, ProfileID: profileID, Status: enums.GenerationStatusSucceeded}, nil
	}

	if err := f.svc.Delete(context.Background(), profileID, generationID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(f.purger.purged) != 1 || f.purger.purged[0] != generationID {
		t.Errorf("purged = %v, want [%s]", f.purger.purged, generationID)
	}
	if len(f.repo.deleted) != 1 || f.repo.deleted[0] != generationID {
		t.Errorf("deleted = %v, want [%s]", f.repo.deleted, generationID)
	}
}

func TestDeleteSurvivesPurgeFailure(t *testing.T) {
	f := newGenerationFixture(t, chatAdapter(), fundedWallet("10"))
	profileID := uuid.New()
	f.repo.findFn = func(id uuid.UUID) (*models.Generation, error) {
		return &models.Generation{ID: id, ProfileID: profileID, Status: enums.GenerationStatusFailed}, nil
	}
	f.purger.err = errors.New("bucket unavailable")

	if err := f.svc.Delete(context.Background(), profileID, uuid.New()); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(f.repo.deleted) != 1 {
		t.Error("row must be deleted even when the purge fails")
	}
}

func errorsHasCode(err error, code pkgerrors.Code) bool {
	if err == nil {
		return false
	}
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == code
}
