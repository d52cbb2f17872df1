// Package settlement drives generation tasks from vendor verdict to wallet
// movement. Each task settles at most once: the transaction idempotency key
// claims the settlement and the unique vendor task id backs it up.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
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
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/metrics"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/payloads"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

const pollBatchSize = 50

// SettleKey is the idempotency key claiming a generation's debit.
func SettleKey(generationID uuid.UUID) string {
	return "gen-" + generationID.String()
}

// ReverseKey is the idempotency key claiming a generation's compensating credit.
func ReverseKey(generationID uuid.UUID) string {
	return "genrev-" + generationID.String()
}

// Service settles generation tasks against wallets.
type Service interface {
	SettleResult(ctx context.Context, generationID uuid.UUID, status vendors.TaskStatus) error
	PollOnce(ctx context.Context) (int, error)
	Reverse(ctx context.Context, generationID uuid.UUID, reason string) error
	ExpireOverdue(ctx context.Context) (int, error)
}

type circleTransfers interface {
	CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.Transfer, error)
}

type balanceInvalidator interface {
	InvalidateBalance(ctx context.Context, walletID uuid.UUID) error
}

type assetIngester interface {
	Ingest(ctx context.Context, generationID uuid.UUID) (int, error)
}

type demoReleaser interface {
	Release(ctx context.Context, profileID uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	db           txRunner
	generations  generations.Repository
	transactions transactions.Repository
	wallets      wallets.Repository
	ledger       ledger.Repository
	circle       circleTransfers
	registry     *vendors.Registry
	invalidator  balanceInvalidator
	assets       assetIngester
	demo         demoReleaser
	events       outboxEmitter
	metrics      *metrics.GenerationMetrics
	circleCfg    config.CircleConfig
	genCfg       config.GenerationConfig
	logg         *logger.Logger
	now          func() time.Time
}

// ServiceParams bundles the dependencies required to build a settlement service.
type ServiceParams struct {
	DB               txRunner
	Generations      generations.Repository
	Transactions     transactions.Repository
	Wallets          wallets.Repository
	Ledger           ledger.Repository
	Circle           circleTransfers
	Registry         *vendors.Registry
	Invalidator      balanceInvalidator
	Assets           assetIngester
	Demo             demoReleaser
	Events           outboxEmitter
	Metrics          *metrics.GenerationMetrics
	CircleConfig     config.CircleConfig
	GenerationConfig config.GenerationConfig
	Logger           *logger.Logger
}

// NewService constructs a settlement service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client is required")
	}
	if params.Generations == nil || params.Transactions == nil || params.Wallets == nil {
		return nil, fmt.Errorf("generation, transaction and wallet repositories are required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if params.Circle == nil {
		return nil, fmt.Errorf("circle client is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("vendor registry is required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	return &service{
		db:           params.DB,
		generations:  params.Generations,
		transactions: params.Transactions,
		wallets:      params.Wallets,
		ledger:       params.Ledger,
		circle:       params.Circle,
		registry:     params.Registry,
		invalidator:  params.Invalidator,
		assets:       params.Assets,
		demo:         params.Demo,
		events:       params.Events,
		metrics:      params.Metrics,
		circleCfg:    params.CircleConfig,
		genCfg:       params.GenerationConfig,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

// SettleResult applies a terminal vendor verdict to the generation. Replays
// are no-ops: a task that already reached a terminal status is left alone.
func (s *service) SettleResult(ctx context.Context, generationID uuid.UUID, status vendors.TaskStatus) error {
	if generationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "generation id is required")
	}

	generation, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.Status.IsTerminal() {
		return nil
	}

	switch status.State {
	case vendors.TaskStateSucceeded:
		return s.settleSuccess(ctx, generation, status)
	case vendors.TaskStateFailed:
		return s.settleFailure(ctx, generation, status)
	default:
		return nil
	}
}

func (s *service) settleSuccess(ctx context.Context, generation *models.Generation, status vendors.TaskStatus) error {
	now := s.now().UTC()

	var resultURLs []byte
	if len(status.ResultURLs) > 0 {
		encoded, err := json.Marshal(status.ResultURLs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode result urls")
		}
		resultURLs = encoded
	}

	// demo and free generations deliver results without touching the wallet
	if generation.IsDemo || !generation.Price.IsPositive() {
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.generations.WithTx(tx).MarkSucceeded(ctx, generation.ID, resultURLs, status.ResultText, now); err != nil {
				return err
			}
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventGenerationSettled,
				AggregateType: enums.AggregateGeneration,
				AggregateID:   generation.ID,
				Version:       1,
				Data:          s.settledPayload(generation, nil, now),
			})
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle demo generation")
		}
		s.metrics.IncSettled(string(generation.Kind), "succeeded")
		s.ingestAssets(ctx, generation.ID)
		return nil
	}

	wallet, err := s.wallets.FindByProfileID(ctx, generation.ProfileID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup wallet for settlement")
	}

	description := "generation debit"
	claim := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       wallet.ID,
		GenerationID:   &generation.ID,
		Direction:      enums.TransactionDirectionDebit,
		Status:         enums.TransactionStatusPending,
		Amount:         generation.Price,
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: SettleKey(generation.ID),
		Description:    &description,
	}
	if err := s.transactions.Create(ctx, claim); err != nil {
		existing, findErr := s.transactions.FindByIdempotencyKey(ctx, SettleKey(generation.ID))
		if findErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim settlement")
		}
		if existing.Status == enums.TransactionStatusConfirmed {
			return nil
		}
		// resume a claim left pending by an earlier crash
		claim = existing
	}

	transfer, err := s.circle.CreateTransfer(ctx, circle.TransferRequest{
		IdempotencyKey: claim.ID.String(),
		WalletID:       wallet.CircleWalletID,
		DestinationID:  s.circleCfg.TreasuryWalletID,
		TokenID:        s.circleCfg.TokenID,
		Amount:         generation.Price,
	})
	if err != nil {
		// the pending claim stays in place; the poller retries
		return err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		if err := txnRepo.SetCircleTransfer(ctx, claim.ID, transfer.ID, transfer.TxHash); err != nil {
			return err
		}
		if err := txnRepo.UpdateStatus(ctx, claim.ID, enums.TransactionStatusConfirmed); err != nil {
			return err
		}

		debited, err := s.wallets.WithTx(tx).DebitBalance(ctx, wallet.ID, generation.Price)
		if err != nil {
			return err
		}
		if !debited && s.logg != nil {
			// the on-chain transfer already executed; the mirror catches up
			// on the next balance sync
			logCtx := s.logg.WithWalletID(ctx, wallet.ID.String())
			s.logg.Warn(logCtx, "stored balance stale during settlement debit")
		}

		if err := s.ledger.WithTx(tx).Create(ctx, &models.LedgerEvent{
			WalletID:       wallet.ID,
			GenerationID:   &generation.ID,
			ActorProfileID: generation.ProfileID,
			Type:           enums.LedgerEventTypeGenerationDebit,
			Amount:         generation.Price,
		}); err != nil {
			return err
		}

		if err := s.generations.WithTx(tx).MarkSucceeded(ctx, generation.ID, resultURLs, status.ResultText, now); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGenerationSettled,
			AggregateType: enums.AggregateGeneration,
			AggregateID:   generation.ID,
			Version:       1,
			Data:          s.settledPayload(generation, &claim.ID, now),
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletDebited,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			Data: payloads.WalletDebitedEvent{
				WalletID:      wallet.ID,
				ProfileID:     wallet.ProfileID,
				TransactionID: claim.ID,
				GenerationID:  &generation.ID,
				Amount:        generation.Price,
				Balance:       wallet.Balance.Sub(generation.Price),
				DebitedAt:     now,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm settlement")
	}

	s.invalidateBalance(ctx, wallet.ID)
	s.metrics.IncSettled(string(generation.Kind), "succeeded")
	s.ingestAssets(ctx, generation.ID)

	if s.logg != nil {
		logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
		s.logg.Info(logCtx, "generation settled")
	}
	return nil
}

func (s *service) settleFailure(ctx context.Context, generation *models.Generation, status vendors.TaskStatus) error {
	now := s.now().UTC()
	reason := "vendor reported failure"
	if status.FailureReason != nil && *status.FailureReason != "" {
		reason = *status.FailureReason
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.generations.WithTx(tx).MarkFailed(ctx, generation.ID, reason, now); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGenerationFailed,
			AggregateType: enums.AggregateGeneration,
			AggregateID:   generation.ID,
			Version:       1,
			Data: payloads.GenerationFailedEvent{
				GenerationID: generation.ID,
				ProfileID:    generation.ProfileID,
				Kind:         generation.Kind,
				Vendor:       generation.Vendor,
				Reason:       reason,
				FailedAt:     now,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failure")
	}
	s.metrics.IncSettled(string(generation.Kind), "failed")

	// a failed demo run gives the quota slot back
	if generation.IsDemo && s.demo != nil {
		if releaseErr := s.demo.Release(ctx, generation.ProfileID); releaseErr != nil && s.logg != nil {
			s.logg.Warn(ctx, "release demo slot after failure: "+releaseErr.Error())
		}
	}
	return nil
}

// PollOnce walks the unsettled tasks, asks each vendor for a verdict and
// settles the terminal ones. Returns the number of tasks settled.
func (s *service) PollOnce(ctx context.Context) (int, error) {
	rows, err := s.generations.ListUnsettled(ctx, s.now().UTC(), pollBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unsettled generations")
	}

	settled := 0
	for i := range rows {
		generation := rows[i]
		adapter, err := s.registry.ForVendor(generation.Vendor)
		if err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Error(logCtx, "no adapter for vendor", err)
			}
			continue
		}

		status, err := s.pollStatus(ctx, adapter, generation.VendorTaskID)
		if err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Warn(logCtx, "vendor status poll failed: "+err.Error())
			}
			continue
		}

		if !status.State.IsTerminal() {
			if status.State == vendors.TaskStateRunning && generation.Status == enums.GenerationStatusPending {
				if err := s.generations.MarkProcessing(ctx, generation.ID); err != nil && s.logg != nil {
					s.logg.Warn(ctx, "mark processing: "+err.Error())
				}
			}
			continue
		}

		if err := s.SettleResult(ctx, generation.ID, *status); err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Error(logCtx, "settlement failed", err)
			}
			continue
		}
		settled++
	}
	return settled, nil
}

// pollStatus retries transient vendor errors with capped exponential backoff.
func (s *service) pollStatus(ctx context.Context, adapter vendors.Adapter, taskID string) (*vendors.TaskStatus, error) {
	backoff := retry.NewExponential(s.genCfg.PollInterval)
	backoff = retry.WithCappedDuration(s.genCfg.PollMaxInterval, backoff)
	backoff = retry.WithMaxRetries(2, backoff)

	var status *vendors.TaskStatus
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := adapter.Status(ctx, taskID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
				return retry.RetryableError(err)
			}
			return err
		}
		status = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Reverse issues a compensating credit for a settled generation.
func (s *service) Reverse(ctx context.Context, generationID uuid.UUID, reason string) error {
	if generationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "generation id is required")
	}

	generation, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.Status != enums.GenerationStatusSucceeded {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only settled generations can be reversed")
	}
	if generation.IsDemo || !generation.Price.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "generation involved no wallet movement")
	}

	debit, err := s.transactions.FindByIdempotencyKey(ctx, SettleKey(generation.ID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "generation has no settlement to reverse")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup settlement")
	}
	if debit.Status != enums.TransactionStatusConfirmed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "settlement is not confirmed")
	}

	wallet, err := s.wallets.FindByID(ctx, debit.WalletID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup wallet for reversal")
	}

	description := "generation reversal: " + reason
	claim := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       wallet.ID,
		GenerationID:   &generation.ID,
		Direction:      enums.TransactionDirectionCredit,
		Status:         enums.TransactionStatusPending,
		Amount:         generation.Price,
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: ReverseKey(generation.ID),
		Description:    &description,
	}
	if err := s.transactions.Create(ctx, claim); err != nil {
		existing, findErr := s.transactions.FindByIdempotencyKey(ctx, ReverseKey(generation.ID))
		if findErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim reversal")
		}
		if existing.Status == enums.TransactionStatusConfirmed {
			return nil
		}
		claim = existing
	}

	transfer, err := s.circle.CreateTransfer(ctx, circle.TransferRequest{
		IdempotencyKey: claim.ID.String(),
		WalletID:       s.circleCfg.TreasuryWalletID,
		DestinationID:  wallet.CircleWalletID,
		TokenID:        s.circleCfg.TokenID,
		Amount:         generation.Price,
	})
	if err != nil {
		return err
	}

	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		if err := txnRepo.SetCircleTransfer(ctx, claim.ID, transfer.ID, transfer.TxHash); err != nil {
			return err
		}
		if err := txnRepo.UpdateStatus(ctx, claim.ID, enums.TransactionStatusConfirmed); err != nil {
			return err
		}
		if err := txnRepo.UpdateStatus(ctx, debit.ID, enums.TransactionStatusReversed); err != nil {
			return err
		}
		if err := s.wallets.WithTx(tx).CreditBalance(ctx, wallet.ID, generation.Price); err != nil {
			return err
		}
		if err := s.ledger.WithTx(tx).Create(ctx, &models.LedgerEvent{
			WalletID:       wallet.ID,
			GenerationID:   &generation.ID,
			ActorProfileID: generation.ProfileID,
			Type:           enums.LedgerEventTypeGenerationReversal,
			Amount:         generation.Price,
		}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGenerationReversed,
			AggregateType: enums.AggregateGeneration,
			AggregateID:   generation.ID,
			Version:       1,
			Data: payloads.GenerationReversedEvent{
				GenerationID:  generation.ID,
				ProfileID:     generation.ProfileID,
				TransactionID: claim.ID,
				Amount:        generation.Price,
				Reason:        reason,
				ReversedAt:    now,
			},
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletCredited,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			Data: payloads.WalletCreditedEvent{
				WalletID:      wallet.ID,
				ProfileID:     wallet.ProfileID,
				TransactionID: claim.ID,
				Amount:        generation.Price,
				Balance:       wallet.Balance.Add(generation.Price),
				CreditedAt:    now,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm reversal")
	}

	s.invalidateBalance(ctx, wallet.ID)
	s.metrics.IncSettled(string(generation.Kind), "reversed")

	if s.logg != nil {
		logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
		s.logg.Info(logCtx, "generation reversed")
	}
	return nil
}

// ExpireOverdue flips live tasks past their deadline to expired. Returns the
// number of tasks expired.
func (s *service) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	rows, err := s.generations.ListExpired(ctx, now, pollBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired generations")
	}

	expired := 0
	for i := range rows {
		generation := rows[i]
		var flipped bool
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			flipped, err = s.generations.WithTx(tx).MarkExpired(ctx, generation.ID, now)
			if err != nil || !flipped {
				return err
			}
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventGenerationExpired,
				AggregateType: enums.AggregateGeneration,
				AggregateID:   generation.ID,
				Version:       1,
				Data: payloads.GenerationExpiredEvent{
					GenerationID: generation.ID,
					ProfileID:    generation.ProfileID,
					Vendor:       generation.Vendor,
					ExpiredAt:    now,
				},
			})
		})
		if err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Error(logCtx, "expire generation", err)
			}
			continue
		}
		if !flipped {
			continue
		}
		expired++
		s.metrics.IncSettled(string(generation.Kind), "expired")

		if generation.IsDemo && s.demo != nil {
			if releaseErr := s.demo.Release(ctx, generation.ProfileID); releaseErr != nil && s.logg != nil {
				s.logg.Warn(ctx, "release demo slot after expiry: "+releaseErr.Error())
			}
		}
	}
	return expired, nil
}

func (s *service) settledPayload(generation *models.Generation, transactionID *uuid.UUID, completedAt time.Time) payloads.GenerationSettledEvent {
	return payloads.GenerationSettledEvent{
		GenerationID:  generation.ID,
		ProfileID:     generation.ProfileID,
		Kind:          generation.Kind,
		Vendor:        generation.Vendor,
		VendorTaskID:  generation.VendorTaskID,
		TransactionID: transactionID,
		Price:         generation.Price,
		IsDemo:        generation.IsDemo,
		CompletedAt:   completedAt,
	}
}

// ingestAssets copies vendor results into the bucket once the row is
// settled. Failures are picked up by the asset cleanup job.
func (s *service) ingestAssets(ctx context.Context, generationID uuid.UUID) {
	if s.assets == nil {
		return
	}
	if _, err := s.assets.Ingest(ctx, generationID); err != nil && s.logg != nil {
		logCtx := s.logg.WithGenerationID(ctx, generationID.String())
		s.logg.Warn(logCtx, "ingest generation assets: "+err.Error())
	}
}

func (s *service) invalidateBalance(ctx context.Context, walletID uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateBalance(ctx, walletID); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "invalidate balance cache: "+err.Error())
	}
}
