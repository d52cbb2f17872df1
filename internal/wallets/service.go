package wallets

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/payloads"
)

// Service defines wallet provisioning, balance, and transfer operations.
type Service interface {
	Provision(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error)
	GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error)
	Balance(ctx context.Context, profileID uuid.UUID, force bool) (decimal.Decimal, error)
	InvalidateBalance(ctx context.Context, walletID uuid.UUID) error
	Transfer(ctx context.Context, profileID uuid.UUID, input TransferInput) (*TransferResult, error)
}

// TransferInput describes a wallet-to-wallet send initiated by the sender.
type TransferInput struct {
	RecipientProfileID uuid.UUID `json:"recipient_profile_id"`
	Amount             string    `json:"amount"`
}

// TransferResult reports the recorded debit after a transfer executes.
type TransferResult struct {
	TransactionID    uuid.UUID       `json:"transaction_id"`
	CircleTransferID string          `json:"circle_transfer_id"`
	Amount           decimal.Decimal `json:"amount"`
	Balance          decimal.Decimal `json:"balance"`
}

type circleAPI interface {
	CreateWallet(ctx context.Context, req circle.CreateWalletRequest) (*circle.Wallet, error)
	GetBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error)
	CreateTransfer(ctx context.Context, req circle.TransferRequest) (*circle.Transfer, error)
}


type balanceCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	WalletBalanceKey(walletID string) string
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	db           txRunner
	repo         Repository
	transactions transactions.Repository
	ledger       ledger.Repository
	circle       circleAPI
	cache        balanceCache
	events       outboxEmitter
	circleCfg    config.CircleConfig
	logg         *logger.Logger
}

// ServiceParams bundles the dependencies required to build a wallet service.
type ServiceParams struct {
	DB           txRunner
	Repo         Repository
	Transactions transactions.Repository
	Ledger       ledger.Repository
	Circle       circleAPI
	Cache        balanceCache
	Events       outboxEmitter
	CircleConfig config.CircleConfig
	Logger       *logger.Logger
}

// NewService constructs a wallet service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository is required")
	}
	if params.Circle == nil {
		return nil, fmt.Errorf("circle client is required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("balance cache is required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	return &service{
		db:           params.DB,
		repo:         params.Repo,
		transactions: params.Transactions,
		ledger:       params.Ledger,
		circle:       params.Circle,
		cache:        params.Cache,
		events:       params.Events,
		circleCfg:    params.CircleConfig,
		logg:         params.Logger,
	}, nil
}

// Provision creates a Circle wallet for the profile and records it. Calling
// it again for a profile that already has a wallet is a no-op.
func (s *service) Provision(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}

	existing, err := s.repo.FindByProfileID(ctx, profileID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup wallet")
	}

	created, err := s.circle.CreateWallet(ctx, circle.CreateWalletRequest{
		WalletSetID: s.circleCfg.WalletSetID,
		Blockchain:  s.circleCfg.Blockchain,
		RefID:       profileID.String(),
	})
	if err != nil {
		return nil, err
	}

	wallet := &models.Wallet{
		ProfileID:      profileID,
		CircleWalletID: created.ID,
		Address:        created.Address,
		Blockchain:     created.Blockchain,
		Currency:       enums.CurrencyUSDC,
		Balance:        decimal.Zero,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		// concurrent provision; the stored row wins
		if dup, findErr := s.repo.FindByProfileID(ctx, profileID); findErr == nil {
			return dup, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}

	if s.logg != nil {
		logCtx := s.logg.WithWalletID(ctx, wallet.ID.String())
		s.logg.Info(logCtx, "wallet provisioned")
	}
	return wallet, nil
}

func (s *service) GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	wallet, err := s.repo.FindByProfileID(ctx, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup wallet")
	}
	return wallet, nil
}

// Balance returns the wallet balance, serving from the redis cache when
// fresh and falling back to Circle. A successful vendor read updates the
// cached row and emits a wallet_synced event.
func (s *service) Balance(ctx context.Context, profileID uuid.UUID, force bool) (decimal.Decimal, error) {
	wallet, err := s.GetByProfileID(ctx, profileID)
	if err != nil {
		return decimal.Zero, err
	}

	cacheKey := s.cache.WalletBalanceKey(wallet.ID.String())
	if !force {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			if balance, parseErr := decimal.NewFromString(cached); parseErr == nil {
				return balance, nil
			}
		}
	}

	balance, err := s.circle.GetBalance(ctx, wallet.CircleWalletID, s.circleCfg.TokenID)
	if err != nil {
		// vendor down; the cached row is the best answer we have
		if s.logg != nil {
			logCtx := s.logg.WithWalletID(ctx, wallet.ID.String())
			s.logg.Warn(logCtx, "balance sync failed, serving stored balance: "+err.Error())
		}
		return wallet.Balance, nil
	}

	now := time.Now().UTC()
	changed := !balance.Equal(wallet.Balance)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateBalance(ctx, wallet.ID, balance, now); err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletSynced,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			Data: payloads.WalletSyncedEvent{
				WalletID:  wallet.ID,
				ProfileID: wallet.ProfileID,
				Balance:   balance,
				SyncedAt:  now,
			},
		})
	})
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist balance")
	}

	if err := s.cache.Set(ctx, cacheKey, balance.String(), s.circleCfg.BalanceCacheTTL); err != nil && s.logg != nil {
		logCtx := s.logg.WithWalletID(ctx, wallet.ID.String())
		s.logg.Warn(logCtx, "cache balance: "+err.Error())
	}
	return balance, nil
}

// Transfer sends USDC from the caller's wallet to another profile's wallet.
// The debit claim row is created before the Circle call so a crash between
// the two leaves a pending row instead of an untracked on-chain transfer.
func (s *service) Transfer(ctx context.Context, profileID uuid.UUID, input TransferInput) (*TransferResult, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	if input.RecipientProfileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient profile id is required")
	}
	if input.RecipientProfileID == profileID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to your own wallet")
	}
	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	sender, err := s.GetByProfileID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.repo.FindByProfileID(ctx, input.RecipientProfileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "recipient wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup recipient wallet")
	}

	balance, err := s.Balance(ctx, profileID, true)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient balance")
	}

	description := "wallet transfer"
	debit := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       sender.ID,
		Direction:      enums.TransactionDirectionDebit,
		Status:         enums.TransactionStatusPending,
		Amount:         amount,
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: "xfer-" + uuid.NewString(),
		Description:    &description,
	}
	if err := s.transactions.Create(ctx, debit); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim transfer")
	}

	transfer, err := s.circle.CreateTransfer(ctx, circle.TransferRequest{
		IdempotencyKey: debit.ID.String(),
		WalletID:       sender.CircleWalletID,
		DestinationID:  recipient.CircleWalletID,
		TokenID:        s.circleCfg.TokenID,
		Amount:         amount,
	})
	if err != nil {
		// the pending claim stays in place for reconciliation
		return nil, err
	}

	now := time.Now().UTC()
	credit := &models.Transaction{
		ID:             uuid.New(),
		WalletID:       recipient.ID,
		Direction:      enums.TransactionDirectionCredit,
		Status:         enums.TransactionStatusConfirmed,
		Amount:         amount,
		Currency:       enums.CurrencyUSDC,
		IdempotencyKey: "xferin-" + debit.ID.String(),
		Description:    &description,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.transactions.WithTx(tx)
		if err := txnRepo.SetCircleTransfer(ctx, debit.ID, transfer.ID, transfer.TxHash); err != nil {
			return err
		}
		if err := txnRepo.UpdateStatus(ctx, debit.ID, enums.TransactionStatusConfirmed); err != nil {
			return err
		}
		if err := txnRepo.Create(ctx, credit); err != nil {
			return err
		}

		walletRepo := s.repo.WithTx(tx)
		debited, err := walletRepo.DebitBalance(ctx, sender.ID, amount)
		if err != nil {
			return err
		}
		if !debited && s.logg != nil {
			logCtx := s.logg.WithWalletID(ctx, sender.ID.String())
			s.logg.Warn(logCtx, "stored balance stale during transfer debit")
		}
		if err := walletRepo.CreditBalance(ctx, recipient.ID, amount); err != nil {
			return err
		}

		ledgerRepo := s.ledger.WithTx(tx)
		if err := ledgerRepo.Create(ctx, &models.LedgerEvent{
			WalletID:       sender.ID,
			ActorProfileID: profileID,
			Type:           enums.LedgerEventTypeWithdrawal,
			Amount:         amount,
		}); err != nil {
			return err
		}
		if err := ledgerRepo.Create(ctx, &models.LedgerEvent{
			WalletID:       recipient.ID,
			ActorProfileID: profileID,
			Type:           enums.LedgerEventTypeDeposit,
			Amount:         amount,
		}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletDebited,
			AggregateType: enums.AggregateWallet,
			AggregateID:   sender.ID,
			Version:       1,
			Data: payloads.WalletDebitedEvent{
				WalletID:      sender.ID,
				ProfileID:     profileID,
				TransactionID: debit.ID,
				Amount:        amount,
				Balance:       balance.Sub(amount),
				DebitedAt:     now,
			},
		}); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletCredited,
			AggregateType: enums.AggregateWallet,
			AggregateID:   recipient.ID,
			Version:       1,
			Data: payloads.WalletCreditedEvent{
				WalletID:      recipient.ID,
				ProfileID:     recipient.ProfileID,
				TransactionID: credit.ID,
				Amount:        amount,
				Balance:       recipient.Balance.Add(amount),
				CreditedAt:    now,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer")
	}

	for _, walletID := range []uuid.UUID{sender.ID, recipient.ID} {
		if err := s.InvalidateBalance(ctx, walletID); err != nil && s.logg != nil {
			logCtx := s.logg.WithWalletID(ctx, walletID.String())
			s.logg.Warn(logCtx, "invalidate balance after transfer: "+err.Error())
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithWalletID(ctx, sender.ID.String())
		s.logg.Info(logCtx, "transfer of "+amount.String()+" USDC completed")
	}
	return &TransferResult{
		TransactionID:    debit.ID,
		CircleTransferID: transfer.ID,
		Amount:           amount,
		Balance:          balance.Sub(amount),
	}, nil
}

// InvalidateBalance drops the cached balance so the next read hits Circle.
func (s *service) InvalidateBalance(ctx context.Context, walletID uuid.UUID) error {
	if walletID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	return s.cache.Del(ctx, s.cache.WalletBalanceKey(walletID.String()))
}
