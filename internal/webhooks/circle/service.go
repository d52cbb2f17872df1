// Package circlewebhook applies Circle transfer notifications to wallets.
// Outbound transfers update the owning transaction; inbound transfers that
// we did not originate are treated as deposits.
package circlewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
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
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/payloads"
)

// DepositKey is the idempotency key claiming an inbound transfer so webhook
// replays collapse into one credit.
func DepositKey(transferID string) string {
	return "dep-" + transferID
}

const (
	transferStateComplete = "COMPLETE"
	transferStateFailed   = "FAILED"
	transferStateDenied   = "DENIED"
)

type balanceInvalidator interface {
	InvalidateBalance(ctx context.Context, walletID uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams bundles the dependencies for the Circle webhook service.
type ServiceParams struct {
	DB           txRunner
	Transactions transactions.Repository
	Wallets      wallets.Repository
	Ledger       ledger.Repository
	Invalidator  balanceInvalidator
	Events       outboxEmitter
	Logger       *logger.Logger
}

// Service processes verified Circle transfer notifications.
type Service struct {
	db           txRunner
	transactions transactions.Repository
	wallets      wallets.Repository
	ledger       ledger.Repository
	invalidator  balanceInvalidator
	events       outboxEmitter
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client required")
	}
	if params.Transactions == nil || params.Wallets == nil || params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction, wallet and ledger repositories required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		db:           params.DB,
		transactions: params.Transactions,
		wallets:      params.Wallets,
		ledger:       params.Ledger,
		invalidator:  params.Invalidator,
		events:       params.Events,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

// HandleTransfer routes a transfer notification. Notifications for unknown
// wallets are acknowledged and dropped.
func (s *Service) HandleTransfer(ctx context.Context, notification *circle.TransferNotification) error {
	if notification == nil || strings.TrimSpace(notification.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer notification required")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"circle_transfer_id": notification.ID,
		"transfer_state":     notification.State,
	})

	txn, err := s.transactions.FindByCircleTransferID(ctx, notification.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup transaction by transfer id")
	}
	if txn != nil {
		return s.syncOutboundTransfer(logCtx, txn, notification)
	}
	return s.creditDeposit(logCtx, notification)
}

// syncOutboundTransfer reconciles a transfer we originated. Settlement
// already moved the stored balance, so only the transaction row changes here.
func (s *Service) syncOutboundTransfer(ctx context.Context, txn *models.Transaction, notification *circle.TransferNotification) error {
	switch strings.ToUpper(notification.State) {
	case transferStateComplete:
		if notification.TxHash != "" && (txn.TxHash == nil || *txn.TxHash != notification.TxHash) {
			if err := s.transactions.SetCircleTransfer(ctx, txn.ID, notification.ID, notification.TxHash); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer hash")
			}
		}
		return nil
	case transferStateFailed, transferStateDenied:
		if txn.Status == enums.TransactionStatusPending {
			if err := s.transactions.UpdateStatus(ctx, txn.ID, enums.TransactionStatusFailed); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail pending transaction")
			}
			return nil
		}
		// a confirmed transaction failing on-chain needs an operator
		s.logg.Error(ctx, "confirmed transfer failed at circle", pkgerrors.New(pkgerrors.CodeDependency, "transfer state "+notification.State))
		return nil
	default:
		s.logg.Info(ctx, "ignoring intermediate transfer state")
		return nil
	}
}

// creditDeposit applies an inbound transfer to the destination wallet.
func (s *Service) creditDeposit(ctx context.Context, notification *circle.TransferNotification) error {
	if strings.ToUpper(notification.State) != transferStateComplete {
		s.logg.Info(ctx, "ignoring non-complete inbound transfer")
		return nil
	}

	wallet, err := s.wallets.FindByCircleWalletID(ctx, notification.WalletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Info(ctx, "inbound transfer for unknown wallet; dropping")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup destination wallet")
	}

	amount, err := depositAmount(notification.Amounts)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	transferID := notification.ID
	description := "wallet deposit"
	deposit := &models.Transaction{
		WalletID:         wallet.ID,
		Direction:        enums.TransactionDirectionCredit,
		Status:           enums.TransactionStatusConfirmed,
		Amount:           amount,
		IdempotencyKey:   DepositKey(transferID),
		CircleTransferID: &transferID,
		Description:      &description,
	}
	if notification.TxHash != "" {
		hash := notification.TxHash
		deposit.TxHash = &hash
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.transactions.WithTx(tx).Create(ctx, deposit); err != nil {
			// replayed webhook; the deposit key already claimed this transfer
			if existing, findErr := s.transactions.FindByIdempotencyKey(ctx, DepositKey(transferID)); findErr == nil && existing != nil {
				return nil
			}
			return err
		}
		if err := s.wallets.WithTx(tx).CreditBalance(ctx, wallet.ID, amount); err != nil {
			return err
		}
		metadata, _ := json.Marshal(map[string]string{"circle_transfer_id": transferID})
		if err := s.ledger.WithTx(tx).Create(ctx, &models.LedgerEvent{
			WalletID:       wallet.ID,
			ActorProfileID: wallet.ProfileID,
			Type:           enums.LedgerEventTypeDeposit,
			Amount:         amount,
			Metadata:       metadata,
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
				TransactionID: deposit.ID,
				Amount:        amount,
				Balance:       wallet.Balance.Add(amount),
				CreditedAt:    now,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit deposit")
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateBalance(ctx, wallet.ID); err != nil {
			s.logg.Warn(ctx, "failed to invalidate balance cache: "+err.Error())
		}
	}
	return nil
}

func depositAmount(amounts []string) (decimal.Decimal, error) {
	if len(amounts) == 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount missing")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amounts[0]))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse transfer amount")
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}
	return amount, nil
}
