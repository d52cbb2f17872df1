package transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

// Service exposes read operations over a wallet's transaction history.
type Service interface {
	List(ctx context.Context, walletID uuid.UUID, params pagination.Params) (*ListResult, error)
	ListAll(ctx context.Context, params pagination.Params) (*ListResult, error)
	Get(ctx context.Context, walletID, transactionID uuid.UUID) (*TransactionDTO, error)
}

// ListResult carries one page of transactions plus the next cursor.
type ListResult struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires a transactions service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context, walletID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}

	rows, err := s.repo.ListByWalletID(ctx, walletID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	return s.page(rows, params), nil
}

// ListAll pages through every wallet's transactions; callers gate this
// behind the admin role.
func (s *service) ListAll(ctx context.Context, params pagination.Params) (*ListResult, error) {
	rows, err := s.repo.ListAll(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	return s.page(rows, params), nil
}

func (s *service) page(rows []models.Transaction, params pagination.Params) *ListResult {
	limit := pagination.NormalizeLimit(params.Limit)
	nextCursor := ""
	if len(rows) > limit {
		last := rows[limit-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
		rows = rows[:limit]
	}

	dtos := make([]TransactionDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *FromModel(&rows[i]))
	}
	return &ListResult{Transactions: dtos, NextCursor: nextCursor}
}

func (s *service) Get(ctx context.Context, walletID, transactionID uuid.UUID) (*TransactionDTO, error) {
	if walletID == uuid.Nil || transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet and transaction ids are required")
	}

	transaction, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup transaction")
	}
	if transaction.WalletID != walletID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return FromModel(transaction), nil
}
