package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/api/validators"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
)

type walletResponse struct {
	ID              uuid.UUID       `json:"id"`
	Address         string          `json:"address"`
	Blockchain      string          `json:"blockchain"`
	Currency        enums.Currency  `json:"currency"`
	Balance         decimal.Decimal `json:"balance"`
	BalanceSyncedAt *time.Time      `json:"balance_synced_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type balanceResponse struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
}

// ProvisionWallet creates the caller's Circle wallet. Re-provisioning
// returns the existing wallet unchanged.
func ProvisionWallet(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.Provision(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			ID:              wallet.ID,
			Address:         wallet.Address,
			Blockchain:      wallet.Blockchain,
			Currency:        wallet.Currency,
			Balance:         wallet.Balance,
			BalanceSyncedAt: wallet.BalanceSyncedAt,
			CreatedAt:       wallet.CreatedAt,
		})
	}
}

// TransferWallet sends USDC from the caller's wallet to another profile.
func TransferWallet(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body wallets.TransferInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Transfer(r.Context(), profileID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetWallet returns the caller's wallet.
func GetWallet(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.GetByProfileID(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			ID:              wallet.ID,
			Address:         wallet.Address,
			Blockchain:      wallet.Blockchain,
			Currency:        wallet.Currency,
			Balance:         wallet.Balance,
			BalanceSyncedAt: wallet.BalanceSyncedAt,
			CreatedAt:       wallet.CreatedAt,
		})
	}
}

// GetWalletBalance returns the cached balance, bypassing the cache when
// force=true.
func GetWalletBalance(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		force := false
		if raw := strings.TrimSpace(r.URL.Query().Get("force")); raw != "" {
			value, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid force value"))
				return
			}
			force = value
		}

		balance, err := svc.Balance(r.Context(), profileID, force)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.GetByProfileID(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{WalletID: wallet.ID, Balance: balance})
	}
}

// ListWalletTransactions pages through the caller's transaction history.
func ListWalletTransactions(walletSvc wallets.Service, txSvc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if walletSvc == nil || txSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet services unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := walletSvc.GetByProfileID(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var params pagination.Params
		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Limit = value
		}
		params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))

		result, err := txSvc.List(r.Context(), wallet.ID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetWalletTransaction returns one transaction from the caller's wallet.
func GetWalletTransaction(walletSvc wallets.Service, txSvc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if walletSvc == nil || txSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet services unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactionID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := walletSvc.GetByProfileID(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := txSvc.Get(r.Context(), wallet.ID, transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}
