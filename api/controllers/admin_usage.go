package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/api/validators"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/usage"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

const maxSummaryRows = 500

func summaryQueryFromRequest(r *http.Request) (usage.SummaryQuery, error) {
	var query usage.SummaryQuery

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	if from == "" {
		return query, pkgerrors.New(pkgerrors.CodeValidation, "from is required")
	}
	fromAt, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from timestamp")
	}
	query.From = fromAt

	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if to == "" {
		return query, pkgerrors.New(pkgerrors.CodeValidation, "to is required")
	}
	toAt, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to timestamp")
	}
	query.To = toAt

	query.ProfileID = validators.SanitizeString(r.URL.Query().Get("profile_id"), 64)

	limit, err := validators.ParseQueryInt(r, "limit", 0, 1, maxSummaryRows)
	if err != nil {
		return query, err
	}
	query.Limit = limit

	return query, nil
}

// AdminListTransactions pages through every wallet's transaction mirror.
func AdminListTransactions(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transactions service unavailable"))
			return
		}

		var params pagination.Params
		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit
		params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))

		result, err := svc.ListAll(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminUsageSummary aggregates generation activity per profile.
func AdminUsageSummary(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		query, err := summaryQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.UsageSummary(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"profiles": rows})
	}
}

// AdminBillingSummary aggregates debits and credits per profile.
func AdminBillingSummary(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		query, err := summaryQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.BillingSummary(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"profiles": rows})
	}
}
