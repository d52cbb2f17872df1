package controllers

import (
	"net/http"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

// DemoQuotaStatus reports how many free runs remain this month.
func DemoQuotaStatus(svc demo.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "demo service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Status(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
