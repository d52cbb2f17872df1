package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/api/validators"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type generationReverser interface {
	Reverse(ctx context.Context, generationID uuid.UUID, reason string) error
}

type reverseGenerationRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// AdminReverseGeneration refunds a settled generation with a compensating
// credit.
func AdminReverseGeneration(svc generationReverser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		generationID, err := pathUUID(r, "generationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reverseGenerationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Reverse(r.Context(), generationID, body.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "reversed"})
	}
}
