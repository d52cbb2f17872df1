package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/api/validators"
	"github.com/mediaforge-ai/mediaforge-backend/internal/profiles"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type profileFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type profileUpdater interface {
	profileFinder
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (*models.Profile, error)
}

// ProfileMe returns the authenticated profile.
func ProfileMe(repo profileFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile repository unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		profile, err := repo.FindByID(r.Context(), profileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profiles.FromModel(profile))
	}
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=120"`
}

// ProfileUpdate renames the authenticated profile.
func ProfileUpdate(repo profileUpdater, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile repository unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateProfileRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		displayName := validators.SanitizeString(body.DisplayName, 120)
		if displayName == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "display name is required"))
			return
		}

		profile, err := repo.UpdateDisplayName(r.Context(), profileID, displayName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profiles.FromModel(profile))
	}
}
