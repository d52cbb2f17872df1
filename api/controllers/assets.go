package controllers

import (
	"net/http"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/internal/assets"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

// ListGenerationAssets returns the stored assets for one generation.
func ListGenerationAssets(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		generationID, err := pathUUID(r, "generationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForGeneration(r.Context(), profileID, generationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"assets": list})
	}
}

// AssetDownloadURL returns a signed URL for one asset.
func AssetDownloadURL(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		assetID, err := pathUUID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		url, err := svc.DownloadURL(r.Context(), profileID, assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}

// AssetRequestDelete marks an asset for removal by the cleanup job.
func AssetRequestDelete(svc assets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assets service unavailable"))
			return
		}

		profileID, err := profileIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		assetID, err := pathUUID(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.RequestDelete(r.Context(), profileID, assetID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "delete_requested"})
	}
}
