// Package assets copies vendor result files into object storage so results
// outlive the vendor's short-lived URLs.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/storage/gcs"
)

const (
	// vendor files larger than this are refused outright
	maxAssetBytes = int64(512 << 20)

	accessModePublic = "public"

	stalePendingAge = time.Hour
	cleanupBatch    = 100
)

// Service manages stored generation assets.
type Service interface {
	Ingest(ctx context.Context, generationID uuid.UUID) (int, error)
	ListForGeneration(ctx context.Context, profileID, generationID uuid.UUID) ([]AssetDTO, error)
	DownloadURL(ctx context.Context, profileID, assetID uuid.UUID) (string, error)
	RequestDelete(ctx context.Context, profileID, assetID uuid.UUID) error
	PurgeForGeneration(ctx context.Context, generationID uuid.UUID) error
	CleanupOnce(ctx context.Context) (int, error)
}

type objectStore interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (*gcs.ObjectInfo, error)
	Delete(ctx context.Context, name string) error
	PublicURL(name string) string
	SignedURL(name string, expiry time.Duration) (string, error)
	Name() string
}

type generationReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
}

type service struct {
	repo        Repository
	store       objectStore
	generations generationReader
	httpClient  *http.Client
	gcsCfg      config.GCSConfig
	accessMode  string
	logg        *logger.Logger
	now         func() time.Time
}

// ServiceParams bundles the dependencies required to build an asset service.
type ServiceParams struct {
	Repo        Repository
	Store       objectStore
	Generations generationReader
	HTTPClient  *http.Client
	GCSConfig   config.GCSConfig
	AccessMode  string
	Logger      *logger.Logger
}

// NewService constructs an asset service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("asset repository is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if params.Generations == nil {
		return nil, fmt.Errorf("generation reader is required")
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &service{
		repo:        params.Repo,
		store:       params.Store,
		generations: params.Generations,
		httpClient:  httpClient,
		gcsCfg:      params.GCSConfig,
		accessMode:  params.AccessMode,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// Ingest copies the generation's vendor result files into the bucket. URLs
// already ingested are skipped, so replayed events are safe. Returns the
// number of files stored.
func (s *service) Ingest(ctx context.Context, generationID uuid.UUID) (int, error) {
	if generationID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "generation id is required")
	}

	generation, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.Status != enums.GenerationStatusSucceeded {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "generation has no results to ingest")
	}

	var urls []string
	if len(generation.ResultURLs) > 0 {
		if err := json.Unmarshal(generation.ResultURLs, &urls); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode result urls")
		}
	}
	if len(urls) == 0 {
		return 0, nil
	}

	existing, err := s.repo.ListByGenerationID(ctx, generationID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list existing assets")
	}
	seen := make(map[string]bool, len(existing))
	for _, asset := range existing {
		if asset.Status != enums.AssetStatusFailed {
			seen[asset.SourceURL] = true
		}
	}

	stored := 0
	for _, sourceURL := range urls {
		if seen[sourceURL] {
			continue
		}
		if err := s.ingestOne(ctx, generation, sourceURL); err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Error(logCtx, "ingest asset", err)
			}
			continue
		}
		stored++
	}
	return stored, nil
}

func (s *service) ingestOne(ctx context.Context, generation *models.Generation, sourceURL string) error {
	assetID := uuid.New()
	asset := &models.Asset{
		ID:           assetID,
		GenerationID: generation.ID,
		Kind:         generation.Kind,
		Status:       enums.AssetStatusPending,
		Bucket:       s.store.Name(),
		ObjectKey:    objectKey(generation.ID, assetID, sourceURL),
		ContentType:  "application/octet-stream",
		SourceURL:    sourceURL,
	}
	if err := s.repo.Create(ctx, asset); err != nil {
		return fmt.Errorf("create asset row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		_ = s.repo.MarkFailed(ctx, asset.ID)
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		_ = s.repo.MarkFailed(ctx, asset.ID)
		return fmt.Errorf("download vendor file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_ = s.repo.MarkFailed(ctx, asset.ID)
		return fmt.Errorf("vendor file download returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxAssetBytes {
		_ = s.repo.MarkFailed(ctx, asset.ID)
		return fmt.Errorf("vendor file exceeds %d bytes", maxAssetBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = asset.ContentType
	}

	info, err := s.store.Upload(ctx, asset.ObjectKey, contentType, io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		_ = s.repo.MarkFailed(ctx, asset.ID)
		return fmt.Errorf("upload to bucket: %w", err)
	}
	return s.repo.MarkStored(ctx, asset.ID, contentType, info.Size)
}

func (s *service) ListForGeneration(ctx context.Context, profileID, generationID uuid.UUID) ([]AssetDTO, error) {
	generation, err := s.ownedGeneration(ctx, profileID, generationID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListByGenerationID(ctx, generation.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list assets")
	}

	dtos := make([]AssetDTO, 0, len(rows))
	for i := range rows {
		dto := *FromModel(&rows[i])
		if rows[i].Status == enums.AssetStatusStored {
			if url, urlErr := s.objectURL(rows[i].ObjectKey); urlErr == nil {
				dto.URL = url
			}
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

func (s *service) DownloadURL(ctx context.Context, profileID, assetID uuid.UUID) (string, error) {
	asset, err := s.ownedAsset(ctx, profileID, assetID)
	if err != nil {
		return "", err
	}
	if asset.Status != enums.AssetStatusStored {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "asset is not available")
	}
	url, err := s.objectURL(asset.ObjectKey)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build download url")
	}
	return url, nil
}

// RequestDelete flags the asset for removal; the cleanup job deletes the
// object and finalizes the row.
func (s *service) RequestDelete(ctx context.Context, profileID, assetID uuid.UUID) error {
	asset, err := s.ownedAsset(ctx, profileID, assetID)
	if err != nil {
		return err
	}
	if asset.Status == enums.AssetStatusDeleted || asset.Status == enums.AssetStatusDeleteRequested {
		return nil
	}
	return s.repo.UpdateStatus(ctx, asset.ID, enums.AssetStatusDeleteRequested)
}

// PurgeForGeneration removes every stored object belonging to the generation.
// The caller owns authorization; object-store failures are collected so the
// remaining objects still get swept.
func (s *service) PurgeForGeneration(ctx context.Context, generationID uuid.UUID) error {
	if generationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "generation id is required")
	}

	rows, err := s.repo.ListByGenerationID(ctx, generationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list assets")
	}

	var errs []error
	for i := range rows {
		if rows[i].Status == enums.AssetStatusDeleted || rows[i].Status == enums.AssetStatusFailed {
			continue
		}
		if err := s.store.Delete(ctx, rows[i].ObjectKey); err != nil {
			if s.logg != nil {
				s.logg.Warn(ctx, "delete object "+rows[i].ObjectKey+": "+err.Error())
			}
			errs = append(errs, fmt.Errorf("delete object %s: %w", rows[i].ObjectKey, err))
			continue
		}
		if err := s.repo.UpdateStatus(ctx, rows[i].ID, enums.AssetStatusDeleted); err != nil {
			errs = append(errs, fmt.Errorf("finalize deletion %s: %w", rows[i].ID, err))
		}
	}
	return multierr.Combine(errs...)
}

// CleanupOnce deletes flagged objects and abandons ingestions that stalled.
// Returns the number of rows it touched; object-store failures are collected
// so one bad object does not stop the sweep.
func (s *service) CleanupOnce(ctx context.Context) (int, error) {
	touched := 0
	var errs []error

	flagged, err := s.repo.ListByStatus(ctx, enums.AssetStatusDeleteRequested, cleanupBatch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list delete requests")
	}
	for i := range flagged {
		if err := s.store.Delete(ctx, flagged[i].ObjectKey); err != nil {
			if s.logg != nil {
				s.logg.Warn(ctx, "delete object "+flagged[i].ObjectKey+": "+err.Error())
			}
			errs = append(errs, fmt.Errorf("delete object %s: %w", flagged[i].ObjectKey, err))
			continue
		}
		if err := s.repo.UpdateStatus(ctx, flagged[i].ID, enums.AssetStatusDeleted); err != nil {
			return touched, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize deletion")
		}
		touched++
	}

	stale, err := s.repo.ListStalePending(ctx, s.now().UTC().Add(-stalePendingAge), cleanupBatch)
	if err != nil {
		return touched, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale ingestions")
	}
	for i := range stale {
		if err := s.repo.MarkFailed(ctx, stale[i].ID); err != nil {
			return touched, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "abandon stale ingestion")
		}
		touched++
	}
	return touched, multierr.Combine(errs...)
}

func (s *service) ownedAsset(ctx context.Context, profileID, assetID uuid.UUID) (*models.Asset, error) {
	if profileID == uuid.Nil || assetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile and asset ids are required")
	}
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup asset")
	}
	if _, err := s.ownedGeneration(ctx, profileID, asset.GenerationID); err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *service) ownedGeneration(ctx context.Context, profileID, generationID uuid.UUID) (*models.Generation, error) {
	if profileID == uuid.Nil || generationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile and generation ids are required")
	}
	generation, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.ProfileID != profileID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
	}
	return generation, nil
}

func (s *service) objectURL(objectKey string) (string, error) {
	if s.accessMode == accessModePublic {
		return s.store.PublicURL(objectKey), nil
	}
	return s.store.SignedURL(objectKey, s.gcsCfg.DownloadURLExpiry)
}

// objectKey derives a stable bucket path, keeping the source extension when
// it has one.
func objectKey(generationID, assetID uuid.UUID, sourceURL string) string {
	ext := ""
	if parsed, err := url.Parse(sourceURL); err == nil {
		ext = strings.ToLower(path.Ext(parsed.Path))
	}
	return fmt.Sprintf("generations/%s/%s%s", generationID, assetID, ext)
}
