package generations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/metrics"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/payloads"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/pagination"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/vendors"
)

const maxPromptLength = 8192

// Service exposes generation submission and history.
type Service interface {
	Submit(ctx context.Context, profileID uuid.UUID, input SubmitGenerationDTO) (*GenerationDTO, error)
	Get(ctx context.Context, profileID, generationID uuid.UUID) (*GenerationDTO, error)
	List(ctx context.Context, profileID uuid.UUID, filter ListFilter, params pagination.Params) (*ListResult, error)
	Delete(ctx context.Context, profileID, generationID uuid.UUID) error
}

// ListResult carries one page of generations plus the next cursor.
type ListResult struct {
	Generations []GenerationDTO `json:"generations"`
	NextCursor  string          `json:"next_cursor,omitempty"`
}

type demoGate interface {
	Reserve(ctx context.Context, profileID uuid.UUID) (*demo.Reservation, error)
	Release(ctx context.Context, profileID uuid.UUID) error
}

type walletReader interface {
	GetByProfileID(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error)
}

type settler interface {
	SettleResult(ctx context.Context, generationID uuid.UUID, status vendors.TaskStatus) error
}

type assetPurger interface {
	PurgeForGeneration(ctx context.Context, generationID uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	db       txRunner
	repo     Repository
	registry *vendors.Registry
	wallets  walletReader
	demo     demoGate
	settler  settler
	events   outboxEmitter
	assets   assetPurger
	metrics  *metrics.GenerationMetrics
	prices   PriceTable
	genCfg   config.GenerationConfig
	demoCfg  config.DemoConfig
	logg     *logger.Logger
	now      func() time.Time
}

// ServiceParams bundles the dependencies required to build a generation service.
type ServiceParams struct {
	DB               txRunner
	Repo             Repository
	Registry         *vendors.Registry
	Wallets          walletReader
	Demo             demoGate
	Settler          settler
	Events           outboxEmitter
	Assets           assetPurger
	Metrics          *metrics.GenerationMetrics
	GenerationConfig config.GenerationConfig
	DemoConfig       config.DemoConfig
	Logger           *logger.Logger
}

// NewService constructs a generation service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("generation repository is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("vendor registry is required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet reader is required")
	}
	if params.Demo == nil {
		return nil, fmt.Errorf("demo gate is required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	prices, err := NewPriceTable(params.GenerationConfig)
	if err != nil {
		return nil, err
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		registry: params.Registry,
		wallets:  params.Wallets,
		demo:     params.Demo,
		settler:  params.Settler,
		events:   params.Events,
		assets:   params.Assets,
		metrics:  params.Metrics,
		prices:   prices,
		genCfg:   params.GenerationConfig,
		demoCfg:  params.DemoConfig,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Submit sends the prompt to the vendor for the requested kind and records
// the task. Profiles whose wallet cannot cover the price run against the
// monthly demo quota instead.
func (s *service) Submit(ctx context.Context, profileID uuid.UUID, input SubmitGenerationDTO) (*GenerationDTO, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid generation kind %q", input.Kind))
	}
	if input.Prompt == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}
	if len(input.Prompt) > maxPromptLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt exceeds maximum length")
	}

	adapter, err := s.registry.ForKind(input.Kind)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no vendor supports kind %q", input.Kind))
	}

	price := s.prices.For(input.Kind)

	wallet, err := s.wallets.GetByProfileID(ctx, profileID)
	if err != nil {
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
			return nil, err
		}
		wallet = nil
	}

	isDemo := price.IsPositive() && (wallet == nil || wallet.Balance.LessThan(price))

	var reservation *demo.Reservation
	if isDemo {
		reservation, err = s.demo.Reserve(ctx, profileID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeQuotaExceeded && wallet != nil {
				return nil, pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient balance and demo quota exhausted")
			}
			return nil, err
		}
	}
	releaseReservation := func() {
		if !isDemo {
			return
		}
		if releaseErr := s.demo.Release(ctx, profileID); releaseErr != nil && s.logg != nil {
			s.logg.Warn(ctx, "release demo reservation: "+releaseErr.Error())
		}
	}

	result, err := adapter.Submit(ctx, vendors.Request{
		Kind:   input.Kind,
		Prompt: input.Prompt,
		Model:  input.Model,
		Params: input.Params,
	})
	if err != nil {
		releaseReservation()
		return nil, err
	}

	var params json.RawMessage
	if len(input.Params) > 0 {
		if params, err = json.Marshal(input.Params); err != nil {
			releaseReservation()
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode params")
		}
	}

	now := s.now().UTC()
	generation := &models.Generation{
		ID:           uuid.New(),
		ProfileID:    profileID,
		Kind:         input.Kind,
		Vendor:       adapter.Vendor(),
		VendorTaskID: result.TaskID,
		Status:       enums.GenerationStatusPending,
		Prompt:       input.Prompt,
		Model:        input.Model,
		Params:       params,
		Price:        price,
		IsDemo:       isDemo,
		SubmittedAt:  now,
		ExpiresAt:    now.Add(s.genCfg.TaskTTL),
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, generation); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGenerationSubmitted,
			AggregateType: enums.AggregateGeneration,
			AggregateID:   generation.ID,
			Version:       1,
			Data: payloads.GenerationSubmittedEvent{
				GenerationID: generation.ID,
				ProfileID:    profileID,
				Kind:         generation.Kind,
				Vendor:       generation.Vendor,
				VendorTaskID: generation.VendorTaskID,
				Model:        generation.Model,
				IsDemo:       isDemo,
				Price:        price,
				SubmittedAt:  now,
			},
		}); err != nil {
			return err
		}
		if reservation != nil && reservation.Exhausted {
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDemoQuotaExhausted,
				AggregateType: enums.AggregateProfile,
				AggregateID:   profileID,
				Version:       1,
				Data: payloads.DemoQuotaExhaustedEvent{
					ProfileID:   profileID,
					Period:      demo.CurrentPeriod(now),
					Limit:       s.demoCfg.MonthlyLimit,
					ExhaustedAt: now,
				},
			})
		}
		return nil
	})
	if err != nil {
		releaseReservation()
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record generation")
	}

	s.metrics.IncSubmitted(string(generation.Kind))
	if s.logg != nil {
		logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
		s.logg.Info(logCtx, "generation submitted to "+string(generation.Vendor))
	}

	// synchronous vendors hand back a verdict with the submission
	if result.Status != nil && result.Status.State.IsTerminal() {
		if err := s.settler.SettleResult(ctx, generation.ID, *result.Status); err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithGenerationID(ctx, generation.ID.String())
				s.logg.Error(logCtx, "inline settlement failed", err)
			}
		} else if settled, findErr := s.repo.FindByID(ctx, generation.ID); findErr == nil {
			return FromModel(settled), nil
		}
	}
	return FromModel(generation), nil
}

func (s *service) Get(ctx context.Context, profileID, generationID uuid.UUID) (*GenerationDTO, error) {
	if profileID == uuid.Nil || generationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile and generation ids are required")
	}

	generation, err := s.repo.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.ProfileID != profileID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
	}
	return FromModel(generation), nil
}

// Delete hard-deletes an owned generation. Live tasks are refused so the
// settlement poller never races a vanished row; stored objects are purged
// best-effort before the row goes.
func (s *service) Delete(ctx context.Context, profileID, generationID uuid.UUID) error {
	if profileID == uuid.Nil || generationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "profile and generation ids are required")
	}

	generation, err := s.repo.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup generation")
	}
	if generation.ProfileID != profileID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "generation not found")
	}
	if generation.Status == enums.GenerationStatusPending || generation.Status == enums.GenerationStatusProcessing {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "generation is still running")
	}

	if s.assets != nil {
		if purgeErr := s.assets.PurgeForGeneration(ctx, generationID); purgeErr != nil && s.logg != nil {
			logCtx := s.logg.WithGenerationID(ctx, generationID.String())
			s.logg.Warn(logCtx, "purge generation assets: "+purgeErr.Error())
		}
	}

	if err := s.repo.Delete(ctx, generationID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete generation")
	}
	if s.logg != nil {
		logCtx := s.logg.WithGenerationID(ctx, generationID.String())
		s.logg.Info(logCtx, "generation deleted")
	}
	return nil
}

func (s *service) List(ctx context.Context, profileID uuid.UUID, filter ListFilter, params pagination.Params) (*ListResult, error) {
	if profileID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid generation kind %q", filter.Kind))
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid generation status %q", filter.Status))
	}

	rows, err := s.repo.ListByProfileID(ctx, profileID, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list generations")
	}

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

	dtos := make([]GenerationDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *FromModel(&rows[i]))
	}
	return &ListResult{Generations: dtos, NextCursor: nextCursor}, nil
}
