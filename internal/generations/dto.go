package generations

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/db/models"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// SubmitGenerationDTO is the request shape for a new generation.
type SubmitGenerationDTO struct {
	Kind   enums.GenerationKind `json:"kind" validate:"required"`
	Prompt string               `json:"prompt" validate:"required,max=8192"`
	Model  string               `json:"model,omitempty"`
	Params map[string]any       `json:"params,omitempty"`
}

// GenerationDTO is the transport shape for a generation task.
type GenerationDTO struct {
	ID            uuid.UUID              `json:"id"`
	Kind          enums.GenerationKind   `json:"kind"`
	Vendor        enums.Vendor           `json:"vendor"`
	Status        enums.GenerationStatus `json:"status"`
	Prompt        string                 `json:"prompt"`
	Model         string                 `json:"model"`
	ResultURLs    []string               `json:"result_urls,omitempty"`
	ResultText    *string                `json:"result_text,omitempty"`
	Price         decimal.Decimal        `json:"price"`
	IsDemo        bool                   `json:"is_demo"`
	FailureReason *string                `json:"failure_reason,omitempty"`
	SubmittedAt   time.Time              `json:"submitted_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	ExpiresAt     time.Time              `json:"expires_at"`
}

// FromModel converts a generation model into its transport shape.
func FromModel(g *models.Generation) *GenerationDTO {
	if g == nil {
		return nil
	}
	dto := &GenerationDTO{
		ID:            g.ID,
		Kind:          g.Kind,
		Vendor:        g.Vendor,
		Status:        g.Status,
		Prompt:        g.Prompt,
		Model:         g.Model,
		ResultText:    g.ResultText,
		Price:         g.Price,
		IsDemo:        g.IsDemo,
		FailureReason: g.FailureReason,
		SubmittedAt:   g.SubmittedAt,
		CompletedAt:   g.CompletedAt,
		ExpiresAt:     g.ExpiresAt,
	}
	if len(g.ResultURLs) > 0 {
		// stored as a json array; a decode failure leaves the list empty
		_ = json.Unmarshal(g.ResultURLs, &dto.ResultURLs)
	}
	return dto
}
