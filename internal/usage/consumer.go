// Package usage streams generation activity into BigQuery and answers the
// admin usage and billing queries on top of it.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
)

const usageConsumerName = "usage"

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer writes generation and billing events to BigQuery while honoring
// redis idempotency.
type Consumer struct {
	client  tableInserter
	cfg     config.BigQueryConfig
	manager idempotencyChecker
	logg    *logger.Logger
}

// NewConsumer builds a usage consumer.
func NewConsumer(client tableInserter, cfg config.BigQueryConfig, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(cfg.GenerationEventsTable) == "" || strings.TrimSpace(cfg.BillingEventsTable) == "" {
		return nil, fmt.Errorf("bigquery table names required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{client: client, cfg: cfg, manager: manager, logg: logg}, nil
}

// Run consumes one subscription until the context is canceled. The worker
// runs it once for the generation stream and once for the usage stream.
func (c *Consumer) Run(ctx context.Context, subscription *pubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("subscription required")
	}
	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(msg.Attributes["event_type"])

		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Error(ctx, "failed to decode envelope", err)
			msg.Ack()
			return
		}

		if err := c.Process(ctx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process ingests one outbox envelope. Unhandled event types ack silently.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if !handledByUsage(eventType) {
		c.logg.Info(logCtx, "event not handled by usage consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, usageConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.insertRows(ctx, eventType, envelope); err != nil {
		c.logg.Error(logCtx, "failed to ingest usage event", err)
		_ = c.manager.Delete(ctx, usageConsumerName, eventID)
		return err
	}

	c.logg.Info(logCtx, "usage event ingested")
	return nil
}

func (c *Consumer) insertRows(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	row, err := buildGenerationRow(eventType, envelope)
	if err != nil {
		return err
	}
	if err := c.client.InsertRows(ctx, c.cfg.GenerationEventsTable, []any{row}); err != nil {
		return err
	}

	// settled and reversed events also feed the billing table
	if eventType == enums.EventGenerationSettled || eventType == enums.EventGenerationReversed {
		billing, err := buildBillingRow(eventType, envelope)
		if err != nil {
			return err
		}
		if err := c.client.InsertRows(ctx, c.cfg.BillingEventsTable, []any{billing}); err != nil {
			return err
		}
	}
	return nil
}

func handledByUsage(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventGenerationSubmitted,
		enums.EventGenerationSettled,
		enums.EventGenerationFailed,
		enums.EventGenerationExpired,
		enums.EventGenerationReversed,
		enums.EventDemoQuotaExhausted:
		return true
	default:
		return false
	}
}

type generationEventRow struct {
	EventID      string             `bigquery:"event_id"`
	EventType    string             `bigquery:"event_type"`
	OccurredAt   time.Time          `bigquery:"occurred_at"`
	GenerationID *string            `bigquery:"generation_id"`
	ProfileID    *string            `bigquery:"profile_id"`
	Kind         *string            `bigquery:"kind"`
	Vendor       *string            `bigquery:"vendor"`
	IsDemo       cbigquery.NullBool `bigquery:"is_demo"`
	Price        *string            `bigquery:"price"`
	Payload      cbigquery.NullJSON `bigquery:"payload"`
}

type billingEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	ProfileID     *string            `bigquery:"profile_id"`
	GenerationID  *string            `bigquery:"generation_id"`
	TransactionID *string            `bigquery:"transaction_id"`
	Direction     string             `bigquery:"direction"`
	Amount        *string            `bigquery:"amount"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

func buildGenerationRow(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*generationEventRow, error) {
	payload, payloadJSON, err := decodePayload(envelope)
	if err != nil {
		return nil, err
	}

	row := &generationEventRow{
		EventID:      envelope.EventID,
		EventType:    string(eventType),
		OccurredAt:   envelope.OccurredAt,
		GenerationID: stringValue(payload, "generation_id"),
		ProfileID:    stringValue(payload, "profile_id"),
		Kind:         stringValue(payload, "kind"),
		Vendor:       stringValue(payload, "vendor"),
		Price:        stringValue(payload, "price"),
		Payload:      payloadJSON,
	}
	if raw, ok := payload["is_demo"]; ok {
		if isDemo, ok := raw.(bool); ok {
			row.IsDemo = cbigquery.NullBool{Bool: isDemo, Valid: true}
		}
	}
	return row, nil
}

func buildBillingRow(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*billingEventRow, error) {
	payload, payloadJSON, err := decodePayload(envelope)
	if err != nil {
		return nil, err
	}

	direction := string(enums.TransactionDirectionDebit)
	amount := stringValue(payload, "price")
	if eventType == enums.EventGenerationReversed {
		direction = string(enums.TransactionDirectionCredit)
		amount = stringValue(payload, "amount")
	}

	return &billingEventRow{
		EventID:       envelope.EventID,
		EventType:     string(eventType),
		OccurredAt:    envelope.OccurredAt,
		ProfileID:     stringValue(payload, "profile_id"),
		GenerationID:  stringValue(payload, "generation_id"),
		TransactionID: stringValue(payload, "transaction_id"),
		Direction:     direction,
		Amount:        amount,
		Payload:       payloadJSON,
	}, nil
}

func decodePayload(envelope outbox.PayloadEnvelope) (map[string]any, cbigquery.NullJSON, error) {
	payload := map[string]any{}
	payloadJSON := cbigquery.NullJSON{}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return nil, payloadJSON, fmt.Errorf("decode payload: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON.Valid = true
		payloadJSON.JSONVal = string(envelope.Data)
	}
	return payload, payloadJSON, nil
}

func stringValue(payload map[string]any, key string) *string {
	if payload == nil {
		return nil
	}
	if raw, ok := payload[key]; ok {
		if str, ok := raw.(string); ok {
			trimmed := strings.TrimSpace(str)
			if trimmed != "" {
				return &trimmed
			}
		}
	}
	return nil
}
