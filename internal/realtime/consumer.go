// Package realtime pushes wallet activity to connected clients. A consumer
// mirrors wallet events into the balance cache and fans them out over redis
// pub/sub; the hub turns a profile's channel into a stream the API can serve.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/outbox/idempotency"
)

const walletRealtimeConsumer = "wallet-realtime"

// PushEvent is the message delivered to connected clients.
type PushEvent struct {
	Type       enums.OutboxEventType `json:"type"`
	WalletID   uuid.UUID             `json:"wallet_id"`
	Balance    decimal.Decimal       `json:"balance"`
	OccurredAt time.Time             `json:"occurred_at"`
}

type balanceCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	WalletBalanceKey(walletID string) string
	RealtimeChannel(profileID string) string
	Publish(ctx context.Context, channel string, payload any) error
}

// Consumer watches wallet events and relays them to clients.
type Consumer struct {
	cache        balanceCache
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	cacheTTL     time.Duration
	logg         *logger.Logger
}

// NewConsumer builds a wallet realtime consumer.
func NewConsumer(cache balanceCache, subscription *pubsub.Subscriber, manager *idempotency.Manager, cacheTTL time.Duration, logg *logger.Logger) (*Consumer, error) {
	if cache == nil {
		return nil, fmt.Errorf("balance cache required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("wallet subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		cache:        cache,
		subscription: subscription,
		idempotency:  manager,
		cacheTTL:     cacheTTL,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !isWalletEvent(eventType) {
		c.logg.Info(logCtx, "skipping non-wallet event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, walletRealtimeConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		return processResult{ack: true}
	}

	if err := c.apply(ctx, eventType, envelope); err != nil {
		c.logg.Error(logCtx, "relay wallet event failed", err)
		_ = c.idempotency.Delete(ctx, walletRealtimeConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

// walletEventPayload covers the fields shared by every wallet event.
type walletEventPayload struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	ProfileID uuid.UUID       `json:"profile_id"`
	Balance   decimal.Decimal `json:"balance"`
}

func (c *Consumer) apply(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	var payload walletEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("decode wallet payload: %w", err)
	}
	if payload.WalletID == uuid.Nil || payload.ProfileID == uuid.Nil {
		return fmt.Errorf("wallet payload missing ids")
	}

	cacheKey := c.cache.WalletBalanceKey(payload.WalletID.String())
	if err := c.cache.Set(ctx, cacheKey, payload.Balance.String(), c.cacheTTL); err != nil {
		return fmt.Errorf("refresh balance cache: %w", err)
	}

	push := PushEvent{
		Type:       eventType,
		WalletID:   payload.WalletID,
		Balance:    payload.Balance,
		OccurredAt: envelope.OccurredAt,
	}
	encoded, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("encode push event: %w", err)
	}
	return c.cache.Publish(ctx, c.cache.RealtimeChannel(payload.ProfileID.String()), encoded)
}

func isWalletEvent(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventWalletDebited, enums.EventWalletCredited, enums.EventWalletSynced:
		return true
	default:
		return false
	}
}
