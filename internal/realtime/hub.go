package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
	RealtimeChannel(profileID string) string
}

// Hub turns a profile's pub/sub channel into a stream of push events.
type Hub struct {
	sub  subscriber
	logg *logger.Logger
}

// NewHub builds a realtime hub over the provided subscriber.
func NewHub(sub subscriber, logg *logger.Logger) (*Hub, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	return &Hub{sub: sub, logg: logg}, nil
}

// Stream subscribes to the profile's channel and delivers decoded events
// until the context is canceled. The returned cancel func must be called.
func (h *Hub) Stream(ctx context.Context, profileID string) (<-chan PushEvent, func(), error) {
	if profileID == "" {
		return nil, nil, fmt.Errorf("profile id required")
	}

	ps := h.sub.Subscribe(ctx, h.sub.RealtimeChannel(profileID))
	out := make(chan PushEvent, 16)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			event, err := decodePushEvent([]byte(msg.Payload))
			if err != nil {
				if h.logg != nil {
					h.logg.Warn(ctx, "drop malformed push event: "+err.Error())
				}
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			default:
				// slow client; drop rather than block the reader
			}
		}
	}()

	cancel := func() { _ = ps.Close() }
	return out, cancel, nil
}

func decodePushEvent(payload []byte) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PushEvent{}, err
	}
	return event, nil
}
