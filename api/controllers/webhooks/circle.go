package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/mediaforge-ai/mediaforge-backend/api/responses"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

const (
	signatureHeader = "X-Circle-Signature"
	maxWebhookBody  = 1 << 20
)

const transferNotificationType = "transactions"

type transferHandler interface {
	HandleTransfer(ctx context.Context, notification *circle.TransferNotification) error
}

// CircleWebhook verifies and applies Circle transfer notifications.
// Circle probes new endpoints with HEAD requests before enabling delivery.
func CircleWebhook(svc transferHandler, cfg config.CircleConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		event, err := circle.ParseWebhookEvent(cfg.WebhookSecret, body, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"webhook_event_id":  event.ID,
				"notification_type": event.NotificationType,
			})
		}

		if !strings.EqualFold(event.NotificationType, transferNotificationType) {
			if logg != nil {
				logg.Info(ctx, "ignoring unhandled circle notification type")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		notification, err := event.TransferPayload()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.HandleTransfer(ctx, notification); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
