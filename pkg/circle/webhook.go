package circle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
)

// WebhookEvent is the notification envelope Circle posts to our endpoint.
type WebhookEvent struct {
	ID               string          `json:"id"`
	NotificationType string          `json:"notificationType"`
	Notification     json.RawMessage `json:"notification"`
	Timestamp        time.Time       `json:"timestamp"`
	Version          int             `json:"version"`
}

// TransferNotification is the payload carried by transaction notifications.
type TransferNotification struct {
	ID       string   `json:"id"`
	WalletID string   `json:"walletId"`
	State    string   `json:"state"`
	TxHash   string   `json:"txHash"`
	Amounts  []string `json:"amounts"`
}

// VerifySignature checks the webhook HMAC header against the shared secret.
func VerifySignature(secret string, body []byte, signature string) error {
	trimmedSecret := strings.TrimSpace(secret)
	if trimmedSecret == "" {
		return pkgerrors.New(pkgerrors.CodeDependency, "webhook secret not configured")
	}
	trimmedSig := strings.TrimSpace(signature)
	if trimmedSig == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing")
	}

	provided, err := base64.StdEncoding.DecodeString(trimmedSig)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "decode webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(trimmedSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch")
	}
	return nil
}

// ParseWebhookEvent verifies and decodes a webhook request body.
func ParseWebhookEvent(secret string, body []byte, signature string) (*WebhookEvent, error) {
	if err := VerifySignature(secret, body, signature); err != nil {
		return nil, err
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook event")
	}
	return &event, nil
}

// TransferPayload decodes the transfer notification inside the event.
func (e *WebhookEvent) TransferPayload() (*TransferNotification, error) {
	if len(e.Notification) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification payload missing")
	}
	var payload TransferNotification
	if err := json.Unmarshal(e.Notification, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer notification")
	}
	return &payload, nil
}
