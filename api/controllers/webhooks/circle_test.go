package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

type fakeTransferHandler struct {
	handled []*circle.TransferNotification
	err     error
}

func (f *fakeTransferHandler) HandleTransfer(ctx context.Context, notification *circle.TransferNotification) error {
	f.handled = append(f.handled, notification)
	return f.err
}

func webhookConfig() config.CircleConfig {
	return config.CircleConfig{WebhookSecret: "whsec"}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestCircleWebhookAnswersHeadProbe(t *testing.T) {
	handler := CircleWebhook(&fakeTransferHandler{}, webhookConfig(), webhookLogger())
	req := httptest.NewRequest(http.MethodHead, "/api/v1/webhooks/circle", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestCircleWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeTransferHandler{}
	handler := CircleWebhook(svc, webhookConfig(), webhookLogger())

	body := `{"id":"evt-1","notificationType":"transactions","notification":{"id":"tr-1","state":"COMPLETE"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/circle", strings.NewReader(body))
	req.Header.Set("X-Circle-Signature", sign("wrong-secret", body))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(svc.handled) != 0 {
		t.Fatal("handler must not run on bad signature")
	}
}

func TestCircleWebhookProcessesTransfer(t *testing.T) {
	svc := &fakeTransferHandler{}
	handler := CircleWebhook(svc, webhookConfig(), webhookLogger())

	body := `{"id":"evt-2","notificationType":"transactions","notification":{"id":"tr-2","walletId":"cw-1","state":"COMPLETE","amounts":["5.00"]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/circle", strings.NewReader(body))
	req.Header.Set("X-Circle-Signature", sign("whsec", body))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.handled) != 1 {
		t.Fatalf("expected one handled transfer, got %d", len(svc.handled))
	}
	if svc.handled[0].ID != "tr-2" || svc.handled[0].WalletID != "cw-1" {
		t.Fatalf("unexpected notification %+v", svc.handled[0])
	}
}

func TestCircleWebhookIgnoresOtherNotificationTypes(t *testing.T) {
	svc := &fakeTransferHandler{}
	handler := CircleWebhook(svc, webhookConfig(), webhookLogger())

	body := `{"id":"evt-3","notificationType":"challenges","notification":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/circle", strings.NewReader(body))
	req.Header.Set("X-Circle-Signature", sign("whsec", body))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(svc.handled) != 0 {
		t.Fatal("non-transfer notifications must be acknowledged without processing")
	}
}
