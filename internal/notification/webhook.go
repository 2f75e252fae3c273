package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/staffhub/staffhub/internal/httpclient"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a secret is set
const SignatureHeader = "X-Staffhub-Signature"

// WebhookConfig holds outbound webhook configuration
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// WebhookProvider posts every event as JSON to a relay (mail gateway, chat bridge)
type WebhookProvider struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookProvider creates a new webhook notification provider
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &WebhookProvider{
		config: config,
		client: httpclient.NewTraceClient("webhook", config.Timeout),
	}
}

// Name returns the provider name
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body posted for each event
type webhookPayload struct {
	Event     string            `json:"event"`
	UserID    int64             `json:"userId,omitempty"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Link      string            `json:"link,omitempty"`
	Fields    map[string]string `json:"fields"`
	Timestamp string            `json:"timestamp"`
}

// Send posts the event to the webhook
func (w *WebhookProvider) Send(ctx context.Context, event Event) error {
	if w.config.URL == "" {
		return nil
	}
	return w.post(ctx, event)
}

// Test sends a test notification
func (w *WebhookProvider) Test(ctx context.Context) error {
	if w.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	return w.post(ctx, Event{
		Type:      "test",
		Title:     "Test Notification",
		Message:   "Webhook notifications are working.",
		Timestamp: time.Now(),
		Fields:    map[string]string{"source": "staffhub"},
	})
}

func (w *WebhookProvider) post(ctx context.Context, event Event) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	payload := webhookPayload{
		Event:     string(event.Type),
		UserID:    event.UserID,
		Title:     event.Title,
		Message:   event.Message,
		Link:      event.Link,
		Fields:    fields,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	}

	var sign func([]byte) map[string]string
	if w.config.Secret != "" {
		sign = func(body []byte) map[string]string {
			return map[string]string{SignatureHeader: Sign(w.config.Secret, body)}
		}
	}
	return sendJSONRequest(ctx, w.client, http.MethodPost, w.config.URL, payload, sign)
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
