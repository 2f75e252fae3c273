package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/staffhub/staffhub/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "notify.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls map[int64][]*database.Notification
}

func (p *recordingPublisher) Publish(userID int64, n *database.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[int64][]*database.Notification)
	}
	p.calls[userID] = append(p.calls[userID], n)
}

type recordingProvider struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProvider) Test(context.Context) error { return nil }

func TestManager_NotifyStoresAndPublishes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var ids []int64
	for _, email := range []string{"a@example.com", "b@example.com"} {
		u := &database.User{Email: email, PasswordHash: "x", Name: email, Role: database.RoleEmployee, Active: true}
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser returned error: %v", err)
		}
		ids = append(ids, u.ID)
	}

	pub := &recordingPublisher{}
	provider := &recordingProvider{}
	m := NewManager(db, pub)
	m.RegisterProvider("recording", provider)
	if !m.IsRunning() {
		t.Fatal("expected manager to start with its first provider")
	}

	// duplicates and zero ids are ignored
	m.Notify(ctx, Event{Type: EventTaskAssigned, Title: "Task assigned", Link: "/tasks/1"}, ids[0], ids[1], ids[0], 0)
	m.Stop()

	for _, id := range ids {
		list, err := db.ListNotifications(ctx, id, false, 10)
		if err != nil {
			t.Fatalf("ListNotifications returned error: %v", err)
		}
		if len(list) != 1 || list[0].Kind != string(EventTaskAssigned) || list[0].Link != "/tasks/1" {
			t.Fatalf("unexpected notifications for %d: %+v", id, list)
		}
		if len(pub.calls[id]) != 1 {
			t.Fatalf("expected one publish for %d, got %d", id, len(pub.calls[id]))
		}
	}

	if len(provider.events) != 2 {
		t.Fatalf("expected 2 outbound events, got %d", len(provider.events))
	}
}

func TestManager_SendWithoutProviders(t *testing.T) {
	m := NewManager(nil, nil)
	// must not block or panic when nothing is running
	m.Send(Event{Type: EventPasswordReset})
	if m.IsRunning() {
		t.Fatal("expected manager to stay stopped")
	}
}

func TestWebhookProvider_SignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookProvider(WebhookConfig{URL: srv.URL, Secret: "shh", Timeout: 5 * time.Second})
	err := p.Send(context.Background(), Event{
		Type:      EventPasswordReset,
		Title:     "Reset your password",
		Link:      "https://hr.example.com/reset?token=abc",
		Fields:    map[string]string{"email": "jane@example.com"},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotSig != Sign("shh", gotBody) {
		t.Fatalf("signature mismatch: %q", gotSig)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Event != "password_reset" || payload.Fields["email"] != "jane@example.com" || payload.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWebhookProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Errorf("expected no signature without a secret")
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhookProvider(WebhookConfig{URL: srv.URL})
	if err := p.Test(context.Background()); err == nil {
		t.Fatal("expected non-2xx status to fail")
	}

	if err := NewWebhookProvider(WebhookConfig{}).Send(context.Background(), Event{}); err != nil {
		t.Fatalf("expected unconfigured webhook to be a no-op, got %v", err)
	}
}
