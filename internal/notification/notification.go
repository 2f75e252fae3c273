package notification

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/database"
)

// EventType represents the type of event that can trigger a notification
type EventType string

const (
	EventLeaveRequested     EventType = database.NotificationLeaveRequested
	EventLeaveReviewed      EventType = database.NotificationLeaveReviewed
	EventTimesheetSubmitted EventType = database.NotificationTimesheetSubmit
	EventTimesheetReviewed  EventType = database.NotificationTimesheetReview
	EventTaskAssigned       EventType = database.NotificationTaskAssigned
	EventTaskComment        EventType = database.NotificationTaskComment
	EventDocumentUploaded   EventType = database.NotificationDocumentUploaded
	EventPasswordReset      EventType = database.NotificationPasswordReset
)

// Event represents a notification event
type Event struct {
	Type      EventType
	UserID    int64
	Title     string
	Message   string
	Link      string
	Fields    map[string]string
	Timestamp time.Time
}

// Provider is the interface for outbound notification providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Send sends a notification
	Send(ctx context.Context, event Event) error

	// Test sends a test notification
	Test(ctx context.Context) error
}

// Publisher pushes freshly stored notifications to connected clients
type Publisher interface {
	Publish(userID int64, n *database.Notification)
}

// Manager stores in-app notifications, pushes them to live sessions and
// forwards events to outbound providers
type Manager struct {
	db        *database.DB
	publisher Publisher
	providers map[string]Provider
	mu        sync.RWMutex
	events    chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// Running state
	running bool
}

// NewManager creates a new notification manager. publisher may be nil.
func NewManager(db *database.DB, publisher Publisher) *Manager {
	return &Manager{
		db:        db,
		publisher: publisher,
		providers: make(map[string]Provider),
		events:    make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}
}

// RegisterProvider registers a notification provider.
// If the manager is not running and this is the first provider, it will start automatically.
func (m *Manager) RegisterProvider(name string, provider Provider) {
	m.mu.Lock()
	wasEmpty := len(m.providers) == 0
	m.providers[name] = provider
	shouldStart := wasEmpty && !m.running
	m.mu.Unlock()

	log.Info().Str("provider", name).Msg("Registered notification provider")

	if shouldStart {
		m.Start()
	}
}

// ListProviders returns all registered provider names
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Start starts the outbound dispatcher.
// Returns true if the manager was started (providers exist), false otherwise.
func (m *Manager) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return true
	}

	if len(m.providers) == 0 {
		return false
	}

	m.running = true
	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Notification dispatcher panicked")
			}
		}()
		m.dispatcher()
	})
	log.Info().Msg("Notification manager started")
	return true
}

// Stop stops the dispatcher after draining queued events
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.stopChan = make(chan struct{})

	log.Info().Msg("Notification manager stopped")
}

// IsRunning returns whether the dispatcher is currently running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Notify stores an in-app notification for each recipient, pushes it to their
// live sessions and queues it for outbound providers. Failures are logged and
// never fail the caller's operation.
func (m *Manager) Notify(ctx context.Context, event Event, recipients ...int64) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	seen := make(map[int64]bool, len(recipients))
	for _, userID := range recipients {
		if userID == 0 || seen[userID] {
			continue
		}
		seen[userID] = true

		n := &database.Notification{
			UserID:  userID,
			Kind:    string(event.Type),
			Title:   event.Title,
			Message: event.Message,
			Link:    event.Link,
		}
		if err := m.db.CreateNotification(ctx, n); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Str("event", string(event.Type)).Msg("Failed to store notification")
			continue
		}

		if m.publisher != nil {
			m.publisher.Publish(userID, n)
		}

		out := event
		out.UserID = userID
		m.Send(out)
	}
}

// Send queues an event for outbound providers only
func (m *Manager) Send(event Event) {
	if !m.IsRunning() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.events <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Notification queue full, dropping event")
	}
}

// dispatcher processes events and sends notifications
func (m *Manager) dispatcher() {
	for {
		select {
		case <-m.stopChan:
			for {
				select {
				case event := <-m.events:
					m.dispatch(event)
				default:
					return
				}
			}
		case event := <-m.events:
			m.dispatch(event)
		}
	}
}

// dispatch sends an event to all registered providers
func (m *Manager) dispatch(event Event) {
	m.mu.RLock()
	providers := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	if len(providers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, provider := range providers {
		if err := provider.Send(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("provider", provider.Name()).
				Str("event", string(event.Type)).
				Str("user_id", strconv.FormatInt(event.UserID, 10)).
				Msg("Failed to send notification")
			continue
		}
		log.Debug().
			Str("provider", provider.Name()).
			Str("event", string(event.Type)).
			Msg("Notification sent")
	}
}

// TestProvider sends a test notification to a specific provider
func (m *Manager) TestProvider(ctx context.Context, providerName string) error {
	m.mu.RLock()
	provider, ok := m.providers[providerName]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("provider not found: %s", providerName)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return provider.Test(ctx)
}
