package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/database"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventConnected    EventType = "connected"
	EventNotification EventType = "notification"
	EventHeartbeat    EventType = "heartbeat"
)

// HeartbeatInterval is how often idle connections receive a heartbeat
var HeartbeatInterval = 30 * time.Second

// Event represents an SSE event to be sent to clients
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type message struct {
	userID int64 // 0 broadcasts to everyone
	event  Event
}

// Client represents a connected SSE client
type Client struct {
	ID       string
	UserID   int64
	Messages chan []byte
}

// Authenticator resolves the token passed in the query string
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*database.User, error)
}

// Broker manages SSE client connections and per-user event delivery
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan message
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewBroker creates a new SSE broker
func NewBroker() *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan message, 100),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// run handles client registration and event delivery
func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			// Graceful shutdown - close all client channels
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("SSE broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int64("user_id", client.UserID).Int("total_clients", total).Msg("SSE client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("SSE client disconnected")

		case msg := <-b.outbound:
			data, err := json.Marshal(msg.event)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal SSE event")
				continue
			}
			frame := formatSSEMessage(string(msg.event.Type), data)

			b.mu.RLock()
			for _, client := range b.clients {
				if msg.userID != 0 && client.UserID != msg.userID {
					continue
				}
				select {
				case client.Messages <- frame:
				default:
					// Client buffer full, skip this message
					log.Warn().Str("client_id", client.ID).Msg("SSE client buffer full, dropping message")
				}
			}
			b.mu.RUnlock()

		case <-heartbeatTicker.C:
			b.enqueue(message{event: Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}}})
		}
	}
}

func (b *Broker) enqueue(msg message) {
	select {
	case b.outbound <- msg:
	default:
		log.Warn().Str("event_type", string(msg.event.Type)).Msg("SSE outbound channel full, dropping event")
	}
}

// SendToUser delivers an event to every connection of one user
func (b *Broker) SendToUser(userID int64, event Event) {
	b.enqueue(message{userID: userID, event: event})
}

// Publish pushes a stored notification to the recipient's live sessions
func (b *Broker) Publish(userID int64, n *database.Notification) {
	b.SendToUser(userID, Event{Type: EventNotification, Data: n})
}

// Stop gracefully shuts down the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Handler serves the event stream. EventSource cannot send headers, so the
// bearer token arrives as ?token=.
func (b *Broker) Handler(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		user, err := auth.Authenticate(r.Context(), token)
		if err != nil || user == nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		b.serve(w, r, user.ID)
	}
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request, userID int64) {
	// Check if flushing is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Messages: make(chan []byte, 32),
	}

	select {
	case b.register <- client:
	case <-b.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	// Ensure cleanup on exit (non-blocking to avoid deadlock during shutdown)
	defer func() {
		select {
		case b.unregister <- client:
		case <-b.done:
		}
	}()

	data, _ := json.Marshal(Event{
		Type: EventConnected,
		Data: map[string]any{"client_id": client.ID, "time": time.Now().Unix()},
	})
	_, _ = w.Write(formatSSEMessage(string(EventConnected), data))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// formatSSEMessage formats an SSE message with event type and data
func formatSSEMessage(eventType string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data)
}
