// Package notify is the notification collaborator: domain services publish
// post-mutation events for asynchronous downstream consumption. Publishing
// never blocks the mutation path.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Event names published by the core.
const (
	EventIdentityCreated   = "identityCreated"
	EventCredentialIssued  = "credentialIssued"
	EventCredentialRevoked = "credentialRevoked"
	EventRecordAppended    = "recordAppended"
	EventConsentGranted    = "consentGranted"
	EventConsentRevoked    = "consentRevoked"
	EventColdChainAlert    = "coldChainAlert"
)

// Event is a post-mutation notification.
type Event struct {
	Name    string         `json:"name"`
	Subject string         `json:"subject"`
	Actor   string         `json:"actor,omitempty"`
	At      time.Time      `json:"at"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Publisher is the interface domain services depend on.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events. Used when no collaborator is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Bus is a bounded, in-process publish/subscribe fanout. It replaces the
// global event-emitter pattern: the bus is constructed explicitly and passed
// into services, so tests can subscribe deterministically. Publish is
// non-blocking; events are dropped when a subscriber's buffer is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	buffer      int
	logger      *slog.Logger
	closed      bool
}

// NewBus creates a Bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer, logger: logger}
}

// Subscribe registers a new consumer and returns its receive channel.
// The channel is closed when the bus closes.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.Warn("notification buffer full, event dropped",
					"event", event.Name,
					"subject", event.Subject,
				)
			}
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
}
