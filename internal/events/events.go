package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventEntryPublished = "entry_published"
	EventEntryRetrying  = "entry_retrying"
	EventEntryFailed    = "entry_failed"
	EventEntryRecycled  = "entry_recycled"
	EventRunCompleted   = "run_completed"
)

// EntryEventPayload is the snapshot of one entry outcome.
type EntryEventPayload struct {
	ScheduleID     string    `json:"schedule_id"`
	PostID         string    `json:"post_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Platform       string    `json:"platform"`
	PlatformPostID string    `json:"platform_post_id,omitempty"`
	RetryCount     int       `json:"retry_count"`
	ErrorType      string    `json:"error_type,omitempty"`
	Error          string    `json:"error,omitempty"`
	ImageProcessed bool      `json:"image_processed,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	At             time.Time `json:"at"`
}

// RunEventPayload summarizes a finished publish run.
type RunEventPayload struct {
	Trigger    string `json:"trigger"`
	Processed  int    `json:"processed"`
	Success    int    `json:"success"`
	Failed     int    `json:"failed"`
	Retrying   int    `json:"retrying"`
	Recycled   int    `json:"recycled"`
	DurationMS int64  `json:"duration_ms"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for one or more event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously
// and their errors are ignored.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
