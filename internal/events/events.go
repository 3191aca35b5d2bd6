package events

import (
	"encoding/json"
	"sync"
	"time"

	"castlebook/internal/models"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingUpdated   = "booking_updated"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCompleted = "booking_completed"
	EventBookingExpired   = "booking_expired"
	EventBookingDeleted   = "booking_deleted"
	EventAgreementSigned  = "agreement_signed"
	EventPaymentChanged   = "payment_status_changed"
)

// StatusEvent maps a booking status to the event published when a booking enters it.
func StatusEvent(status models.BookingStatus) string {
	switch status {
	case models.StatusConfirmed:
		return EventBookingConfirmed
	case models.StatusCompleted:
		return EventBookingCompleted
	case models.StatusExpired:
		return EventBookingExpired
	default:
		return EventBookingUpdated
	}
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     int64     `json:"booking_id"`
	Reference     string    `json:"reference"`
	CustomerName  string    `json:"customer_name"`
	CastleID      int64     `json:"castle_id"`
	CastleName    string    `json:"castle_name"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	EventDate     time.Time `json:"event_date"`
	TotalPrice    float64   `json:"total_price"`
	Comment       string    `json:"comment,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedByRole string    `json:"changed_by_role,omitempty"`
}

// NewBookingPayload snapshots b for publishing.
func NewBookingPayload(b *models.Booking, actor models.Actor) BookingEventPayload {
	return BookingEventPayload{
		BookingID:     b.ID,
		Reference:     b.Reference,
		CustomerName:  b.CustomerName,
		CastleID:      b.CastleID,
		CastleName:    b.CastleName,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		EventDate:     b.EventDate,
		TotalPrice:    b.TotalPrice,
		ChangedBy:     actor.Name,
		ChangedByRole: string(actor.Role),
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
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
	seq         int64
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError registers a callback for handler failures. Handlers never fail the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every event type listed.
func (b *EventBus) SubscribeAll(handler EventHandler, eventTypes ...string) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	b.seq++
	event.ID = b.seq
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
