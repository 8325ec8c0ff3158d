package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderCompleted EventType = "ORDER_COMPLETED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
)

// Event is the payload sent from API -> SQS -> Worker.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"type"`
	OrderID    int       `json:"order_id"`
	CustomerID int       `json:"customer_id,omitempty"`
	Total      float64   `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event describing rec.
func NewEvent(typ EventType, rec Record, at time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       typ,
		OrderID:    rec.OrderID,
		CustomerID: rec.CustomerID,
		Total:      rec.Total,
		OccurredAt: at.UTC(),
	}
}

// ParseEvent decodes a message body produced by SQSEventPublisher.
func ParseEvent(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("invalid event body: %w", err)
	}
	if ev.EventID == "" || ev.Type == "" || ev.OrderID <= 0 {
		return Event{}, fmt.Errorf("invalid event body: missing event_id, type or order_id")
	}
	return ev, nil
}

// EventPublisher delivers order events.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MessageSender is satisfied by aws.Publisher.
type MessageSender interface {
	SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error
}

// SQSEventPublisher encodes events as JSON messages. The trace context of
// ctx travels in the message attributes.
type SQSEventPublisher struct {
	sender MessageSender
}

func NewSQSEventPublisher(sender MessageSender) *SQSEventPublisher {
	return &SQSEventPublisher{sender: sender}
}

func (p *SQSEventPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		"event_type":     string(ev.Type),
		"order_id":       strconv.Itoa(ev.OrderID),
		"correlation_id": CorrelationID(ctx),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))
	if err := p.sender.SendMessage(ctx, string(body), attrs); err != nil {
		return fmt.Errorf("publish %s for order %d: %w", ev.Type, ev.OrderID, err)
	}
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type correlationKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
