// Package events publishes order and payment lifecycle events for
// downstream consumers (fulfilment, notifications, reconciliation).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types. The type doubles as the routing key.
const (
	TypeOrderCreated       = "order.created"
	TypePaymentVerified    = "payment.verified"
	TypePaymentFailed      = "payment.failed"
	TypeInventoryShortfall = "inventory.shortfall"
	TypePaymentCheck       = "payment.check"
)

// Event is the JSON body of every published message.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OrderID    string            `json:"orderId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// New creates an event with an ID and timestamp.
func New(eventType, orderID, userID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OrderID:    orderID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends events. Publishing is best effort from the caller's
// point of view: a failed publish never undoes a committed write.
type Publisher interface {
	Publish(ctx context.Context, e Event) error

	// PublishDelayed delivers e after delay.
	PublishDelayed(ctx context.Context, e Event, delay time.Duration) error
}

// Delivery is a received event with its acknowledgement handles.
type Delivery struct {
	Event Event
	ack   func() error
	nack  func(requeue bool) error
}

// NewDelivery wraps an event with acknowledgement callbacks.
func NewDelivery(e Event, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Event: e, ack: ack, nack: nack}
}

// Ack acknowledges the delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the delivery, optionally requeueing it.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) PublishDelayed(context.Context, Event, time.Duration) error { return nil }
