package messaging

import (
	"context"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
)

type EventType string

const (
	// Payment Events
	PaymentCompletedEvent EventType = "payment.completed"
	PaymentFailedEvent    EventType = "payment.failed"
	PaymentRefundedEvent  EventType = "payment.refunded"
	PaymentDisputedEvent  EventType = "payment.disputed"

	// Order Events
	OrderStatusUpdatedEvent EventType = "order.status_updated"
)

// PaymentEventType names the event emitted when a payment settles in status.
func PaymentEventType(status types.PaymentStatus) EventType {
	switch status {
	case types.PaymentStatusCompleted:
		return PaymentCompletedEvent
	case types.PaymentStatusRefunded:
		return PaymentRefundedEvent
	case types.PaymentStatusDisputed:
		return PaymentDisputedEvent
	default:
		return PaymentFailedEvent
	}
}

type Event struct {
	ID            uuid.UUID   `json:"id"`
	OrderID       uuid.UUID   `json:"order_id"`
	EventType     EventType   `json:"event_type"`
	Payload       interface{} `json:"payload"`
	Timestamp     time.Time   `json:"timestamp"`
	Service       string      `json:"service"`
	CorrelationID string      `json:"correlation_id"` // provider correlation id
}

// RoutingKey is the AMQP routing key. Kafka records carry it in the
// routing_key header and are keyed by order id.
func (e Event) RoutingKey() string {
	return "reconciliation." + string(e.EventType)
}

type PaymentStatusChangedPayload struct {
	Payment types.Payment       `json:"payment"`
	From    types.PaymentStatus `json:"from"`
	To      types.PaymentStatus `json:"to"`
}

type OrderStatusUpdatedPayload struct {
	Notification types.OrderStatusNotification `json:"notification"`
}

// Publisher delivers integration events to the configured broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

func prepare(event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Service == "" {
		event.Service = "payment-reconciliation"
	}
}
