package service

import (
	"context"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier sends the customer an order status update. The order must carry
// its customer and line items.
type Notifier interface {
	SendOrderStatusUpdate(ctx context.Context, order *domain.OrderAggregate) error
}

// BrokerNotifier hands status updates to the notification service over the
// event broker, which owns templates and delivery.
type BrokerNotifier struct {
	publisher messaging.Publisher
	logger    *zap.Logger
}

func NewBrokerNotifier(publisher messaging.Publisher, logger *zap.Logger) *BrokerNotifier {
	return &BrokerNotifier{
		publisher: publisher,
		logger:    logger.Named("notifier"),
	}
}

func (n *BrokerNotifier) SendOrderStatusUpdate(ctx context.Context, order *domain.OrderAggregate) error {
	if order.Customer == nil || order.Customer.Email == "" {
		return fmt.Errorf("order %s has no customer contact", order.ID)
	}

	notification := types.OrderStatusNotification{
		ID:         uuid.New(),
		OrderID:    order.ID,
		CustomerID: order.UserID,
		Type:       types.NotificationTypeEmail,
		Recipient:  order.Customer.Email,
		Name:       order.Customer.Name,
		Status:     order.Status,
		Items:      order.Items,
		Total:      order.TotalPrice,
		Currency:   order.Currency,
		CreatedAt:  time.Now().UTC(),
	}

	err := n.publisher.Publish(ctx, messaging.Event{
		OrderID:   order.ID,
		EventType: messaging.OrderStatusUpdatedEvent,
		Payload:   messaging.OrderStatusUpdatedPayload{Notification: notification},
	})
	if err != nil {
		return fmt.Errorf("order status notification publish error: %w", err)
	}

	n.logger.Info("Order status notification queued",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)))
	return nil
}
