package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationTypeEmail NotificationType = "email"
	NotificationTypeSMS   NotificationType = "sms"
	NotificationTypePush  NotificationType = "push"
)

// OrderStatusNotification is the command handed to the notification service
// whenever reconciliation moves an order to a new status.
type OrderStatusNotification struct {
	ID         uuid.UUID        `json:"id"`
	OrderID    uuid.UUID        `json:"order_id"`
	CustomerID uuid.UUID        `json:"customer_id"`
	Type       NotificationType `json:"type"`
	Recipient  string           `json:"recipient"`
	Name       string           `json:"name"`
	Status     OrderStatus      `json:"order_status"`
	Items      []OrderItem      `json:"items"`
	Total      decimal.Decimal  `json:"total"`
	Currency   string           `json:"currency"`
	CreatedAt  time.Time        `json:"created_at"`
}
