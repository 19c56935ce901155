package handlers

import (
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	UserID          uuid.UUID           `json:"user_id"`
	Items           []OrderItemResponse `json:"items"`
	ShippingAddress types.Address       `json:"shipping_address"`
	BillingAddress  types.Address       `json:"billing_address"`
	ShippingCost    decimal.Decimal     `json:"shipping_cost"`
	TotalPrice      decimal.Decimal     `json:"total_price"`
	Currency        string              `json:"currency"`
	PaymentMethod   types.Provider      `json:"payment_method"`
	Status          types.OrderStatus   `json:"order_status"`
	HeldFromStatus  types.OrderStatus   `json:"held_from_status,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type PaymentResponse struct {
	ID            uuid.UUID           `json:"id"`
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        uuid.UUID           `json:"user_id"`
	Provider      types.Provider      `json:"provider"`
	CorrelationID string              `json:"provider_correlation_id"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Status        types.PaymentStatus `json:"status"`
	FailureReason string              `json:"failure_reason,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type FulfilmentRequest struct {
	Status types.OrderStatus `json:"status"`
}

func mapOrder(order *domain.OrderAggregate) OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal(),
		}
	}

	return OrderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		Items:           items,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		ShippingCost:    order.ShippingCost,
		TotalPrice:      order.TotalPrice,
		Currency:        order.Currency,
		PaymentMethod:   order.PaymentMethod,
		Status:          order.Status,
		HeldFromStatus:  order.HeldFromStatus,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func mapPayment(payment *domain.PaymentAggregate) PaymentResponse {
	return PaymentResponse{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Provider:      payment.Provider,
		CorrelationID: payment.ProviderCorrelationID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
		PaidAt:        payment.PaidAt,
		CreatedAt:     payment.CreatedAt,
		UpdatedAt:     payment.UpdatedAt,
	}
}

func mapPayments(payments []*domain.PaymentAggregate) []PaymentResponse {
	responses := make([]PaymentResponse, len(payments))
	for i, p := range payments {
		responses[i] = mapPayment(p)
	}
	return responses
}
