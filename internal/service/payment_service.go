package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/gateway"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentStore interface {
	GetPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentAggregate, error)
	GetPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAggregate, error)
}

type OrderReader interface {
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error)
	CustomerReader
}

type WebhookEventReader interface {
	GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]*repository.WebhookEvent, error)
}

type CheckoutResult struct {
	PaymentID     uuid.UUID      `json:"payment_id"`
	OrderID       uuid.UUID      `json:"order_id"`
	Provider      types.Provider `json:"provider"`
	CorrelationID string         `json:"provider_correlation_id"`
	RedirectURL   string         `json:"redirect_url"`
}

// PaymentService opens checkout sessions with providers and serves payment
// reads. It never changes a payment's status.
type PaymentService struct {
	payments  PaymentStore
	orders    OrderReader
	events    WebhookEventReader
	tx        Transactor
	providers ProviderRegistry
	logger    *zap.Logger
}

func NewPaymentService(payments PaymentStore, orders OrderReader, events WebhookEventReader, tx Transactor,
	providers ProviderRegistry, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		payments:  payments,
		orders:    orders,
		events:    events,
		tx:        tx,
		providers: providers,
		logger:    logger.Named("payment-service"),
	}
}

// InitiateCheckout creates a provider checkout for the order's stored payment
// method and records a pending payment under the returned correlation id.
func (s *PaymentService) InitiateCheckout(ctx context.Context, orderID uuid.UUID) (*CheckoutResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	previous, err := s.payments.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("payments receive error: %w", err)
	}
	if err := order.CanStartCheckout(previous); err != nil {
		return nil, err
	}

	provider, err := s.providers.Get(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	req := gateway.CheckoutRequest{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      order.TotalPrice,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Order %s", order.ID),
	}
	if customer, err := s.orders.GetCustomer(ctx, order.UserID); err != nil {
		s.logger.Warn("Checkout without customer email", zap.String("order_id", order.ID.String()), zap.Error(err))
	} else {
		req.CustomerEmail = customer.Email
	}

	session, err := provider.InitiatePayment(ctx, req)
	observability.RecordProviderRequest(string(provider.Name()), err)
	if err != nil {
		s.logger.Error("Checkout initiation failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", string(provider.Name())),
			zap.Error(err))
		return nil, err
	}

	payment, err := domain.NewPaymentAggregate(order, provider.Name(), session.CorrelationID)
	if err != nil {
		return nil, err
	}

	err = s.tx.Within(ctx, func(tx repository.Tx) error {
		// The row lock serializes concurrent checkouts for one order.
		if _, err := tx.GetOrderForUpdate(ctx, order.ID); err != nil {
			return err
		}
		active, err := tx.GetActivePaymentByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentAlreadyActive, active.ID, active.Status)
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyActive) {
			// The provider session is left to expire unpaid.
			s.logger.Warn("Concurrent checkout lost the race",
				zap.String("order_id", order.ID.String()),
				zap.String("orphaned_correlation_id", session.CorrelationID))
		}
		return nil, err
	}

	s.logger.Info("Checkout initiated",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider", string(payment.Provider)),
		zap.String("correlation_id", payment.ProviderCorrelationID))

	return &CheckoutResult{
		PaymentID:     payment.ID,
		OrderID:       order.ID,
		Provider:      payment.Provider,
		CorrelationID: payment.ProviderCorrelationID,
		RedirectURL:   session.RedirectURL,
	}, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentAggregate, error) {
	return s.payments.GetPaymentByID(ctx, paymentID)
}

func (s *PaymentService) GetOrderPayments(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAggregate, error) {
	if _, err := s.orders.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.payments.GetPaymentsByOrderID(ctx, orderID)
}

// GetPaymentEvents returns the webhook deliveries recorded for a payment.
func (s *PaymentService) GetPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]*repository.WebhookEvent, error) {
	payment, err := s.payments.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.events.GetEventsByCorrelationID(ctx, payment.ProviderCorrelationID)
}
