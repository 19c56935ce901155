package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderStore interface {
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.OrderAggregate, error)
}

type OrderService struct {
	orders          OrderStore
	tx              Transactor
	defaultCurrency string
	logger          *zap.Logger
}

func NewOrderService(orders OrderStore, tx Transactor, defaultCurrency string, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:          orders,
		tx:              tx,
		defaultCurrency: defaultCurrency,
		logger:          logger.Named("order-service"),
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, request domain.CreateOrderRequest) (*domain.OrderAggregate, error) {
	currency := request.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	order, err := domain.NewOrderAggregate(
		request.UserID,
		request.ToOrderItems(),
		request.ShippingAddress.ToAddress(),
		request.ToBillingAddress(),
		request.ShippingCost,
		currency,
		types.Provider(strings.ToLower(request.PaymentMethod)),
	)
	if err != nil {
		return nil, err
	}

	err = s.tx.Within(ctx, func(tx repository.Tx) error {
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("order creation error: %w", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("total", order.TotalPrice.StringFixed(2)),
		zap.String("currency", order.Currency))

	return order, nil
}

func (s *OrderService) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *OrderService) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.OrderAggregate, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// DeleteOrder soft-deletes the order. Its payments stay linked for audit and
// later provider events are still reconciled against it.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	err := s.tx.Within(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.IsDeleted() {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		order.SoftDelete()
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order soft-deleted", zap.String("order_id", orderID.String()))
	return nil
}
