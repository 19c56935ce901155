package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	sideEffectNotification = "notification"
	sideEffectPaymentEvent = "payment_event"
)

type PaymentReader interface {
	GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAggregate, error)
}

type CustomerReader interface {
	GetCustomer(ctx context.Context, userID uuid.UUID) (*types.Customer, error)
}

type Transactor interface {
	Within(ctx context.Context, fn func(tx repository.Tx) error) error
}

// SideEffectDispatcher runs jobs after the response has been decided.
type SideEffectDispatcher interface {
	Dispatch(kind string, job Job) bool
}

type ReconcileResult struct {
	Transition   domain.Transition
	Payment      *domain.PaymentAggregate
	Order        *domain.OrderAggregate
	OrderChanged bool
	CartCleared  bool
}

// Reconciler applies normalized provider events to a payment and its order in
// one transaction, then fires side effects.
type Reconciler struct {
	payments    PaymentReader
	customers   CustomerReader
	tx          Transactor
	dispatcher  SideEffectDispatcher
	notifier    Notifier
	publisher   messaging.Publisher
	maxAttempts int
	logger      *zap.Logger
}

func NewReconciler(
	payments PaymentReader,
	customers CustomerReader,
	tx Transactor,
	dispatcher SideEffectDispatcher,
	notifier Notifier,
	publisher messaging.Publisher,
	maxAttempts int,
	logger *zap.Logger,
) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reconciler{
		payments:    payments,
		customers:   customers,
		tx:          tx,
		dispatcher:  dispatcher,
		notifier:    notifier,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		logger:      logger.Named("reconciler"),
	}
}

// Reconcile returns domain.ErrPaymentNotFound for unknown correlation ids and
// wraps every storage failure in domain.ErrTransactionFailed. Duplicate and
// unhandled events succeed with a non-applied transition.
func (r *Reconciler) Reconcile(ctx context.Context, event domain.NormalizedEvent) (*ReconcileResult, error) {
	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", string(event.Provider)),
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("correlation_id", event.CorrelationID),
	)

	logger := r.logger.With(
		zap.String("provider", string(event.Provider)),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("event_kind", string(event.Kind)),
	)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		payment, err := r.payments.GetPaymentByCorrelationID(ctx, event.CorrelationID)
		if err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				logger.Warn("No payment for correlation id")
				return nil, err
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "payment lookup failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
		}

		t := domain.Decide(payment.Status, event.Kind, event.Dispute)
		if t.Applies() && t.Event == domain.EventRefunded && !payment.RefundsInFull(event) {
			// Partial refunds keep the payment completed.
			logger.Info("Ignoring partial refund",
				zap.Int64("refunded_minor", event.Amount),
				zap.String("refund_currency", event.Currency),
				zap.Int64("payment_minor", payment.AmountInMinorUnits()))
			t.To, t.Outcome = t.From, domain.OutcomeUnhandled
		}
		if !t.Applies() {
			logger.Info("Event needs no transition",
				zap.String("payment_status", string(payment.Status)),
				zap.String("outcome", string(t.Outcome)))
			span.SetAttributes(attribute.String("outcome", string(t.Outcome)))
			return &ReconcileResult{Transition: t, Payment: payment}, nil
		}

		result, err := r.apply(ctx, payment, t, event)
		if err == nil {
			logger.Info("Payment reconciled",
				zap.String("payment_id", payment.ID.String()),
				zap.String("from", string(t.From)),
				zap.String("to", string(t.To)),
				zap.String("order_status", string(result.Order.Status)),
				zap.Bool("cart_cleared", result.CartCleared))
			span.SetAttributes(attribute.String("outcome", string(t.Outcome)))
			observability.RecordTransition(string(t.From), string(t.To))
			r.afterCommit(result)
			return result, nil
		}

		if errors.Is(err, domain.ErrStaleState) {
			observability.RecordReconcileConflict()
			logger.Info("Payment changed concurrently, re-reading", zap.Int("attempt", attempt))
			continue
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		logger.Error("Reconciliation transaction failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	span.SetStatus(codes.Error, "too many conflicts")
	return nil, fmt.Errorf("%w: payment %s still conflicting after %d attempts",
		domain.ErrTransactionFailed, event.CorrelationID, r.maxAttempts)
}

func (r *Reconciler) apply(ctx context.Context, payment *domain.PaymentAggregate, t domain.Transition, event domain.NormalizedEvent) (*ReconcileResult, error) {
	result := &ReconcileResult{Transition: t, Payment: payment}

	err := r.tx.Within(ctx, func(tx repository.Tx) error {
		if err := payment.Apply(t, event); err != nil {
			return err
		}
		if err := tx.UpdatePaymentIfStatus(ctx, payment, t.From); err != nil {
			return err
		}

		order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		result.Order = order

		if order.Reconcile(t) {
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
			result.OrderChanged = true
		}

		if t.ClearsCart() {
			if err := tx.ClearCart(ctx, order.UserID); err != nil {
				return err
			}
			result.CartCleared = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// afterCommit hands side effects to the dispatcher. Nothing here can undo
// the committed transition.
func (r *Reconciler) afterCommit(result *ReconcileResult) {
	payment := *result.Payment.Payment
	t := result.Transition

	r.dispatcher.Dispatch(sideEffectPaymentEvent, func(ctx context.Context) error {
		return r.publisher.Publish(ctx, messaging.Event{
			OrderID:       payment.OrderID,
			EventType:     messaging.PaymentEventType(payment.Status),
			CorrelationID: payment.ProviderCorrelationID,
			Payload: messaging.PaymentStatusChangedPayload{
				Payment: payment,
				From:    t.From,
				To:      t.To,
			},
		})
	})

	if result.OrderChanged {
		r.dispatchNotification(result.Order)
	}
}

func (r *Reconciler) dispatchNotification(order *domain.OrderAggregate) {
	snapshot := *order.Order
	notify := &domain.OrderAggregate{Order: &snapshot, HeldFromStatus: order.HeldFromStatus}

	r.dispatcher.Dispatch(sideEffectNotification, func(ctx context.Context) error {
		customer, err := r.customers.GetCustomer(ctx, notify.UserID)
		if err != nil {
			return err
		}
		notify.Customer = customer
		return r.notifier.SendOrderStatusUpdate(ctx, notify)
	})
}

// AdvanceFulfilment moves a paid order through processing, shipped and
// delivered. The order's latest active payment must be completed.
func (r *Reconciler) AdvanceFulfilment(ctx context.Context, orderID uuid.UUID, next types.OrderStatus) (*domain.OrderAggregate, error) {
	var updated *domain.OrderAggregate

	err := r.tx.Within(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		payment, err := tx.GetActivePaymentByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if payment == nil || payment.Status != types.PaymentStatusCompleted {
			return fmt.Errorf("%w: order %s has no completed payment", domain.ErrInvalidFulfilment, orderID)
		}

		if err := order.Advance(next); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Order fulfilment advanced",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(next)))
	r.dispatchNotification(updated)
	return updated, nil
}
