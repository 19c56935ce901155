package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_SuccessPaysOrder(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)

	result, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.OutcomeApplied, result.Transition.Outcome)
	assert.True(t, result.OrderChanged)
	assert.True(t, result.CartCleared)

	payment := f.store.payment(t, f.payment.ID)
	assert.Equal(t, types.PaymentStatusCompleted, payment.Status)
	assert.NotNil(t, payment.PaidAt)
	assert.Equal(t, f.payment.ProviderCorrelationID, payment.ProviderCorrelationID)
	assert.Equal(t, types.OrderStatusPaid, f.store.order(t, f.orderID).order.Status)
	assert.Equal(t, 1, f.store.clears(f.userID))

	assert.Equal(t, []types.OrderStatus{types.OrderStatusPaid}, f.notifier.sent())
	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, messaging.PaymentCompletedEvent, published[0].EventType)
	assert.Equal(t, f.orderID, published[0].OrderID)
}

func TestReconcile_RedeliveredSuccessIsDuplicate(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	event := f.event(domain.EventSucceeded, domain.DisputeNone)

	_, err := f.reconciler.Reconcile(context.Background(), event)
	require.NoError(t, err)

	result, err := f.reconciler.Reconcile(context.Background(), event)
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.OutcomeDuplicate, result.Transition.Outcome)
	assert.False(t, result.CartCleared)
	assert.Equal(t, 1, f.store.clears(f.userID))
	assert.Len(t, f.notifier.sent(), 1)
	assert.Len(t, f.publisher.published(), 1)
}

func TestReconcile_ConcurrentDuplicatesClearCartOnce(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	event := f.event(domain.EventSucceeded, domain.DisputeNone)

	const deliveries = 8
	outcomes := make([]domain.Outcome, deliveries)
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.reconciler.Reconcile(context.Background(), event)
			errs[i] = err
			if err == nil {
				outcomes[i] = result.Transition.Outcome
			}
		}(i)
	}
	wg.Wait()
	f.drain(t)

	applied := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i] == domain.OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, domain.OutcomeDuplicate, outcomes[i])
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.store.clears(f.userID))
	assert.Len(t, f.notifier.sent(), 1)
}

func TestReconcile_OrderUpdateFailureRollsBackPayment(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	f.store.failOrderUpdate = errors.New("connection reset")

	_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	f.drain(t)

	assert.Equal(t, types.PaymentStatusPending, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusPending, f.store.order(t, f.orderID).order.Status)
	assert.Zero(t, f.store.clears(f.userID))
	assert.Empty(t, f.notifier.sent())
	assert.Empty(t, f.publisher.published())
}

func TestReconcile_LateExpiryAfterSuccessIsIgnored(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)

	_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.NoError(t, err)

	result, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventExpired, domain.DisputeNone))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.OutcomeUnhandled, result.Transition.Outcome)
	assert.Equal(t, types.PaymentStatusCompleted, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusPaid, f.store.order(t, f.orderID).order.Status)
}

func TestReconcile_FailedPaymentIsTerminal(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)

	failed := f.event(domain.EventFailed, domain.DisputeNone)
	failed.Reason = "card_declined"
	_, err := f.reconciler.Reconcile(context.Background(), failed)
	require.NoError(t, err)

	result, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.OutcomeUnhandled, result.Transition.Outcome)
	payment := f.store.payment(t, f.payment.ID)
	assert.Equal(t, types.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "card_declined", payment.FailureReason)
	assert.Equal(t, types.OrderStatusCancelled, f.store.order(t, f.orderID).order.Status)
	assert.Zero(t, f.store.clears(f.userID))
}

func TestReconcile_RefundAfterShipmentMarksReturned(t *testing.T) {
	f := newFixture(t, types.OrderStatusShipped, types.PaymentStatusCompleted)

	_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventRefunded, domain.DisputeNone))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, types.PaymentStatusRefunded, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusReturned, f.store.order(t, f.orderID).order.Status)
	assert.Equal(t, []types.OrderStatus{types.OrderStatusReturned}, f.notifier.sent())
	assert.Zero(t, f.store.clears(f.userID))
}

func TestReconcile_PartialRefundKeepsPaymentCompleted(t *testing.T) {
	f := newFixture(t, types.OrderStatusShipped, types.PaymentStatusCompleted)

	partial := f.event(domain.EventRefunded, domain.DisputeNone)
	partial.Amount, partial.Currency = 100, "USD"

	result, err := f.reconciler.Reconcile(context.Background(), partial)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnhandled, result.Transition.Outcome)
	f.drain(t)

	assert.Equal(t, types.PaymentStatusCompleted, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusShipped, f.store.order(t, f.orderID).order.Status)
	assert.Empty(t, f.notifier.sent())

	full := f.event(domain.EventRefunded, domain.DisputeNone)
	full.Amount, full.Currency = 4500, "USD"

	result, err = f.reconciler.Reconcile(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Transition.Outcome)
	assert.Equal(t, types.PaymentStatusRefunded, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusReturned, f.store.order(t, f.orderID).order.Status)
}

func TestReconcile_DisputeLifecycle(t *testing.T) {
	tests := []struct {
		name        string
		outcome     domain.DisputeOutcome
		wantPayment types.PaymentStatus
		wantOrder   types.OrderStatus
	}{
		{"won restores held status", domain.DisputeResolved, types.PaymentStatusCompleted, types.OrderStatusShipped},
		{"lost returns shipped goods", domain.DisputeLost, types.PaymentStatusFailed, types.OrderStatusReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, types.OrderStatusShipped, types.PaymentStatusCompleted)

			_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventDisputed, domain.DisputeNone))
			require.NoError(t, err)
			held := f.store.order(t, f.orderID)
			assert.Equal(t, types.OrderStatusOnHold, held.order.Status)
			assert.Equal(t, types.OrderStatusShipped, held.heldFrom)

			_, err = f.reconciler.Reconcile(context.Background(), f.event(domain.EventDisputeResolved, tt.outcome))
			require.NoError(t, err)
			f.drain(t)

			assert.Equal(t, tt.wantPayment, f.store.payment(t, f.payment.ID).Status)
			final := f.store.order(t, f.orderID)
			assert.Equal(t, tt.wantOrder, final.order.Status)
			assert.Empty(t, final.heldFrom)
			assert.Equal(t, []types.OrderStatus{types.OrderStatusOnHold, tt.wantOrder}, f.notifier.sent())
		})
	}
}

func TestReconcile_UnknownCorrelation(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	event := f.event(domain.EventSucceeded, domain.DisputeNone)
	event.CorrelationID = "mock_unknown"

	_, err := f.reconciler.Reconcile(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.NotErrorIs(t, err, domain.ErrTransactionFailed)
}

func TestReconcile_RetriesStaleWrites(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	f.store.forceStale = 2

	result, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Transition.Outcome)
	assert.Equal(t, types.PaymentStatusCompleted, f.store.payment(t, f.payment.ID).Status)
}

func TestReconcile_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	f.store.forceStale = 3

	_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Equal(t, types.PaymentStatusPending, f.store.payment(t, f.payment.ID).Status)
}

func TestReconcile_NotificationFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t, types.OrderStatusPending, types.PaymentStatusPending)
	f.notifier.err = errors.New("smtp down")

	_, err := f.reconciler.Reconcile(context.Background(), f.event(domain.EventSucceeded, domain.DisputeNone))
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, types.PaymentStatusCompleted, f.store.payment(t, f.payment.ID).Status)
	assert.Equal(t, types.OrderStatusPaid, f.store.order(t, f.orderID).order.Status)
}

func TestAdvanceFulfilment(t *testing.T) {
	f := newFixture(t, types.OrderStatusPaid, types.PaymentStatusCompleted)

	order, err := f.reconciler.AdvanceFulfilment(context.Background(), f.orderID, types.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusProcessing, order.Status)

	_, err = f.reconciler.AdvanceFulfilment(context.Background(), f.orderID, types.OrderStatusDelivered)
	assert.ErrorIs(t, err, domain.ErrInvalidFulfilment)
	f.drain(t)

	assert.Equal(t, types.OrderStatusProcessing, f.store.order(t, f.orderID).order.Status)
	assert.Equal(t, []types.OrderStatus{types.OrderStatusProcessing}, f.notifier.sent())
}

func TestAdvanceFulfilment_RequiresCompletedPayment(t *testing.T) {
	f := newFixture(t, types.OrderStatusPaid, types.PaymentStatusDisputed)

	_, err := f.reconciler.AdvanceFulfilment(context.Background(), f.orderID, types.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrInvalidFulfilment)

	_, err = f.reconciler.AdvanceFulfilment(context.Background(), uuid.New(), types.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
