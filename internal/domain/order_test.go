package domain

import (
	"testing"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, status types.OrderStatus) *OrderAggregate {
	t.Helper()
	order, err := NewOrderAggregate(
		uuid.New(),
		[]types.OrderItem{{ProductID: uuid.New(), Quantity: 1, Price: decimal.RequireFromString("44.99")}},
		types.Address{City: "Lagos"},
		types.Address{City: "Lagos"},
		decimal.RequireFromString("5.00"),
		"usd",
		types.ProviderStripe,
	)
	require.NoError(t, err)
	order.Status = status
	return order
}

func TestNewOrderAggregate_ComputesTotal(t *testing.T) {
	order, err := NewOrderAggregate(
		uuid.New(),
		[]types.OrderItem{
			{ProductID: uuid.New(), Quantity: 2, Price: decimal.RequireFromString("10.50")},
			{ProductID: uuid.New(), Quantity: 1, Price: decimal.RequireFromString("3.99")},
		},
		types.Address{}, types.Address{},
		decimal.RequireFromString("4.00"),
		"usd",
		types.ProviderPaystack,
	)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("29.99").Equal(order.TotalPrice), "got %s", order.TotalPrice)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.Equal(t, "USD", order.Currency)
}

func TestNewOrderAggregate_Rejects(t *testing.T) {
	item := types.OrderItem{ProductID: uuid.New(), Quantity: 1, Price: decimal.NewFromInt(1)}

	_, err := NewOrderAggregate(uuid.New(), nil, types.Address{}, types.Address{}, decimal.Zero, "usd", types.ProviderStripe)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrderAggregate(uuid.New(), []types.OrderItem{item}, types.Address{}, types.Address{}, decimal.Zero, "usd", "cash")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	bad := item
	bad.Quantity = 0
	_, err = NewOrderAggregate(uuid.New(), []types.OrderItem{bad}, types.Address{}, types.Address{}, decimal.Zero, "usd", types.ProviderStripe)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestOrderAggregate_Reconcile(t *testing.T) {
	pendingSucceeded := Decide(types.PaymentStatusPending, EventSucceeded, DisputeNone)
	pendingFailed := Decide(types.PaymentStatusPending, EventFailed, DisputeNone)
	disputed := Decide(types.PaymentStatusCompleted, EventDisputed, DisputeNone)
	refunded := Decide(types.PaymentStatusCompleted, EventRefunded, DisputeNone)
	lost := Decide(types.PaymentStatusDisputed, EventDisputeResolved, DisputeLost)

	tests := []struct {
		name       string
		start      types.OrderStatus
		transition Transition
		want       types.OrderStatus
	}{
		{"success pays pending order", types.OrderStatusPending, pendingSucceeded, types.OrderStatusPaid},
		{"failure cancels pending order", types.OrderStatusPending, pendingFailed, types.OrderStatusCancelled},
		{"failure leaves non-pending order", types.OrderStatusCancelled, pendingFailed, types.OrderStatusCancelled},
		{"dispute holds paid order", types.OrderStatusPaid, disputed, types.OrderStatusOnHold},
		{"dispute holds shipped order", types.OrderStatusShipped, disputed, types.OrderStatusOnHold},
		{"dispute leaves delivered order", types.OrderStatusDelivered, disputed, types.OrderStatusDelivered},
		{"dispute leaves cancelled order", types.OrderStatusCancelled, disputed, types.OrderStatusCancelled},
		{"dispute leaves returned order", types.OrderStatusReturned, disputed, types.OrderStatusReturned},
		{"refund of shipped order returns it", types.OrderStatusShipped, refunded, types.OrderStatusReturned},
		{"refund of delivered order returns it", types.OrderStatusDelivered, refunded, types.OrderStatusReturned},
		{"refund of paid order cancels it", types.OrderStatusPaid, refunded, types.OrderStatusCancelled},
		{"refund of processing order cancels it", types.OrderStatusProcessing, refunded, types.OrderStatusCancelled},
		{"lost dispute on delivered order returns it", types.OrderStatusDelivered, lost, types.OrderStatusReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := newTestOrder(t, tt.start)
			changed := order.Reconcile(tt.transition)
			assert.Equal(t, tt.want, order.Status)
			assert.Equal(t, tt.start != tt.want, changed)
		})
	}
}

func TestOrderAggregate_DisputeRoundTripRestoresStatus(t *testing.T) {
	order := newTestOrder(t, types.OrderStatusShipped)

	require.True(t, order.Reconcile(Decide(types.PaymentStatusCompleted, EventDisputed, DisputeNone)))
	assert.Equal(t, types.OrderStatusOnHold, order.Status)
	assert.Equal(t, types.OrderStatusShipped, order.HeldFromStatus)

	require.True(t, order.Reconcile(Decide(types.PaymentStatusDisputed, EventDisputeResolved, DisputeResolved)))
	assert.Equal(t, types.OrderStatusShipped, order.Status)
	assert.Empty(t, order.HeldFromStatus)
}

func TestOrderAggregate_LostDisputeUsesHeldStatus(t *testing.T) {
	paid := newTestOrder(t, types.OrderStatusPaid)
	paid.Reconcile(Decide(types.PaymentStatusCompleted, EventDisputed, DisputeNone))
	paid.Reconcile(Decide(types.PaymentStatusDisputed, EventDisputeResolved, DisputeLost))
	assert.Equal(t, types.OrderStatusCancelled, paid.Status)

	shipped := newTestOrder(t, types.OrderStatusShipped)
	shipped.Reconcile(Decide(types.PaymentStatusCompleted, EventDisputed, DisputeNone))
	shipped.Reconcile(Decide(types.PaymentStatusDisputed, EventDisputeResolved, DisputeLost))
	assert.Equal(t, types.OrderStatusReturned, shipped.Status)
}

func TestOrderAggregate_Advance(t *testing.T) {
	order := newTestOrder(t, types.OrderStatusPaid)

	require.NoError(t, order.Advance(types.OrderStatusProcessing))
	require.NoError(t, order.Advance(types.OrderStatusShipped))
	require.NoError(t, order.Advance(types.OrderStatusDelivered))

	assert.ErrorIs(t, order.Advance(types.OrderStatusShipped), ErrInvalidFulfilment)

	pending := newTestOrder(t, types.OrderStatusPending)
	assert.ErrorIs(t, pending.Advance(types.OrderStatusShipped), ErrInvalidFulfilment)

	deleted := newTestOrder(t, types.OrderStatusPaid)
	deleted.SoftDelete()
	assert.ErrorIs(t, deleted.Advance(types.OrderStatusProcessing), ErrInvalidFulfilment)
}

func TestOrderAggregate_CanStartCheckout(t *testing.T) {
	paymentWith := func(order *OrderAggregate, status types.PaymentStatus) *PaymentAggregate {
		p, err := NewPaymentAggregate(order, types.ProviderStripe, "cs_"+uuid.NewString())
		require.NoError(t, err)
		p.Status = status
		return p
	}

	pending := newTestOrder(t, types.OrderStatusPending)
	assert.NoError(t, pending.CanStartCheckout(nil))
	assert.ErrorIs(t, pending.CanStartCheckout([]*PaymentAggregate{paymentWith(pending, types.PaymentStatusPending)}), ErrPaymentAlreadyActive)

	retry := newTestOrder(t, types.OrderStatusCancelled)
	assert.NoError(t, retry.CanStartCheckout([]*PaymentAggregate{paymentWith(retry, types.PaymentStatusFailed)}))

	refunded := newTestOrder(t, types.OrderStatusCancelled)
	assert.ErrorIs(t, refunded.CanStartCheckout([]*PaymentAggregate{paymentWith(refunded, types.PaymentStatusRefunded)}), ErrInvalidOrder)
	assert.ErrorIs(t, refunded.CanStartCheckout(nil), ErrInvalidOrder)

	paid := newTestOrder(t, types.OrderStatusPaid)
	assert.ErrorIs(t, paid.CanStartCheckout(nil), ErrInvalidOrder)

	free := newTestOrder(t, types.OrderStatusPending)
	free.TotalPrice = decimal.Zero
	assert.ErrorIs(t, free.CanStartCheckout(nil), ErrInvalidAmount)

	deleted := newTestOrder(t, types.OrderStatusPending)
	deleted.SoftDelete()
	assert.ErrorIs(t, deleted.CanStartCheckout(nil), ErrOrderNotFound)
}
