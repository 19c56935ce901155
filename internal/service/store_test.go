package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type storedOrder struct {
	order    types.Order
	heldFrom types.OrderStatus
}

// memStore is an in-memory stand-in for the repositories. Within holds the
// store lock for the whole transaction and restores a snapshot on error.
type memStore struct {
	mu         sync.Mutex
	payments   map[uuid.UUID]types.Payment
	orders     map[uuid.UUID]storedOrder
	customers  map[uuid.UUID]*types.Customer
	cartClears map[uuid.UUID]int
	events     []*repository.WebhookEvent

	failOrderUpdate error
	forceStale      int
}

func newMemStore() *memStore {
	return &memStore{
		payments:   make(map[uuid.UUID]types.Payment),
		orders:     make(map[uuid.UUID]storedOrder),
		customers:  make(map[uuid.UUID]*types.Customer),
		cartClears: make(map[uuid.UUID]int),
	}
}

func (s *memStore) Within(_ context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments := make(map[uuid.UUID]types.Payment, len(s.payments))
	for k, v := range s.payments {
		payments[k] = v
	}
	orders := make(map[uuid.UUID]storedOrder, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	clears := make(map[uuid.UUID]int, len(s.cartClears))
	for k, v := range s.cartClears {
		clears[k] = v
	}

	if err := fn(memTx{s}); err != nil {
		s.payments, s.orders, s.cartClears = payments, orders, clears
		return err
	}
	return nil
}

func (s *memStore) GetPaymentByCorrelationID(_ context.Context, correlationID string) (*domain.PaymentAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProviderCorrelationID == correlationID {
			p := p
			return &domain.PaymentAggregate{Payment: &p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, correlationID)
}

func (s *memStore) GetPaymentByID(_ context.Context, paymentID uuid.UUID) (*domain.PaymentAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return &domain.PaymentAggregate{Payment: &p}, nil
}

func (s *memStore) GetPaymentsByOrderID(_ context.Context, orderID uuid.UUID) ([]*domain.PaymentAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PaymentAggregate
	for _, p := range s.payments {
		if p.OrderID == orderID {
			p := p
			out = append(out, &domain.PaymentAggregate{Payment: &p})
		}
	}
	return out, nil
}

func (s *memStore) GetOrderByID(_ context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrder(orderID)
}

func (s *memStore) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]*domain.OrderAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OrderAggregate
	for id, o := range s.orders {
		if o.order.UserID == userID && o.order.DeletedAt == nil {
			order, _ := s.loadOrder(id)
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *memStore) GetCustomer(_ context.Context, userID uuid.UUID) (*types.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[userID]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", userID)
	}
	return c, nil
}

// RecordEvent mirrors the upsert: one row per delivery id, the first settled
// outcome wins.
func (s *memStore) RecordEvent(_ context.Context, event *repository.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.Provider != event.Provider || existing.ProviderEventID != event.ProviderEventID {
			continue
		}
		existing.Attempts++
		existing.LastReceivedAt = event.ReceivedAt
		if existing.Outcome == repository.OutcomeFailed || existing.Outcome == repository.OutcomeNotFound {
			existing.Outcome, existing.Error = event.Outcome, event.Error
		}
		return nil
	}
	row := *event
	row.Attempts, row.LastReceivedAt = 1, event.ReceivedAt
	s.events = append(s.events, &row)
	return nil
}

func (s *memStore) GetEventsByCorrelationID(_ context.Context, correlationID string) ([]*repository.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.WebhookEvent
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) loadOrder(orderID uuid.UUID) (*domain.OrderAggregate, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	order := o.order
	return &domain.OrderAggregate{Order: &order, HeldFromStatus: o.heldFrom}, nil
}

func (s *memStore) payment(t *testing.T, id uuid.UUID) types.Payment {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	require.True(t, ok, "payment %s missing", id)
	return p
}

func (s *memStore) order(t *testing.T, id uuid.UUID) storedOrder {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	require.True(t, ok, "order %s missing", id)
	return o
}

func (s *memStore) clears(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartClears[userID]
}

// memTx runs with the store lock already held.
type memTx struct{ s *memStore }

func (tx memTx) CreatePayment(_ context.Context, payment *domain.PaymentAggregate) error {
	for _, p := range tx.s.payments {
		if p.ProviderCorrelationID == payment.ProviderCorrelationID {
			return repository.ErrDuplicate
		}
	}
	tx.s.payments[payment.ID] = *payment.Payment
	return nil
}

func (tx memTx) UpdatePaymentIfStatus(_ context.Context, payment *domain.PaymentAggregate, expected types.PaymentStatus) error {
	stored, ok := tx.s.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if tx.s.forceStale > 0 {
		tx.s.forceStale--
		return domain.ErrStaleState
	}
	if stored.Status != expected {
		return domain.ErrStaleState
	}
	tx.s.payments[payment.ID] = *payment.Payment
	return nil
}

func (tx memTx) GetActivePaymentByOrderID(_ context.Context, orderID uuid.UUID) (*domain.PaymentAggregate, error) {
	var active *types.Payment
	for _, p := range tx.s.payments {
		if p.OrderID != orderID || !p.Status.IsActive() {
			continue
		}
		if active == nil || p.CreatedAt.After(active.CreatedAt) {
			p := p
			active = &p
		}
	}
	if active == nil {
		return nil, nil
	}
	return &domain.PaymentAggregate{Payment: active}, nil
}

func (tx memTx) CreateOrder(_ context.Context, order *domain.OrderAggregate) error {
	tx.s.orders[order.ID] = storedOrder{order: *order.Order, heldFrom: order.HeldFromStatus}
	return nil
}

func (tx memTx) GetOrderForUpdate(_ context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	return tx.s.loadOrder(orderID)
}

func (tx memTx) UpdateOrder(_ context.Context, order *domain.OrderAggregate) error {
	if tx.s.failOrderUpdate != nil {
		return tx.s.failOrderUpdate
	}
	if _, ok := tx.s.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	tx.s.orders[order.ID] = storedOrder{order: *order.Order, heldFrom: order.HeldFromStatus}
	return nil
}

func (tx memTx) ClearCart(_ context.Context, userID uuid.UUID) error {
	tx.s.cartClears[userID]++
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []types.OrderStatus
	err      error
}

func (n *recordingNotifier) SendOrderStatusUpdate(_ context.Context, order *domain.OrderAggregate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if order.Customer == nil {
		return errors.New("customer not loaded")
	}
	n.statuses = append(n.statuses, order.Status)
	return n.err
}

func (n *recordingNotifier) sent() []types.OrderStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.OrderStatus(nil), n.statuses...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event messaging.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []messaging.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messaging.Event(nil), p.events...)
}

// fixture is one customer with one order and one payment seeded in a memStore.
type fixture struct {
	store      *memStore
	notifier   *recordingNotifier
	publisher  *recordingPublisher
	dispatcher *Dispatcher
	reconciler *Reconciler

	userID  uuid.UUID
	orderID uuid.UUID
	payment *domain.PaymentAggregate
}

func newFixture(t *testing.T, orderStatus types.OrderStatus, paymentStatus types.PaymentStatus) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store := newMemStore()
	userID := uuid.New()
	store.customers[userID] = &types.Customer{ID: userID, Name: "Ada", Email: "ada@example.com"}

	order, err := domain.NewOrderAggregate(
		userID,
		[]types.OrderItem{{ProductID: uuid.New(), Name: "Kettle", Quantity: 2, Price: decimal.RequireFromString("20.00")}},
		types.Address{City: "Accra"}, types.Address{City: "Accra"},
		decimal.RequireFromString("5.00"), "usd", types.ProviderMock,
	)
	require.NoError(t, err)
	order.Status = orderStatus
	store.orders[order.ID] = storedOrder{order: *order.Order}

	payment, err := domain.NewPaymentAggregate(order, types.ProviderMock, "mock_"+uuid.NewString())
	require.NoError(t, err)
	payment.Status = paymentStatus
	store.payments[payment.ID] = *payment.Payment

	f := &fixture{
		store:      store,
		notifier:   &recordingNotifier{},
		publisher:  &recordingPublisher{},
		dispatcher: NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 64, Timeout: time.Second}, logger),
		userID:     userID,
		orderID:    order.ID,
		payment:    payment,
	}
	f.reconciler = NewReconciler(store, store, store, f.dispatcher, f.notifier, f.publisher, 3, logger)
	t.Cleanup(func() { _ = f.dispatcher.Close(context.Background()) })
	return f
}

// drain waits for every dispatched side effect to finish.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Close(ctx))
}

func (f *fixture) event(kind domain.EventKind, dispute domain.DisputeOutcome) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Provider:        types.ProviderMock,
		ProviderEventID: "evt_" + uuid.NewString(),
		ProviderType:    string(kind),
		Kind:            kind,
		Dispute:         dispute,
		CorrelationID:   f.payment.ProviderCorrelationID,
		OccurredAt:      time.Now().UTC(),
		Raw:             []byte(`{}`),
	}
}
