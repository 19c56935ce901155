package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderAggregate struct {
	*types.Order
	// HeldFromStatus remembers the status an order had when a dispute put it on hold.
	HeldFromStatus types.OrderStatus `json:"held_from_status,omitempty"`
	Customer       *types.Customer   `json:"customer,omitempty"`
}

func NewOrderAggregate(userID uuid.UUID, items []types.OrderItem, shipping, billing types.Address,
	shippingCost decimal.Decimal, currency string, method types.Provider) (*OrderAggregate, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrInvalidOrder)
	}
	if shippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost cannot be negative", ErrInvalidOrder)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, method)
	}

	total := shippingCost
	for _, item := range items {
		if item.Quantity <= 0 || item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: bad line item for product %s", ErrInvalidOrder, item.ProductID)
		}
		total = total.Add(item.Subtotal())
	}

	now := time.Now().UTC()
	return &OrderAggregate{
		Order: &types.Order{
			ID:              uuid.New(),
			UserID:          userID,
			Items:           items,
			ShippingAddress: shipping,
			BillingAddress:  billing,
			ShippingCost:    shippingCost,
			TotalPrice:      total,
			Currency:        strings.ToUpper(currency),
			PaymentMethod:   method,
			Status:          types.OrderStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}, nil
}

func (o *OrderAggregate) UpdateStatus(status types.OrderStatus) {
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
}

func (o *OrderAggregate) IsDeleted() bool {
	return o.DeletedAt != nil
}

func (o *OrderAggregate) SoftDelete() {
	if o.DeletedAt != nil {
		return
	}
	now := time.Now().UTC()
	o.DeletedAt = &now
	o.UpdatedAt = now
}

// Reconcile brings the order status in line with a payment transition and
// reports whether anything changed.
func (o *OrderAggregate) Reconcile(t Transition) bool {
	if !t.Applies() {
		return false
	}

	before := o.Status
	switch {
	case t.From == types.PaymentStatusPending && t.To == types.PaymentStatusCompleted:
		o.UpdateStatus(types.OrderStatusPaid)

	case t.From == types.PaymentStatusPending && t.To == types.PaymentStatusFailed:
		if o.Status == types.OrderStatusPending {
			o.UpdateStatus(types.OrderStatusCancelled)
		}

	case t.To == types.PaymentStatusDisputed:
		switch o.Status {
		case types.OrderStatusCancelled, types.OrderStatusReturned, types.OrderStatusDelivered, types.OrderStatusOnHold:
		default:
			o.HeldFromStatus = o.Status
			o.UpdateStatus(types.OrderStatusOnHold)
		}

	case t.To == types.PaymentStatusRefunded:
		o.UpdateStatus(moneyReturnedStatus(o.Status))

	case t.From == types.PaymentStatusDisputed && t.To == types.PaymentStatusCompleted:
		if o.Status == types.OrderStatusOnHold {
			restored := o.HeldFromStatus
			if restored == "" {
				restored = types.OrderStatusPaid
			}
			o.HeldFromStatus = ""
			o.UpdateStatus(restored)
		}

	case t.From == types.PaymentStatusDisputed && t.To == types.PaymentStatusFailed:
		effective := o.Status
		if effective == types.OrderStatusOnHold {
			effective = o.HeldFromStatus
			o.HeldFromStatus = ""
		}
		o.UpdateStatus(moneyReturnedStatus(effective))
	}

	return o.Status != before
}

// moneyReturnedStatus is where an order ends once its payment is given back:
// goods already on their way count as returned, anything else is cancelled.
func moneyReturnedStatus(current types.OrderStatus) types.OrderStatus {
	switch current {
	case types.OrderStatusShipped, types.OrderStatusDelivered, types.OrderStatusReturned:
		return types.OrderStatusReturned
	default:
		return types.OrderStatusCancelled
	}
}

// CanStartCheckout reports whether a new payment may be opened for the order
// given its earlier payments. An order cancelled only because every earlier
// attempt failed may be paid again; the reconciler moves it to paid on success.
func (o *OrderAggregate) CanStartCheckout(previous []*PaymentAggregate) error {
	if o.IsDeleted() {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	for _, p := range previous {
		if p.Status.IsActive() {
			return fmt.Errorf("%w: payment %s is %s", ErrPaymentAlreadyActive, p.ID, p.Status)
		}
	}
	if !o.TotalPrice.IsPositive() {
		return fmt.Errorf("%w: order total %s", ErrInvalidAmount, o.TotalPrice.StringFixed(2))
	}

	switch o.Status {
	case types.OrderStatusPending:
		return nil
	case types.OrderStatusCancelled:
		if len(previous) == 0 {
			break
		}
		for _, p := range previous {
			if p.Status != types.PaymentStatusFailed {
				return fmt.Errorf("%w: order %s was cancelled after payment %s was %s", ErrInvalidOrder, o.ID, p.ID, p.Status)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: order %s is %s", ErrInvalidOrder, o.ID, o.Status)
}

var fulfilmentSteps = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusPaid:       {types.OrderStatusProcessing, types.OrderStatusShipped},
	types.OrderStatusProcessing: {types.OrderStatusShipped},
	types.OrderStatusShipped:    {types.OrderStatusDelivered},
}

// Advance moves a paid order forward through fulfilment.
func (o *OrderAggregate) Advance(next types.OrderStatus) error {
	if o.IsDeleted() {
		return fmt.Errorf("%w: order %s is deleted", ErrInvalidFulfilment, o.ID)
	}
	for _, allowed := range fulfilmentSteps[o.Status] {
		if allowed == next {
			o.UpdateStatus(next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidFulfilment, o.Status, next)
}

type CreateOrderRequest struct {
	UserID          uuid.UUID          `json:"user_id" validate:"required"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1"`
	ShippingAddress AddressRequest     `json:"shipping_address" validate:"required"`
	BillingAddress  *AddressRequest    `json:"billing_address,omitempty"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
	Currency        string             `json:"currency"`
	PaymentMethod   string             `json:"payment_method" validate:"required"`
}

type OrderItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	Price     decimal.Decimal `json:"price" validate:"required"`
}

type AddressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

func (r CreateOrderRequest) ToOrderItems() []types.OrderItem {
	items := make([]types.OrderItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = types.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}
	return items
}

func (r AddressRequest) ToAddress() types.Address {
	return types.Address{
		Street:  r.Street,
		City:    r.City,
		State:   r.State,
		ZipCode: r.ZipCode,
		Country: r.Country,
	}
}

// ToBillingAddress falls back to the shipping address when none was given.
func (r CreateOrderRequest) ToBillingAddress() types.Address {
	if r.BillingAddress == nil {
		return r.ShippingAddress.ToAddress()
	}
	return r.BillingAddress.ToAddress()
}
