package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentAggregate struct {
	*types.Payment
}

func NewPaymentAggregate(order *OrderAggregate, provider types.Provider, correlationID string) (*PaymentAggregate, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("provider %s returned an empty correlation id", provider)
	}
	if !order.TotalPrice.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &PaymentAggregate{
		Payment: &types.Payment{
			ID:                    uuid.New(),
			OrderID:               order.ID,
			UserID:                order.UserID,
			Provider:              provider,
			ProviderCorrelationID: correlationID,
			Amount:                order.TotalPrice,
			Currency:              order.Currency,
			Status:                types.PaymentStatusPending,
			RawProviderPayload:    json.RawMessage(`{}`),
			CreatedAt:             now,
			UpdatedAt:             now,
		},
	}, nil
}

// Apply moves the payment along an already decided transition. The correlation
// id is never touched.
func (p *PaymentAggregate) Apply(t Transition, event NormalizedEvent) error {
	if !t.Applies() {
		return fmt.Errorf("transition %s -> %s is not applicable", t.From, t.To)
	}
	if p.Status != t.From {
		return ErrStaleState
	}

	now := time.Now().UTC()
	p.Status = t.To
	p.UpdatedAt = now
	if len(event.Raw) > 0 {
		p.RawProviderPayload = event.Raw
	}

	switch t.To {
	case types.PaymentStatusCompleted:
		if p.PaidAt == nil {
			paidAt := event.OccurredAt
			if paidAt.IsZero() {
				paidAt = now
			}
			p.PaidAt = &paidAt
		}
		p.FailureReason = ""
	case types.PaymentStatusFailed:
		p.FailureReason = failureReason(t, event)
	}

	return nil
}

func failureReason(t Transition, event NormalizedEvent) string {
	if event.Reason != "" {
		return event.Reason
	}
	switch t.Event {
	case EventExpired:
		return "checkout session expired"
	case EventDisputeResolved:
		return "dispute lost"
	default:
		return "payment failed"
	}
}

func (p *PaymentAggregate) AmountInMinorUnits() int64 {
	return p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// RefundsInFull reports whether a refund event gives the whole payment back.
// Events that state no amount are taken as full refunds.
func (p *PaymentAggregate) RefundsInFull(event NormalizedEvent) bool {
	if event.Amount <= 0 {
		return true
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, p.Currency) {
		return false
	}
	return event.Amount >= p.AmountInMinorUnits()
}
