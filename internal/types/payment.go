package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusDisputed  PaymentStatus = "disputed"
)

// IsActive reports whether a payment in this status blocks a new checkout for its order.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusCompleted
}

type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderPaystack Provider = "paystack"
	ProviderMock     Provider = "mock"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderPaystack, ProviderMock:
		return true
	}
	return false
}

type Payment struct {
	ID                    uuid.UUID       `json:"id"`
	OrderID               uuid.UUID       `json:"order_id"`
	UserID                uuid.UUID       `json:"user_id"`
	Provider              Provider        `json:"provider"`
	ProviderCorrelationID string          `json:"provider_correlation_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                PaymentStatus   `json:"status"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	RawProviderPayload    json.RawMessage `json:"-"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}
