package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is everything the service needs from one external payment provider.
type Provider interface {
	Name() types.Provider

	// SignatureHeader names the request header carrying the webhook signature.
	SignatureHeader() string

	// VerifySignature checks the raw body against the signature header value.
	// It returns domain.ErrSignatureInvalid on any mismatch.
	VerifySignature(body []byte, signature string) error

	// NormalizeEvent maps a verified body onto the internal event taxonomy.
	// Events the service does not act on yield domain.ErrUnhandledEvent.
	NormalizeEvent(ctx context.Context, body []byte) (domain.NormalizedEvent, error)

	InitiatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type CheckoutRequest struct {
	OrderID       uuid.UUID
	UserID        uuid.UUID
	CustomerEmail string
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

// AmountInMinorUnits converts to the smallest currency unit (cents, kobo).
func (r CheckoutRequest) AmountInMinorUnits() int64 {
	return r.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type CheckoutSession struct {
	CorrelationID string
	RedirectURL   string
}

type Registry struct {
	providers map[types.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[types.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name types.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []types.Provider {
	names := make([]types.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
