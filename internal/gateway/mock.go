package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mockSignatureHeader = "X-Mock-Signature"

// MockProvider is a self-contained provider for local runs and tests.
// Webhooks are signed with hex HMAC-SHA256 of the body.
type MockProvider struct {
	Secret      string
	BaseURL     string
	FailureRate float64 // 0.0 - 1.0, share of initiations answered with ProviderUnavailable
	logger      *zap.Logger
}

func NewMockProvider(secret, baseURL string, failureRate float64, logger *zap.Logger) *MockProvider {
	return &MockProvider{
		Secret:      secret,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		FailureRate: failureRate,
		logger:      logger.Named("mock-provider"),
	}
}

// MockEvent is the webhook body the mock provider emits.
type MockEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var mockEventKinds = map[string]struct {
	kind    domain.EventKind
	dispute domain.DisputeOutcome
}{
	"payment.succeeded": {kind: domain.EventSucceeded},
	"payment.failed":    {kind: domain.EventFailed},
	"payment.expired":   {kind: domain.EventExpired},
	"payment.disputed":  {kind: domain.EventDisputed},
	"payment.refunded":  {kind: domain.EventRefunded},
	"dispute.won":       {kind: domain.EventDisputeResolved, dispute: domain.DisputeResolved},
	"dispute.lost":      {kind: domain.EventDisputeResolved, dispute: domain.DisputeLost},
}

func (m *MockProvider) Name() types.Provider { return types.ProviderMock }

func (m *MockProvider) SignatureHeader() string { return mockSignatureHeader }

func (m *MockProvider) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(m.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *MockProvider) VerifySignature(body []byte, signature string) error {
	if signature == "" || m.Secret == "" {
		return domain.ErrSignatureInvalid
	}
	if !hmac.Equal([]byte(m.Sign(body)), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (m *MockProvider) NormalizeEvent(_ context.Context, body []byte) (domain.NormalizedEvent, error) {
	var mockEvent MockEvent
	if err := json.Unmarshal(body, &mockEvent); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("mock event decode: %w", err)
	}

	event := domain.NormalizedEvent{
		Provider:        types.ProviderMock,
		ProviderEventID: mockEvent.ID,
		ProviderType:    mockEvent.Type,
		CorrelationID:   mockEvent.Reference,
		Reason:          mockEvent.Reason,
		OccurredAt:      mockEvent.CreatedAt,
		Raw:             json.RawMessage(body),
	}

	mapped, ok := mockEventKinds[mockEvent.Type]
	if !ok {
		return event, domain.ErrUnhandledEvent
	}
	if mockEvent.Reference == "" {
		return event, fmt.Errorf("mock %s event has no reference", mockEvent.Type)
	}
	event.Kind, event.Dispute = mapped.kind, mapped.dispute
	return event, nil
}

func (m *MockProvider) InitiatePayment(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	m.logger.Info("initiating mock checkout",
		zap.String("order_id", req.OrderID.String()),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("currency", req.Currency))

	// Random failure simulation
	if rand.Float64() < m.FailureRate {
		return nil, fmt.Errorf("%w: mock provider rejected the request", domain.ErrProviderUnavailable)
	}

	reference := "mock_" + uuid.New().String()
	return &CheckoutSession{
		CorrelationID: reference,
		RedirectURL:   fmt.Sprintf("%s/checkout/%s", m.BaseURL, reference),
	}, nil
}
