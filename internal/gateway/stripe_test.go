package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap/zaptest"
)

const testStripeSecret = "whsec_test_secret"

type fakeStripeSessions struct {
	byIntent  map[string]string
	lookupErr error
	created   *stripe.CheckoutSessionParams
	createErr error
}

func (f *fakeStripeSessions) Create(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.com/c/pay/cs_test_123"}, nil
}

func (f *fakeStripeSessions) FindByPaymentIntent(_ context.Context, paymentIntentID string) (string, error) {
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.byIntent[paymentIntentID], nil
}

func newTestStripe(t *testing.T, sessions *fakeStripeSessions) *StripeProvider {
	return newStripeProvider(StripeConfig{
		WebhookSecret: testStripeSecret,
		SuccessURL:    "https://shop.test/success",
		CancelURL:     "https://shop.test/cancel",
	}, sessions, zaptest.NewLogger(t))
}

func stripeEventBody(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"created":1700000000,"data":{"object":%s}}`, eventType, object))
}

func TestStripeVerifySignature(t *testing.T) {
	p := newTestStripe(t, &fakeStripeSessions{})
	body := stripeEventBody("checkout.session.completed", `{"id":"cs_1","object":"checkout.session","payment_status":"paid"}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, p.VerifySignature(body, signed.Header))
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := stripeEventBody("checkout.session.completed", `{"id":"cs_2","object":"checkout.session","payment_status":"paid"}`)
		assert.ErrorIs(t, p.VerifySignature(tampered, signed.Header), domain.ErrSignatureInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   body,
			Secret:    "whsec_other",
			Timestamp: time.Now(),
		})
		assert.ErrorIs(t, p.VerifySignature(body, other.Header), domain.ErrSignatureInvalid)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, p.VerifySignature(body, ""), domain.ErrSignatureInvalid)
	})

	t.Run("older api version", func(t *testing.T) {
		versioned := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"checkout.session.completed","created":1700000000,"data":{"object":{"id":"cs_1","payment_status":"paid"}}}`)
		header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   versioned,
			Secret:    testStripeSecret,
			Timestamp: time.Now(),
		}).Header
		require.NoError(t, p.VerifySignature(versioned, header))

		event, err := p.NormalizeEvent(context.Background(), versioned)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", event.CorrelationID)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   body,
			Secret:    testStripeSecret,
			Timestamp: time.Now().Add(-time.Hour),
		})
		assert.ErrorIs(t, p.VerifySignature(body, old.Header), domain.ErrSignatureInvalid)
	})
}

func TestStripeNormalizeEvent(t *testing.T) {
	sessions := &fakeStripeSessions{byIntent: map[string]string{"pi_1": "cs_from_pi"}}
	p := newTestStripe(t, sessions)

	tests := []struct {
		name        string
		eventType   string
		object      string
		kind        domain.EventKind
		dispute     domain.DisputeOutcome
		correlation string
		reason      string
	}{
		{
			name:        "paid checkout session",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_1","payment_status":"paid"}`,
			kind:        domain.EventSucceeded,
			correlation: "cs_1",
		},
		{
			name:        "async success",
			eventType:   "checkout.session.async_payment_succeeded",
			object:      `{"id":"cs_1"}`,
			kind:        domain.EventSucceeded,
			correlation: "cs_1",
		},
		{
			name:        "async failure",
			eventType:   "checkout.session.async_payment_failed",
			object:      `{"id":"cs_1"}`,
			kind:        domain.EventFailed,
			correlation: "cs_1",
		},
		{
			name:        "session expired",
			eventType:   "checkout.session.expired",
			object:      `{"id":"cs_1"}`,
			kind:        domain.EventExpired,
			correlation: "cs_1",
		},
		{
			name:        "charge succeeded resolves session",
			eventType:   "charge.succeeded",
			object:      `{"id":"ch_1","payment_intent":"pi_1"}`,
			kind:        domain.EventSucceeded,
			correlation: "cs_from_pi",
		},
		{
			name:        "charge failed keeps message",
			eventType:   "charge.failed",
			object:      `{"id":"ch_1","payment_intent":"pi_1","failure_message":"card declined"}`,
			kind:        domain.EventFailed,
			correlation: "cs_from_pi",
			reason:      "card declined",
		},
		{
			name:        "payment intent failed",
			eventType:   "payment_intent.payment_failed",
			object:      `{"id":"pi_1","last_payment_error":{"message":"insufficient funds"}}`,
			kind:        domain.EventFailed,
			correlation: "cs_from_pi",
			reason:      "insufficient funds",
		},
		{
			name:        "full refund with expanded intent",
			eventType:   "charge.refunded",
			object:      `{"id":"ch_1","refunded":true,"payment_intent":{"id":"pi_1"}}`,
			kind:        domain.EventRefunded,
			correlation: "cs_from_pi",
		},
		{
			name:        "dispute created",
			eventType:   "charge.dispute.created",
			object:      `{"id":"dp_1","payment_intent":"pi_1","status":"needs_response"}`,
			kind:        domain.EventDisputed,
			correlation: "cs_from_pi",
		},
		{
			name:        "dispute won",
			eventType:   "charge.dispute.closed",
			object:      `{"id":"dp_1","payment_intent":"pi_1","status":"won"}`,
			kind:        domain.EventDisputeResolved,
			dispute:     domain.DisputeResolved,
			correlation: "cs_from_pi",
		},
		{
			name:        "dispute lost",
			eventType:   "charge.dispute.closed",
			object:      `{"id":"dp_1","payment_intent":"pi_1","status":"lost"}`,
			kind:        domain.EventDisputeResolved,
			dispute:     domain.DisputeLost,
			correlation: "cs_from_pi",
		},
		{
			name:        "invoice payment failed",
			eventType:   "invoice.payment_failed",
			object:      `{"id":"in_1","payment_intent":"pi_1"}`,
			kind:        domain.EventFailed,
			correlation: "cs_from_pi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.NormalizeEvent(context.Background(), stripeEventBody(tt.eventType, tt.object))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.dispute, event.Dispute)
			assert.Equal(t, tt.correlation, event.CorrelationID)
			assert.Equal(t, tt.reason, event.Reason)
			assert.Equal(t, "evt_1", event.ProviderEventID)
			assert.Equal(t, tt.eventType, event.ProviderType)
			assert.Equal(t, int64(1700000000), event.OccurredAt.Unix())
			assert.NotEmpty(t, event.Raw)
		})
	}
}

func TestStripeNormalizeEventUnhandled(t *testing.T) {
	p := newTestStripe(t, &fakeStripeSessions{byIntent: map[string]string{"pi_1": "cs_1"}})

	tests := []struct {
		name      string
		eventType string
		object    string
	}{
		{"unknown type", "customer.created", `{"id":"cus_1"}`},
		{"unpaid completion", "checkout.session.completed", `{"id":"cs_1","payment_status":"unpaid"}`},
		{"partial refund", "charge.refunded", `{"id":"ch_1","refunded":false,"payment_intent":"pi_1"}`},
		{"dispute still open", "charge.dispute.closed", `{"id":"dp_1","payment_intent":"pi_1","status":"under_review"}`},
		{"charge without intent", "charge.succeeded", `{"id":"ch_1","payment_intent":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.NormalizeEvent(context.Background(), stripeEventBody(tt.eventType, tt.object))
			assert.ErrorIs(t, err, domain.ErrUnhandledEvent)
		})
	}
}

func TestStripeNormalizeEventLookupFailures(t *testing.T) {
	body := stripeEventBody("charge.succeeded", `{"id":"ch_1","payment_intent":"pi_unknown"}`)

	t.Run("no session for intent", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{})
		_, err := p.NormalizeEvent(context.Background(), body)
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{lookupErr: errors.New("connection reset")})
		_, err := p.NormalizeEvent(context.Background(), body)
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("malformed body", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{})
		_, err := p.NormalizeEvent(context.Background(), []byte(`{not json`))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrUnhandledEvent)
	})

	t.Run("object does not match event type", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{byIntent: map[string]string{"pi_1": "cs_1"}})
		_, err := p.NormalizeEvent(context.Background(),
			stripeEventBody("charge.refunded", `{"id":"ch_1","refunded":"yes","payment_intent":"pi_1"}`))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrUnhandledEvent)
	})
}

func TestStripeInitiatePayment(t *testing.T) {
	req := CheckoutRequest{
		OrderID:       uuid.New(),
		UserID:        uuid.New(),
		CustomerEmail: "jane@example.com",
		Amount:        decimal.RequireFromString("49.99"),
		Currency:      "USD",
		Description:   "Order",
	}

	t.Run("creates a session for the order total", func(t *testing.T) {
		sessions := &fakeStripeSessions{}
		p := newTestStripe(t, sessions)

		session, err := p.InitiatePayment(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "cs_test_123", session.CorrelationID)
		assert.Contains(t, session.RedirectURL, "cs_test_123")

		require.NotNil(t, sessions.created)
		require.Len(t, sessions.created.LineItems, 1)
		assert.Equal(t, int64(4999), *sessions.created.LineItems[0].PriceData.UnitAmount)
		assert.Equal(t, "usd", *sessions.created.LineItems[0].PriceData.Currency)
		assert.Equal(t, req.OrderID.String(), sessions.created.Metadata["order_id"])
		assert.Equal(t, req.OrderID.String(), *sessions.created.ClientReferenceID)
	})

	t.Run("transport failure is provider unavailable", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{createErr: errors.New("timeout")})
		_, err := p.InitiatePayment(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("rejected request is not retried as unavailable", func(t *testing.T) {
		p := newTestStripe(t, &fakeStripeSessions{createErr: &stripe.Error{HTTPStatusCode: 400, Msg: "bad currency"}})
		_, err := p.InitiatePayment(context.Background(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrProviderUnavailable)
	})
}
