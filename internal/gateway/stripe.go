package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

const stripeSignatureHeader = "Stripe-Signature"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	HTTP          HTTPConfig
}

// stripeSessions is the slice of the Stripe API used by the provider.
type stripeSessions interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	// FindByPaymentIntent returns the checkout session id that produced the
	// payment intent, or "" when Stripe knows of none.
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error)
}

type StripeProvider struct {
	config   StripeConfig
	sessions stripeSessions
	logger   *zap.Logger
}

func NewStripeProvider(config StripeConfig, logger *zap.Logger) *StripeProvider {
	httpConfig := config.HTTP.withDefaults()
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: httpConfig.Timeout},
		MaxNetworkRetries: stripe.Int64(int64(httpConfig.MaxRetries)),
		LeveledLogger:     retryLogger{logger.Sugar()},
	})

	return newStripeProvider(config, &stripeSessionAPI{
		client: &checkoutsession.Client{B: backend, Key: config.SecretKey},
	}, logger)
}

func newStripeProvider(config StripeConfig, sessions stripeSessions, logger *zap.Logger) *StripeProvider {
	return &StripeProvider{
		config:   config,
		sessions: sessions,
		logger:   logger.Named("stripe"),
	}
}

func (p *StripeProvider) Name() types.Provider { return types.ProviderStripe }

func (p *StripeProvider) SignatureHeader() string { return stripeSignatureHeader }

// VerifySignature checks the Stripe-Signature header without decoding the
// event; NormalizeEvent parses the verified body.
func (p *StripeProvider) VerifySignature(body []byte, signature string) error {
	if signature == "" || p.config.WebhookSecret == "" {
		return domain.ErrSignatureInvalid
	}
	if err := webhook.ValidatePayload(body, signature, p.config.WebhookSecret); err != nil {
		p.logger.Debug("stripe signature rejected", zap.Error(err))
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (p *StripeProvider) NormalizeEvent(ctx context.Context, body []byte) (domain.NormalizedEvent, error) {
	var envelope stripe.Event
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("stripe event decode: %w", err)
	}

	event := domain.NormalizedEvent{
		Provider:        types.ProviderStripe,
		ProviderEventID: envelope.ID,
		ProviderType:    string(envelope.Type),
		OccurredAt:      time.Unix(envelope.Created, 0).UTC(),
		Raw:             json.RawMessage(body),
	}

	switch envelope.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := decodeStripeObject(envelope, &session); err != nil {
			return event, err
		}
		// Delayed methods complete the session unpaid; the async events settle them.
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
			session.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			return event, domain.ErrUnhandledEvent
		}
		event.Kind, event.CorrelationID = domain.EventSucceeded, session.ID

	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		var session stripe.CheckoutSession
		if err := decodeStripeObject(envelope, &session); err != nil {
			return event, err
		}
		event.Kind, event.CorrelationID = stripeSessionKinds[envelope.Type], session.ID

	case stripe.EventTypeChargeSucceeded, stripe.EventTypeChargeFailed, stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := decodeStripeObject(envelope, &charge); err != nil {
			return event, err
		}
		switch envelope.Type {
		case stripe.EventTypeChargeSucceeded:
			event.Kind = domain.EventSucceeded
		case stripe.EventTypeChargeFailed:
			event.Kind, event.Reason = domain.EventFailed, charge.FailureMessage
		default:
			// Partial refunds keep the payment completed.
			if !charge.Refunded {
				return event, domain.ErrUnhandledEvent
			}
			event.Kind = domain.EventRefunded
		}
		return p.correlateByPaymentIntent(ctx, event, paymentIntentID(charge.PaymentIntent))

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := decodeStripeObject(envelope, &intent); err != nil {
			return event, err
		}
		event.Kind = domain.EventFailed
		if intent.LastPaymentError != nil {
			event.Reason = intent.LastPaymentError.Msg
		}
		return p.correlateByPaymentIntent(ctx, event, intent.ID)

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := decodeStripeObject(envelope, &invoice); err != nil {
			return event, err
		}
		event.Kind = domain.EventFailed
		return p.correlateByPaymentIntent(ctx, event, paymentIntentID(invoice.PaymentIntent))

	case stripe.EventTypeChargeDisputeCreated, stripe.EventTypeChargeDisputeClosed:
		var dispute stripe.Dispute
		if err := decodeStripeObject(envelope, &dispute); err != nil {
			return event, err
		}
		event.Kind = domain.EventDisputed
		if envelope.Type == stripe.EventTypeChargeDisputeClosed {
			outcome, ok := stripeDisputeOutcomes[dispute.Status]
			if !ok {
				return event, domain.ErrUnhandledEvent
			}
			event.Kind, event.Dispute = domain.EventDisputeResolved, outcome
		}
		return p.correlateByPaymentIntent(ctx, event, paymentIntentID(dispute.PaymentIntent))

	default:
		return event, domain.ErrUnhandledEvent
	}

	if event.CorrelationID == "" {
		return event, fmt.Errorf("stripe %s event has no session id", envelope.Type)
	}
	return event, nil
}

var stripeSessionKinds = map[stripe.EventType]domain.EventKind{
	stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: domain.EventSucceeded,
	stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    domain.EventFailed,
	stripe.EventTypeCheckoutSessionExpired:               domain.EventExpired,
}

// decodeStripeObject reads data.object into the SDK type for the event.
func decodeStripeObject(envelope stripe.Event, out interface{}) error {
	if envelope.Data == nil || len(envelope.Data.Raw) == 0 {
		return fmt.Errorf("stripe %s event has no data object", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Data.Raw, out); err != nil {
		return fmt.Errorf("stripe %s object decode: %w", envelope.Type, err)
	}
	return nil
}

func paymentIntentID(intent *stripe.PaymentIntent) string {
	if intent == nil {
		return ""
	}
	return intent.ID
}

// stripeDisputeOutcomes maps the closing status of a Stripe dispute.
var stripeDisputeOutcomes = map[stripe.DisputeStatus]domain.DisputeOutcome{
	stripe.DisputeStatusWon:           domain.DisputeResolved,
	stripe.DisputeStatusWarningClosed: domain.DisputeResolved,
	stripe.DisputeStatusLost:          domain.DisputeLost,
}

// correlateByPaymentIntent resolves charge-level events to the checkout
// session id the payment was registered under.
func (p *StripeProvider) correlateByPaymentIntent(ctx context.Context, event domain.NormalizedEvent, paymentIntentID string) (domain.NormalizedEvent, error) {
	if paymentIntentID == "" {
		return event, domain.ErrUnhandledEvent
	}

	sessionID, err := p.sessions.FindByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return event, fmt.Errorf("%w: stripe session lookup for %s: %v", domain.ErrProviderUnavailable, paymentIntentID, err)
	}
	if sessionID == "" {
		return event, fmt.Errorf("%w: no checkout session for payment intent %s", domain.ErrPaymentNotFound, paymentIntentID)
	}

	event.CorrelationID = sessionID
	return event, nil
}

func (p *StripeProvider) InitiatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.config.SuccessURL),
		CancelURL:         stripe.String(p.config.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.AmountInMinorUnits()),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", req.OrderID.String())
	params.AddMetadata("user_id", req.UserID.String())

	session, err := p.sessions.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return nil, fmt.Errorf("stripe rejected checkout session: %w", err)
		}
		return nil, fmt.Errorf("%w: stripe: %v", domain.ErrProviderUnavailable, err)
	}

	return &CheckoutSession{CorrelationID: session.ID, RedirectURL: session.URL}, nil
}

type stripeSessionAPI struct {
	client *checkoutsession.Client
}

func (a *stripeSessionAPI) Create(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return a.client.New(params)
}

func (a *stripeSessionAPI) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := a.client.List(params)
	for iter.Next() {
		return iter.CheckoutSession().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", err
	}
	return "", nil
}
