package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	paystackSignatureHeader = "X-Paystack-Signature"
	paystackDefaultBaseURL  = "https://api.paystack.co"
)

type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	HTTP        HTTPConfig
}

type PaystackProvider struct {
	config PaystackConfig
	client *retryablehttp.Client
	logger *zap.Logger
}

func NewPaystackProvider(config PaystackConfig, logger *zap.Logger) *PaystackProvider {
	if config.BaseURL == "" {
		config.BaseURL = paystackDefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	logger = logger.Named("paystack")
	return &PaystackProvider{
		config: config,
		client: newRetryingClient(config.HTTP, logger),
		logger: logger,
	}
}

func (p *PaystackProvider) Name() types.Provider { return types.ProviderPaystack }

func (p *PaystackProvider) SignatureHeader() string { return paystackSignatureHeader }

// VerifySignature compares the hex HMAC-SHA512 of the body, keyed with the
// secret key, against the header in constant time.
func (p *PaystackProvider) VerifySignature(body []byte, signature string) error {
	if signature == "" || p.config.SecretKey == "" {
		return domain.ErrSignatureInvalid
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha512.New, []byte(p.config.SecretKey))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), given) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference            string         `json:"reference"`
		Status               string         `json:"status"`
		GatewayResponse      string         `json:"gateway_response"`
		Resolution           string         `json:"resolution"`
		TransactionReference string         `json:"transaction_reference"`
		Amount               paystackAmount `json:"amount"`
		Currency             string         `json:"currency"`
		Transaction          struct {
			Reference string `json:"reference"`
		} `json:"transaction"`
		PaidAt    string `json:"paid_at"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}

// paystackAmount is an amount in minor units. Refund payloads send it either
// as a number or as a quoted string.
type paystackAmount int64

func (a *paystackAmount) UnmarshalJSON(raw []byte) error {
	value := strings.Trim(string(raw), `"`)
	if value == "" || value == "null" {
		*a = 0
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		*a = paystackAmount(n)
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("paystack amount %s: %w", raw, err)
	}
	*a = paystackAmount(math.Round(f))
	return nil
}

// Verify statuses that settle a transaction. Anything else (ongoing, pending,
// processing, queued) is still in flight.
var paystackFailedStatuses = map[string]bool{
	"failed":    true,
	"abandoned": true,
	"reversed":  true,
}

// paystackDisputeOutcomes maps data.resolution on charge.dispute.resolve.
// A declined dispute leaves the money with the merchant.
var paystackDisputeOutcomes = map[string]domain.DisputeOutcome{
	"declined":          domain.DisputeResolved,
	"merchant-accepted": domain.DisputeLost,
}

func (p *PaystackProvider) NormalizeEvent(ctx context.Context, body []byte) (domain.NormalizedEvent, error) {
	var envelope paystackEvent
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("paystack event decode: %w", err)
	}
	data := envelope.Data

	event := domain.NormalizedEvent{
		Provider:     types.ProviderPaystack,
		ProviderType: envelope.Event,
		OccurredAt:   parsePaystackTime(data.PaidAt, data.CreatedAt),
		Raw:          json.RawMessage(body),
	}

	switch envelope.Event {
	case "charge.success":
		// The webhook is a hint; the verify endpoint is authoritative.
		verified, err := p.verifyTransaction(ctx, data.Reference)
		if err != nil {
			return event, err
		}
		event.CorrelationID = data.Reference
		switch {
		case verified.Status == "success":
			event.Kind = domain.EventSucceeded
		case paystackFailedStatuses[verified.Status]:
			event.Kind, event.Reason = domain.EventFailed, verified.GatewayResponse
		default:
			// Not settled yet; a non-2xx makes Paystack deliver the event again.
			return event, fmt.Errorf("%w: paystack transaction %s is still %q",
				domain.ErrProviderUnavailable, data.Reference, verified.Status)
		}

	case "charge.failed", "invoice.payment_failed":
		event.Kind, event.CorrelationID, event.Reason = domain.EventFailed, data.Reference, data.GatewayResponse

	case "charge.dispute.create":
		event.Kind, event.CorrelationID = domain.EventDisputed, data.Transaction.Reference

	case "charge.dispute.resolve":
		outcome, ok := paystackDisputeOutcomes[data.Resolution]
		if !ok {
			return event, domain.ErrUnhandledEvent
		}
		event.Kind, event.Dispute, event.CorrelationID = domain.EventDisputeResolved, outcome, data.Transaction.Reference

	case "refund.processed":
		// The reconciler compares the amount with the payment to spot partial refunds.
		event.Kind, event.CorrelationID = domain.EventRefunded, data.TransactionReference
		event.Amount, event.Currency = int64(data.Amount), strings.ToUpper(data.Currency)

	default:
		return event, domain.ErrUnhandledEvent
	}

	if event.CorrelationID == "" {
		return event, fmt.Errorf("paystack %s event has no reference", envelope.Event)
	}
	// Paystack event bodies carry no delivery id.
	event.ProviderEventID = envelope.Event + ":" + event.CorrelationID
	return event, nil
}

func parsePaystackTime(values ...string) time.Time {
	for _, v := range values {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type paystackResponse[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackTransaction struct {
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	GatewayResponse string `json:"gateway_response"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func (p *PaystackProvider) verifyTransaction(ctx context.Context, reference string) (*paystackTransaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("paystack charge.success without reference")
	}
	var resp paystackResponse[paystackTransaction]
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackInitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (p *PaystackProvider) InitiatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.CustomerEmail == "" {
		return nil, fmt.Errorf("paystack requires a customer email")
	}

	payload := paystackInitializeRequest{
		Email:       req.CustomerEmail,
		Amount:      req.AmountInMinorUnits(),
		Reference:   "ord_" + strings.ReplaceAll(req.OrderID.String(), "-", "") + "_" + fmt.Sprint(time.Now().UnixNano()),
		Currency:    strings.ToUpper(req.Currency),
		CallbackURL: p.config.CallbackURL,
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"user_id":  req.UserID.String(),
		},
	}

	var resp paystackResponse[paystackInitializeResult]
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Reference == "" || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: paystack initialize returned no reference", domain.ErrProviderUnavailable)
	}

	return &CheckoutSession{CorrelationID: resp.Data.Reference, RedirectURL: resp.Data.AuthorizationURL}, nil
}

func (p *PaystackProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode paystack request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, p.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// Connection errors and 5xx responses that outlived the retry budget.
		return fmt.Errorf("%w: paystack %s %s: %v", domain.ErrProviderUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: paystack read body: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("paystack %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paystack response decode: %w", err)
	}
	return nil
}
