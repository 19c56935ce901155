package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/gateway"
	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/service"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WebhookProcessor interface {
	Handle(ctx context.Context, provider types.Provider, body []byte, signature string) (service.WebhookOutcome, error)
}

type ProviderLookup interface {
	Get(name types.Provider) (gateway.Provider, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	providers ProviderLookup
	logger    *zap.Logger
}

func NewWebhookHandler(processor WebhookProcessor, providers ProviderLookup, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		providers: providers,
		logger:    logger.Named("webhook-handler"),
	}
}

type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// Receive is the provider-facing endpoint. The body is passed on byte for byte
// because signatures are computed over the raw payload.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	name := types.Provider(strings.ToLower(c.Params("provider")))

	provider, err := h.providers.Get(name)
	if err != nil {
		return sharedHTTP.NotFoundResponse(c, "Unknown payment provider")
	}

	body := append([]byte(nil), c.Body()...)
	signature := c.Get(provider.SignatureHeader())

	outcome, err := h.processor.Handle(c.UserContext(), name, body, signature)
	if err != nil {
		return h.respondWebhookError(c, name, err)
	}

	return sharedHTTP.SuccessResponse(c, "Webhook received", WebhookAck{
		Received: true,
		Outcome:  string(outcome),
	})
}

func (h *WebhookHandler) respondWebhookError(c *fiber.Ctx, provider types.Provider, err error) error {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		return sharedHTTP.BadRequestResponse(c, "Invalid signature", nil)
	case errors.Is(err, domain.ErrUnknownProvider):
		return sharedHTTP.NotFoundResponse(c, "Unknown payment provider")
	case errors.Is(err, domain.ErrMalformedEvent):
		return sharedHTTP.BadRequestResponse(c, "Malformed event", nil)
	case errors.Is(err, domain.ErrProviderUnavailable):
		return sharedHTTP.ServiceUnavailableResponse(c, "Provider unavailable, retry later")
	}

	h.logger.Error("Webhook processing failed",
		zap.String("provider", string(provider)),
		zap.String("request_id", sharedHTTP.RequestID(c)),
		zap.Error(err))
	return sharedHTTP.InternalServerErrorResponse(c, "Webhook processing failed", nil)
}
