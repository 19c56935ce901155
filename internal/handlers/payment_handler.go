package handlers

import (
	"context"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentReader interface {
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentAggregate, error)
	GetPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]*repository.WebhookEvent, error)
}

type PaymentHandler struct {
	payments PaymentReader
	logger   *zap.Logger
}

func NewPaymentHandler(payments PaymentReader, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger.Named("payment-handler"),
	}
}

func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	payment, err := h.payments.GetPayment(c.UserContext(), paymentID)
	if err != nil {
		return respondError(c, h.logger, "Payment retrieval failed", err)
	}

	return sharedHTTP.SuccessResponse(c, "Payment retrieved successfully", mapPayment(payment))
}

// GetPaymentEvents lists the webhook deliveries recorded against a payment.
func (h *PaymentHandler) GetPaymentEvents(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	events, err := h.payments.GetPaymentEvents(c.UserContext(), paymentID)
	if err != nil {
		return respondError(c, h.logger, "Payment events retrieval failed", err)
	}
	if events == nil {
		events = []*repository.WebhookEvent{}
	}

	return sharedHTTP.SuccessResponse(c, "Payment events retrieved successfully", events)
}
