package handlers

import (
	"errors"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps the domain error taxonomy onto API responses for the
// order, payment and analytics endpoints.
func respondError(c *fiber.Ctx, logger *zap.Logger, message string, err error) error {
	details := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return sharedHTTP.NotFoundResponse(c, "Order not found")
	case errors.Is(err, domain.ErrPaymentNotFound):
		return sharedHTTP.NotFoundResponse(c, "Payment not found")
	case errors.Is(err, domain.ErrPaymentAlreadyActive):
		return sharedHTTP.ConflictResponse(c, "Order already has an active payment", details)
	case errors.Is(err, domain.ErrInvalidFulfilment):
		return sharedHTTP.ConflictResponse(c, "Fulfilment step not allowed", details)
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownProvider),
		errors.Is(err, service.ErrInvalidFilter):
		return sharedHTTP.UnprocessableResponse(c, message, details)
	case errors.Is(err, domain.ErrProviderUnavailable):
		return sharedHTTP.ServiceUnavailableResponse(c, "Payment provider unavailable, try again later")
	}

	logger.Error(message,
		zap.String("request_id", sharedHTTP.RequestID(c)),
		zap.String("path", c.Path()),
		zap.Error(err))
	return sharedHTTP.InternalServerErrorResponse(c, message, nil)
}
