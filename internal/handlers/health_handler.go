package handlers

import (
	"context"
	"time"

	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			return sharedHTTP.ServiceUnavailableResponse(c, "Database unreachable")
		}
	}

	return sharedHTTP.SuccessResponse(c, "Payment reconciliation service is healthy", map[string]interface{}{
		"service": "payment-reconciliation",
		"status":  "healthy",
	})
}
