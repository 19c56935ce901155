package handlers

import (
	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Webhooks  *WebhookHandler
	Orders    *OrderHandler
	Payments  *PaymentHandler
	Analytics *AnalyticsHandler
	Health    *HealthHandler
}

func NewApp(appName string, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      appName,
		ErrorHandler: errorHandler(log.Named("http")),
	})

	// Middlewares
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency} ${locals:requestid}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))
	app.Use(observability.MetricsMiddleware())

	return app
}

func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	api := app.Group("/api/v1")
	api.Get("/health", h.Health.HealthCheck)

	// Provider callbacks: POST /api/v1/webhooks/stripe, /paystack, /mock
	api.Post("/webhooks/:provider", h.Webhooks.Receive)

	orders := api.Group("/orders")
	orders.Post("/", h.Orders.CreateOrder)
	orders.Get("/:id", h.Orders.GetOrderByID)
	orders.Delete("/:id", h.Orders.DeleteOrder)
	orders.Patch("/:id/fulfilment", h.Orders.AdvanceFulfilment)
	orders.Post("/:id/checkout", h.Orders.Checkout)
	orders.Get("/:id/payments", h.Orders.GetOrderPayments)

	users := api.Group("/users")
	users.Get("/:user_id/orders", h.Orders.GetOrdersByUserID)

	payments := api.Group("/payments")
	payments.Get("/:id", h.Payments.GetPayment)
	payments.Get("/:id/events", h.Payments.GetPaymentEvents)

	analytics := api.Group("/analytics")
	analytics.Get("/payments", h.Analytics.PaymentTotals)
	analytics.Get("/payments/daily", h.Analytics.DailyRevenue)
	analytics.Get("/vendors/revenue", h.Analytics.VendorRevenue)

	// Route not found
	app.Use("*", func(c *fiber.Ctx) error {
		return sharedHTTP.NotFoundResponse(c, "Route not found")
	})
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		}

		log.Error("Request failed",
			zap.Int("status", code),
			zap.String("path", c.Path()),
			zap.String("request_id", sharedHTTP.RequestID(c)),
			zap.Error(err))

		return sharedHTTP.ErrorResponse(c, code, "ERROR", message, nil)
	}
}
