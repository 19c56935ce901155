package handlers

import (
	"context"
	"strconv"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/service"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderManager interface {
	CreateOrder(ctx context.Context, request domain.CreateOrderRequest) (*domain.OrderAggregate, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.OrderAggregate, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

type FulfilmentAdvancer interface {
	AdvanceFulfilment(ctx context.Context, orderID uuid.UUID, next types.OrderStatus) (*domain.OrderAggregate, error)
}

type CheckoutInitiator interface {
	InitiateCheckout(ctx context.Context, orderID uuid.UUID) (*service.CheckoutResult, error)
	GetOrderPayments(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAggregate, error)
}

type OrderHandler struct {
	orders     OrderManager
	fulfilment FulfilmentAdvancer
	checkout   CheckoutInitiator
	logger     *zap.Logger
}

func NewOrderHandler(orders OrderManager, fulfilment FulfilmentAdvancer, checkout CheckoutInitiator, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:     orders,
		fulfilment: fulfilment,
		checkout:   checkout,
		logger:     logger.Named("order-handler"),
	}
}

func invalidID(c *fiber.Ctx, param string) error {
	return sharedHTTP.BadRequestResponse(c, "Invalid "+param, map[string]interface{}{
		param: c.Params(param),
	})
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var request domain.CreateOrderRequest

	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	// Basic validation
	if request.UserID == uuid.Nil {
		return sharedHTTP.BadRequestResponse(c, "User ID is required", nil)
	}
	if len(request.Items) == 0 {
		return sharedHTTP.BadRequestResponse(c, "At least one item is required", nil)
	}
	if request.PaymentMethod == "" {
		return sharedHTTP.BadRequestResponse(c, "Payment method is required", nil)
	}
	for i, item := range request.Items {
		if item.ProductID == uuid.Nil {
			return sharedHTTP.BadRequestResponse(c, "Invalid product ID", map[string]interface{}{
				"item_index": i,
			})
		}
		if item.Quantity <= 0 {
			return sharedHTTP.BadRequestResponse(c, "Invalid quantity", map[string]interface{}{
				"item_index": i,
				"quantity":   item.Quantity,
			})
		}
		if item.Price.IsNegative() {
			return sharedHTTP.BadRequestResponse(c, "Invalid price", map[string]interface{}{
				"item_index": i,
				"price":      item.Price.String(),
			})
		}
	}

	order, err := h.orders.CreateOrder(c.UserContext(), request)
	if err != nil {
		return respondError(c, h.logger, "Order creation failed", err)
	}

	return sharedHTTP.CreatedResponse(c, "Order created successfully", mapOrder(order))
}

func (h *OrderHandler) GetOrderByID(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	order, err := h.orders.GetOrderByID(c.UserContext(), orderID)
	if err != nil {
		return respondError(c, h.logger, "Order retrieval failed", err)
	}

	return sharedHTTP.SuccessResponse(c, "Order retrieved successfully", mapOrder(order))
}

func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	if err := h.orders.DeleteOrder(c.UserContext(), orderID); err != nil {
		return respondError(c, h.logger, "Order deletion failed", err)
	}

	return sharedHTTP.SuccessResponse(c, "Order deleted successfully", map[string]interface{}{
		"order_id": orderID,
	})
}

func (h *OrderHandler) GetOrdersByUserID(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return invalidID(c, "user_id")
	}

	page := 1
	limit := 10
	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	orders, err := h.orders.GetOrdersByUserID(c.UserContext(), userID)
	if err != nil {
		return respondError(c, h.logger, "Orders retrieval failed", err)
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(orders) {
		start = len(orders)
	}
	if end > len(orders) {
		end = len(orders)
	}

	responses := make([]OrderResponse, 0, end-start)
	for _, order := range orders[start:end] {
		responses = append(responses, mapOrder(order))
	}

	return sharedHTTP.SuccessResponse(c, "Orders retrieved successfully", map[string]interface{}{
		"orders": responses,
		"pagination": map[string]interface{}{
			"page":     page,
			"limit":    limit,
			"total":    len(orders),
			"has_more": end < len(orders),
		},
	})
}

// AdvanceFulfilment moves a paid order to processing, shipped or delivered.
func (h *OrderHandler) AdvanceFulfilment(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	var request FulfilmentRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}
	if request.Status == "" {
		return sharedHTTP.BadRequestResponse(c, "Status is required", nil)
	}

	order, err := h.fulfilment.AdvanceFulfilment(c.UserContext(), orderID, request.Status)
	if err != nil {
		return respondError(c, h.logger, "Fulfilment update failed", err)
	}

	return sharedHTTP.SuccessResponse(c, "Order status updated", mapOrder(order))
}

func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	result, err := h.checkout.InitiateCheckout(c.UserContext(), orderID)
	if err != nil {
		return respondError(c, h.logger, "Checkout initiation failed", err)
	}

	return sharedHTTP.CreatedResponse(c, "Checkout session created", result)
}

func (h *OrderHandler) GetOrderPayments(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c, "id")
	}

	payments, err := h.checkout.GetOrderPayments(c.UserContext(), orderID)
	if err != nil {
		return respondError(c, h.logger, "Payments retrieval failed", err)
	}

	return sharedHTTP.SuccessResponse(c, "Payments retrieved successfully", mapPayments(payments))
}
