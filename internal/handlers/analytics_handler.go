package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	sharedHTTP "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/http"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AnalyticsReporter interface {
	PaymentTotals(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.PaymentTotal, error)
	DailyRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.DailyRevenue, error)
	VendorRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.VendorRevenue, error)
}

type AnalyticsHandler struct {
	reports AnalyticsReporter
	logger  *zap.Logger
}

func NewAnalyticsHandler(reports AnalyticsReporter, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		reports: reports,
		logger:  logger.Named("analytics-handler"),
	}
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

func parseFilter(c *fiber.Ctx) (repository.AnalyticsFilter, error) {
	var filter repository.AnalyticsFilter

	if from := c.Query("from"); from != "" {
		t, err := parseTime(from)
		if err != nil {
			return filter, fmt.Errorf("invalid from: %q", from)
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := parseTime(to)
		if err != nil {
			return filter, fmt.Errorf("invalid to: %q", to)
		}
		filter.To = t
	}
	filter.Provider = types.Provider(strings.ToLower(c.Query("provider")))
	return filter, nil
}

func (h *AnalyticsHandler) PaymentTotals(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, err.Error(), nil)
	}

	totals, err := h.reports.PaymentTotals(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.logger, "Payment totals failed", err)
	}
	return sharedHTTP.SuccessResponse(c, "Payment totals", totals)
}

func (h *AnalyticsHandler) DailyRevenue(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, err.Error(), nil)
	}

	revenue, err := h.reports.DailyRevenue(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.logger, "Daily revenue failed", err)
	}
	return sharedHTTP.SuccessResponse(c, "Daily revenue", revenue)
}

func (h *AnalyticsHandler) VendorRevenue(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, err.Error(), nil)
	}

	revenue, err := h.reports.VendorRevenue(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.logger, "Vendor revenue failed", err)
	}
	return sharedHTTP.SuccessResponse(c, "Vendor revenue", revenue)
}
