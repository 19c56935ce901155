package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
)

type AnalyticsStore interface {
	GetPaymentTotals(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.PaymentTotal, error)
	GetDailyRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.DailyRevenue, error)
	GetVendorRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.VendorRevenue, error)
}

// ErrInvalidFilter rejects report windows that cannot match anything.
var ErrInvalidFilter = errors.New("invalid analytics filter")

type AnalyticsService struct {
	store AnalyticsStore
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

func validateFilter(filter repository.AnalyticsFilter) error {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return fmt.Errorf("%w: from must be before to", ErrInvalidFilter)
	}
	if filter.Provider != "" && !filter.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidFilter, filter.Provider)
	}
	return nil
}

func (s *AnalyticsService) PaymentTotals(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.PaymentTotal, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.store.GetPaymentTotals(ctx, filter)
}

func (s *AnalyticsService) DailyRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.DailyRevenue, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.store.GetDailyRevenue(ctx, filter)
}

func (s *AnalyticsService) VendorRevenue(ctx context.Context, filter repository.AnalyticsFilter) ([]repository.VendorRevenue, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.store.GetVendorRevenue(ctx, filter)
}
