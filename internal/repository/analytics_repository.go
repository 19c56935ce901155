package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AnalyticsFilter bounds a report. Zero values mean unbounded.
type AnalyticsFilter struct {
	From     time.Time
	To       time.Time
	Provider types.Provider
}

type PaymentTotal struct {
	Status   types.PaymentStatus `json:"status"`
	Provider types.Provider      `json:"provider"`
	Currency string              `json:"currency"`
	Count    int64               `json:"count"`
	Amount   decimal.Decimal     `json:"amount"`
}

type DailyRevenue struct {
	Day      time.Time       `json:"day"`
	Currency string          `json:"currency"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

type VendorRevenue struct {
	VendorID uuid.UUID       `json:"vendor_id"`
	Currency string          `json:"currency"`
	Orders   int64           `json:"orders"`
	Units    int64           `json:"units"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type AnalyticsRepository struct {
	db querier
}

func NewAnalyticsRepository(db *sql.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// where builds the shared window/provider predicate over the payments alias p.
func (f AnalyticsFilter) where(timeColumn string, conditions ...string) (string, []interface{}) {
	var args []interface{}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", timeColumn, len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conditions = append(conditions, fmt.Sprintf("%s < $%d", timeColumn, len(args)))
	}
	if f.Provider != "" {
		args = append(args, f.Provider)
		conditions = append(conditions, fmt.Sprintf("p.provider = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// GetPaymentTotals aggregates payment counts and amounts by status, provider
// and currency over the creation window.
func (r *AnalyticsRepository) GetPaymentTotals(ctx context.Context, filter AnalyticsFilter) ([]PaymentTotal, error) {
	where, args := filter.where("p.created_at")
	query := `
		SELECT p.status, p.provider, p.currency, COUNT(*), COALESCE(SUM(p.amount), 0)
		FROM payments p
		` + where + `
		GROUP BY p.status, p.provider, p.currency
		ORDER BY p.status, p.provider, p.currency
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payment totals query error: %w", err)
	}
	defer rows.Close()

	totals := []PaymentTotal{}
	for rows.Next() {
		var t PaymentTotal
		if err := rows.Scan(&t.Status, &t.Provider, &t.Currency, &t.Count, &t.Amount); err != nil {
			return nil, fmt.Errorf("payment totals scan error: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// GetDailyRevenue sums completed payments per settlement day.
func (r *AnalyticsRepository) GetDailyRevenue(ctx context.Context, filter AnalyticsFilter) ([]DailyRevenue, error) {
	where, args := filter.where("p.paid_at", "p.status = 'completed'")
	query := `
		SELECT date_trunc('day', p.paid_at) AS day, p.currency, COUNT(*), COALESCE(SUM(p.amount), 0)
		FROM payments p
		` + where + `
		GROUP BY day, p.currency
		ORDER BY day, p.currency
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily revenue query error: %w", err)
	}
	defer rows.Close()

	days := []DailyRevenue{}
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Day, &d.Currency, &d.Count, &d.Amount); err != nil {
			return nil, fmt.Errorf("daily revenue scan error: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// GetVendorRevenue splits completed payments across vendors by the line items
// of the paid orders. Line item prices are the ones captured at purchase.
func (r *AnalyticsRepository) GetVendorRevenue(ctx context.Context, filter AnalyticsFilter) ([]VendorRevenue, error) {
	where, args := filter.where("p.paid_at", "p.status = 'completed'")
	query := `
		SELECT pr.vendor_id, p.currency, COUNT(DISTINCT oi.order_id),
			   COALESCE(SUM(oi.quantity), 0), COALESCE(SUM(oi.price * oi.quantity), 0)
		FROM payments p
		JOIN order_items oi ON oi.order_id = p.order_id
		JOIN products pr ON pr.id = oi.product_id
		` + where + `
		GROUP BY pr.vendor_id, p.currency
		ORDER BY 5 DESC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vendor revenue query error: %w", err)
	}
	defer rows.Close()

	vendors := []VendorRevenue{}
	for rows.Next() {
		var v VendorRevenue
		if err := rows.Scan(&v.VendorID, &v.Currency, &v.Orders, &v.Units, &v.Revenue); err != nil {
			return nil, fmt.Errorf("vendor revenue scan error: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}
