package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
)

const orderColumns = `id, user_id, shipping_address, billing_address, shipping_cost, total_price,
			   currency, payment_method, order_status, held_from_status,
			   created_at, updated_at, deleted_at`

type OrderRepository struct {
	db querier
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts the order header and its line items. Callers wanting
// both in one transaction run it through UnitOfWork.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.OrderAggregate) error {
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("shipping address serialization error: %w", err)
	}

	billingJSON, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("billing address serialization error: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, user_id, shipping_address, billing_address, shipping_cost,
			total_price, currency, payment_method, order_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		order.ID,
		order.UserID,
		shippingJSON,
		billingJSON,
		order.ShippingCost,
		order.TotalPrice,
		order.Currency,
		order.PaymentMethod,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("order creation error: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range order.Items {
		if _, err := r.db.ExecContext(ctx, itemQuery, order.ID, item.ProductID, item.Name, item.Quantity, item.Price); err != nil {
			return fmt.Errorf("order item creation error: %w", err)
		}
	}

	return nil
}

// UpdateOrder persists status, hold bookkeeping and soft deletion. Line items
// and totals are immutable after creation.
func (r *OrderRepository) UpdateOrder(ctx context.Context, order *domain.OrderAggregate) error {
	query := `
		UPDATE orders
		SET order_status = $2, held_from_status = $3, updated_at = $4, deleted_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx,
		query,
		order.ID,
		order.Status,
		nullString(string(order.HeldFromStatus)),
		order.UpdatedAt,
		nullTime(order.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("order update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, order.ID)
	}

	return nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
	`
	return r.getOrder(ctx, query, orderID)
}

// GetOrderForUpdate reads the order and row-locks it until the surrounding
// transaction ends.
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`
	return r.getOrder(ctx, query, orderID)
}

// GetOrdersByUserID lists a user's orders, newest first, skipping soft-deleted ones.
func (r *OrderRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.OrderAggregate, error) {
	query := `
		SELECT id
		FROM orders
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("orders retrieval error: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("order scan error: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders retrieval error: %w", err)
	}

	orders := make([]*domain.OrderAggregate, 0, len(ids))
	for _, id := range ids {
		order, err := r.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *OrderRepository) getOrder(ctx context.Context, query string, orderID uuid.UUID) (*domain.OrderAggregate, error) {
	order := &domain.OrderAggregate{Order: &types.Order{}}
	var shippingJSON, billingJSON []byte
	var heldFrom sql.NullString
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID,
		&order.UserID,
		&shippingJSON,
		&billingJSON,
		&order.ShippingCost,
		&order.TotalPrice,
		&order.Currency,
		&order.PaymentMethod,
		&order.Status,
		&heldFrom,
		&order.CreatedAt,
		&order.UpdatedAt,
		&deletedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("order receive error: %w", err)
	}

	if err := json.Unmarshal(shippingJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("shipping address deserialization error: %w", err)
	}

	if err := json.Unmarshal(billingJSON, &order.BillingAddress); err != nil {
		return nil, fmt.Errorf("billing address deserialization error: %w", err)
	}

	if heldFrom.Valid {
		order.HeldFromStatus = types.OrderStatus(heldFrom.String)
	}
	order.DeletedAt = timePtr(deletedAt)

	items, err := r.getOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) getOrderItems(ctx context.Context, orderID uuid.UUID) ([]types.OrderItem, error) {
	query := `
		SELECT product_id, name, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("order items retrieval error: %w", err)
	}
	defer rows.Close()

	var items []types.OrderItem
	for rows.Next() {
		var item types.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("order item scan error: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// GetCustomer loads the contact details used for status notifications.
func (r *OrderRepository) GetCustomer(ctx context.Context, userID uuid.UUID) (*types.Customer, error) {
	query := `SELECT id, name, email FROM users WHERE id = $1`

	customer := &types.Customer{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&customer.ID, &customer.Name, &customer.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer not found: %s", userID)
		}
		return nil, fmt.Errorf("customer receive error: %w", err)
	}
	return customer, nil
}

type CartRepository struct {
	db querier
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// ClearCart empties a user's cart. Clearing an empty cart is a no-op.
func (r *CartRepository) ClearCart(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("cart clear error: %w", err)
	}
	return nil
}
