package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
)

const paymentColumns = `id, order_id, user_id, provider, provider_correlation_id, amount, currency,
			   status, failure_reason, raw_provider_payload, paid_at, created_at, updated_at`

type PaymentRepository struct {
	db querier
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, payment *domain.PaymentAggregate) error {
	query := `
		INSERT INTO payments (
			id, order_id, user_id, provider, provider_correlation_id, amount,
			currency, status, failure_reason, raw_provider_payload, paid_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Provider,
		payment.ProviderCorrelationID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		nullString(payment.FailureReason),
		rawPayload(payment.RawProviderPayload),
		nullTime(payment.PaidAt),
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: correlation id %s", ErrDuplicate, payment.ProviderCorrelationID)
		}
		return fmt.Errorf("payment create error: %w", err)
	}

	return nil
}

// UpdatePaymentIfStatus writes the payment only if its stored status is still
// expected. A miss means another writer got there first and yields
// domain.ErrStaleState.
func (r *PaymentRepository) UpdatePaymentIfStatus(ctx context.Context, payment *domain.PaymentAggregate, expected types.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $3, failure_reason = $4, raw_provider_payload = $5,
			paid_at = $6, updated_at = $7
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx,
		query,
		payment.ID,
		expected,
		payment.Status,
		nullString(payment.FailureReason),
		rawPayload(payment.RawProviderPayload),
		nullTime(payment.PaidAt),
		payment.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("payment update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrStaleState
	}

	return nil
}

func (r *PaymentRepository) GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAggregate, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider_correlation_id = $1
	`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, correlationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: correlation id %s", domain.ErrPaymentNotFound, correlationID)
		}
		return nil, fmt.Errorf("payment receive error: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) GetPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentAggregate, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
		}
		return nil, fmt.Errorf("payment receive error: %w", err)
	}
	return payment, nil
}

// GetActivePaymentByOrderID returns the pending or completed payment of an
// order, or nil when there is none.
func (r *PaymentRepository) GetActivePaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentAggregate, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1 AND status IN ('pending', 'completed')
		ORDER BY created_at DESC
		LIMIT 1
	`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("payment receive error: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) GetPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentAggregate, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("payments retrieval error: %w", err)
	}
	defer rows.Close()

	var payments []*domain.PaymentAggregate
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payment scan error: %w", err)
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*domain.PaymentAggregate, error) {
	payment := &domain.PaymentAggregate{Payment: &types.Payment{}}
	var failureReason sql.NullString
	var paidAt sql.NullTime
	var raw []byte

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Provider,
		&payment.ProviderCorrelationID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&failureReason,
		&raw,
		&paidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failureReason.Valid {
		payment.FailureReason = failureReason.String
	}
	payment.PaidAt = timePtr(paidAt)
	payment.RawProviderPayload = raw

	return payment, nil
}

func rawPayload(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
