package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tx is the write set available inside one database transaction. Either
// everything written through it commits or nothing does.
type Tx interface {
	CreatePayment(ctx context.Context, payment *domain.PaymentAggregate) error
	UpdatePaymentIfStatus(ctx context.Context, payment *domain.PaymentAggregate, expected types.PaymentStatus) error
	GetActivePaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentAggregate, error)

	CreateOrder(ctx context.Context, order *domain.OrderAggregate) error
	GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.OrderAggregate, error)
	UpdateOrder(ctx context.Context, order *domain.OrderAggregate) error

	ClearCart(ctx context.Context, userID uuid.UUID) error
}

type UnitOfWork struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewUnitOfWork(db *sql.DB, logger *zap.Logger) *UnitOfWork {
	return &UnitOfWork{db: db, logger: logger.Named("uow")}
}

// Within runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise. fn's error is returned unwrapped so callers can match it.
func (u *UnitOfWork) Within(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newSQLTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			u.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	*PaymentRepository
	*OrderRepository
	*CartRepository
}

func newSQLTx(tx *sql.Tx) *sqlTx {
	return &sqlTx{
		PaymentRepository: &PaymentRepository{db: tx},
		OrderRepository:   &OrderRepository{db: tx},
		CartRepository:    &CartRepository{db: tx},
	}
}
