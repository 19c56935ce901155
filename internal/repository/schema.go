package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// users, products and cart_items belong to the catalog and account services.
// They are created here only so a fresh database can run the engine end to end.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id UUID PRIMARY KEY,
		vendor_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		user_id UUID NOT NULL,
		product_id UUID NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		shipping_address JSONB NOT NULL,
		billing_address JSONB NOT NULL,
		shipping_cost NUMERIC(12, 2) NOT NULL DEFAULT 0,
		total_price NUMERIC(12, 2) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		payment_method VARCHAR(32) NOT NULL,
		order_status VARCHAR(32) NOT NULL DEFAULT 'pending',
		held_from_status VARCHAR(32),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders (id),
		product_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(12, 2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders (id),
		user_id UUID NOT NULL,
		provider VARCHAR(32) NOT NULL,
		provider_correlation_id VARCHAR(255) NOT NULL,
		amount NUMERIC(12, 2) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		failure_reason TEXT,
		raw_provider_payload JSONB NOT NULL DEFAULT '{}',
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_correlation_id ON payments (provider_correlation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_paid_at ON payments (paid_at)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id BIGSERIAL PRIMARY KEY,
		provider VARCHAR(32) NOT NULL,
		provider_event_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(128) NOT NULL,
		correlation_id VARCHAR(255),
		outcome VARCHAR(32) NOT NULL,
		error TEXT,
		payload JSONB NOT NULL DEFAULT '{}',
		attempts INT NOT NULL DEFAULT 1,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (provider, provider_event_id)
	)`,
	`ALTER TABLE webhook_events ADD COLUMN IF NOT EXISTS attempts INT NOT NULL DEFAULT 1`,
	`ALTER TABLE webhook_events ADD COLUMN IF NOT EXISTS last_received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_correlation_id ON webhook_events (correlation_id)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for _, statement := range schema {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	logger.Info("Database schema is up to date", zap.Int("statements", len(schema)))
	return nil
}
