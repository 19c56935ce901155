package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
)

// WebhookEvent is one row of the inbound webhook audit log.
type WebhookEvent struct {
	ID              int64           `json:"id"`
	Provider        types.Provider  `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Outcome         string          `json:"outcome"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	Payload         json.RawMessage `json:"-"`
	ReceivedAt      time.Time       `json:"received_at"`
	LastReceivedAt  time.Time       `json:"last_received_at"`
}

// Outcomes a later delivery may still replace: the transaction failed, or the
// payment was not registered yet.
const (
	OutcomeFailed   = "failed"
	OutcomeNotFound = "not_found"
)

type WebhookEventRepository struct {
	db querier
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// RecordEvent upserts by (provider, provider_event_id). Every delivery bumps
// attempts, but the first settled outcome is kept; only failed and not_found
// rows take the outcome of a later attempt. The stored outcome, error and
// attempt count are written back into event.
func (r *WebhookEventRepository) RecordEvent(ctx context.Context, event *WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			provider, provider_event_id, event_type, correlation_id,
			outcome, error, payload, received_at, last_received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (provider, provider_event_id) DO UPDATE
		SET attempts = webhook_events.attempts + 1,
			last_received_at = EXCLUDED.last_received_at,
			outcome = CASE WHEN webhook_events.outcome IN ('failed', 'not_found')
				THEN EXCLUDED.outcome ELSE webhook_events.outcome END,
			error = CASE WHEN webhook_events.outcome IN ('failed', 'not_found')
				THEN EXCLUDED.error ELSE webhook_events.error END
		RETURNING id, outcome, error, attempts
	`

	var errText sql.NullString
	err := r.db.QueryRowContext(ctx,
		query,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		nullString(event.CorrelationID),
		event.Outcome,
		nullString(event.Error),
		rawPayload(event.Payload),
		event.ReceivedAt,
	).Scan(&event.ID, &event.Outcome, &errText, &event.Attempts)

	if err != nil {
		return fmt.Errorf("webhook event record error: %w", err)
	}
	event.Error = errText.String
	return nil
}

func (r *WebhookEventRepository) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]*WebhookEvent, error) {
	query := `
		SELECT id, provider, provider_event_id, event_type, correlation_id,
			   outcome, error, attempts, received_at, last_received_at
		FROM webhook_events
		WHERE correlation_id = $1
		ORDER BY received_at
	`

	rows, err := r.db.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("webhook events retrieval error: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		event := &WebhookEvent{}
		var correlation, errText sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.Provider,
			&event.ProviderEventID,
			&event.EventType,
			&correlation,
			&event.Outcome,
			&errText,
			&event.Attempts,
			&event.ReceivedAt,
			&event.LastReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("webhook event scan error: %w", err)
		}
		event.CorrelationID = correlation.String
		event.Error = errText.String
		events = append(events, event)
	}

	return events, rows.Err()
}
