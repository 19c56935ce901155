package domain

import (
	"encoding/json"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
)

// EventKind is the provider-independent taxonomy every webhook is reduced to.
type EventKind string

const (
	EventSucceeded       EventKind = "succeeded"
	EventFailed          EventKind = "failed"
	EventExpired         EventKind = "expired"
	EventDisputed        EventKind = "disputed"
	EventRefunded        EventKind = "refunded"
	EventDisputeResolved EventKind = "dispute_resolved"
)

// DisputeOutcome qualifies EventDisputeResolved. Each provider maps its own
// closing status onto one of these values.
type DisputeOutcome string

const (
	DisputeNone     DisputeOutcome = ""
	DisputeResolved DisputeOutcome = "resolved"
	DisputeLost     DisputeOutcome = "lost"
)

type NormalizedEvent struct {
	Provider        types.Provider  `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	ProviderType    string          `json:"provider_type"`
	Kind            EventKind       `json:"kind"`
	Dispute         DisputeOutcome  `json:"dispute,omitempty"`
	CorrelationID   string          `json:"correlation_id"`
	Reason          string          `json:"reason,omitempty"`
	// Amount is in minor units and set only when the provider states one,
	// as on refunds. Zero means the whole payment.
	Amount          int64           `json:"amount,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Raw             json.RawMessage `json:"raw"`
}

// DedupeKey identifies one provider delivery across retries.
func (e NormalizedEvent) DedupeKey() string {
	if e.ProviderEventID == "" {
		return ""
	}
	return string(e.Provider) + ":" + e.ProviderEventID
}
