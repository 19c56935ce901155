package domain

import "github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnhandled Outcome = "unhandled"
)

type Transition struct {
	Event   EventKind
	Dispute DisputeOutcome
	From    types.PaymentStatus
	To      types.PaymentStatus
	Outcome Outcome
}

type transitionKey struct {
	from    types.PaymentStatus
	event   EventKind
	dispute DisputeOutcome
}

var transitions = map[transitionKey]types.PaymentStatus{
	{types.PaymentStatusPending, EventSucceeded, DisputeNone}:            types.PaymentStatusCompleted,
	{types.PaymentStatusPending, EventFailed, DisputeNone}:               types.PaymentStatusFailed,
	{types.PaymentStatusPending, EventExpired, DisputeNone}:              types.PaymentStatusFailed,
	{types.PaymentStatusCompleted, EventDisputed, DisputeNone}:           types.PaymentStatusDisputed,
	{types.PaymentStatusCompleted, EventRefunded, DisputeNone}:           types.PaymentStatusRefunded,
	{types.PaymentStatusDisputed, EventDisputeResolved, DisputeResolved}: types.PaymentStatusCompleted,
	{types.PaymentStatusDisputed, EventDisputeResolved, DisputeLost}:     types.PaymentStatusFailed,
}

// settledStatus is the payment status an event leaves behind once applied.
func settledStatus(kind EventKind, dispute DisputeOutcome) types.PaymentStatus {
	switch kind {
	case EventSucceeded:
		return types.PaymentStatusCompleted
	case EventFailed, EventExpired:
		return types.PaymentStatusFailed
	case EventDisputed:
		return types.PaymentStatusDisputed
	case EventRefunded:
		return types.PaymentStatusRefunded
	case EventDisputeResolved:
		switch dispute {
		case DisputeResolved:
			return types.PaymentStatusCompleted
		case DisputeLost:
			return types.PaymentStatusFailed
		}
	}
	return ""
}

// Decide evaluates the payment state machine for one event. It never fails:
// pairs outside the table are reported as unhandled and leave the payment as is.
func Decide(current types.PaymentStatus, kind EventKind, dispute DisputeOutcome) Transition {
	t := Transition{Event: kind, Dispute: dispute, From: current, To: current}

	if next, ok := transitions[transitionKey{current, kind, dispute}]; ok {
		t.To = next
		t.Outcome = OutcomeApplied
		return t
	}

	if settled := settledStatus(kind, dispute); settled != "" && settled == current {
		t.Outcome = OutcomeDuplicate
		return t
	}

	t.Outcome = OutcomeUnhandled
	return t
}

func (t Transition) Applies() bool {
	return t.Outcome == OutcomeApplied
}

// ClearsCart is true only for the first successful capture of a pending payment.
func (t Transition) ClearsCart() bool {
	return t.Applies() && t.From == types.PaymentStatusPending && t.To == types.PaymentStatusCompleted
}
