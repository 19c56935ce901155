package domain

import "errors"

var (
	// ErrSignatureInvalid is returned when a webhook body does not verify against
	// the provider's signing secret. Callers must not reveal why.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrPaymentNotFound means the correlation id was never issued by this system.
	ErrPaymentNotFound = errors.New("payment not found")

	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrPaymentAlreadyActive = errors.New("order already has a pending or completed payment")
	ErrUnknownProvider      = errors.New("unknown payment provider")

	// ErrUnhandledEvent marks provider events the reconciler does not act on.
	ErrUnhandledEvent = errors.New("unhandled provider event")

	// ErrTransactionFailed must reach the provider as a non-2xx response so the
	// event is redelivered.
	ErrTransactionFailed = errors.New("reconciliation transaction failed")

	ErrSideEffectFailed = errors.New("side effect failed")

	// ErrStaleState is the optimistic-lock conflict: the payment status changed
	// between the decision and the guarded write.
	ErrStaleState = errors.New("payment status changed concurrently")

	// ErrMalformedEvent is a correctly signed body the provider adapter cannot read.
	ErrMalformedEvent = errors.New("malformed provider event")

	ErrInvalidFulfilment = errors.New("invalid fulfilment transition")
	ErrInvalidOrder      = errors.New("invalid order")
)
