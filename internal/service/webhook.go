package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/cache"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/gateway"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebhookOutcome is how a delivery ended when no error is returned. Every
// outcome is acknowledged with a 2xx.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookNotFound  WebhookOutcome = "not_found"
)

type ProviderRegistry interface {
	Get(name types.Provider) (gateway.Provider, error)
}

type EventReconciler interface {
	Reconcile(ctx context.Context, event domain.NormalizedEvent) (*ReconcileResult, error)
}

type WebhookEventStore interface {
	RecordEvent(ctx context.Context, event *repository.WebhookEvent) error
}

// WebhookService is the inbound pipeline: signature check, normalization,
// delivery dedupe, reconciliation and the audit log.
type WebhookService struct {
	providers  ProviderRegistry
	reconciler EventReconciler
	dedupe     cache.Deduplicator
	events     WebhookEventStore
	logger     *zap.Logger
}

func NewWebhookService(providers ProviderRegistry, reconciler EventReconciler, dedupe cache.Deduplicator,
	events WebhookEventStore, logger *zap.Logger) *WebhookService {
	if dedupe == nil {
		dedupe = cache.NoopDeduplicator{}
	}
	return &WebhookService{
		providers:  providers,
		reconciler: reconciler,
		dedupe:     dedupe,
		events:     events,
		logger:     logger.Named("webhook"),
	}
}

// Handle processes one raw delivery. The returned error is one of
// ErrUnknownProvider, ErrSignatureInvalid, ErrMalformedEvent,
// ErrProviderUnavailable or ErrTransactionFailed; everything else is an outcome.
func (s *WebhookService) Handle(ctx context.Context, providerName types.Provider, body []byte, signature string) (outcome WebhookOutcome, err error) {
	ctx, span := otel.Tracer(observability.TracerName).Start(ctx, "HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("provider", string(providerName)))

	defer func() {
		label := string(outcome)
		if err != nil {
			label = errorLabel(err)
		}
		observability.RecordWebhook(string(providerName), label)
	}()

	provider, err := s.providers.Get(providerName)
	if err != nil {
		return "", err
	}

	if err := provider.VerifySignature(body, signature); err != nil {
		s.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", string(providerName)))
		return "", domain.ErrSignatureInvalid
	}

	event, err := provider.NormalizeEvent(ctx, body)
	logger := s.logger.With(
		zap.String("provider", string(providerName)),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.ProviderType),
	)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnhandledEvent):
		logger.Info("Ignoring unhandled provider event")
		s.record(ctx, event, string(WebhookIgnored), nil)
		return WebhookIgnored, nil
	case errors.Is(err, domain.ErrPaymentNotFound):
		logger.Warn("Provider event does not match any payment", zap.Error(err))
		s.record(ctx, event, repository.OutcomeNotFound, err)
		return WebhookNotFound, nil
	case errors.Is(err, domain.ErrProviderUnavailable):
		logger.Error("Provider unavailable while normalizing event", zap.Error(err))
		return "", err
	default:
		logger.Error("Could not read provider event", zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	key := event.DedupeKey()
	if seen, dedupeErr := s.dedupe.Seen(ctx, key); dedupeErr != nil {
		logger.Warn("Dedupe lookup failed, processing anyway", zap.Error(dedupeErr))
	} else if seen {
		logger.Debug("Delivery already processed")
		return WebhookDuplicate, nil
	}

	result, err := s.reconciler.Reconcile(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			s.record(ctx, event, repository.OutcomeNotFound, err)
			return WebhookNotFound, nil
		}
		s.record(ctx, event, repository.OutcomeFailed, err)
		return "", err
	}

	switch result.Transition.Outcome {
	case domain.OutcomeApplied:
		outcome = WebhookProcessed
	case domain.OutcomeDuplicate:
		outcome = WebhookDuplicate
	default:
		outcome = WebhookIgnored
	}

	if markErr := s.dedupe.Mark(ctx, key); markErr != nil {
		logger.Warn("Failed to mark delivery as processed", zap.Error(markErr))
	}
	s.record(ctx, event, string(result.Transition.Outcome), nil)

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

// record writes the audit row. Failures are logged only.
func (s *WebhookService) record(ctx context.Context, event domain.NormalizedEvent, outcome string, cause error) {
	if s.events == nil || event.ProviderEventID == "" {
		return
	}

	row := &repository.WebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.ProviderType,
		CorrelationID:   event.CorrelationID,
		Outcome:         outcome,
		Payload:         event.Raw,
		ReceivedAt:      time.Now().UTC(),
	}
	if cause != nil {
		row.Error = cause.Error()
	}

	if err := s.events.RecordEvent(ctx, row); err != nil {
		s.logger.Warn("Failed to record webhook event",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Error(err))
	}
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, domain.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrMalformedEvent):
		return "malformed"
	default:
		return "transaction_failed"
	}
}
