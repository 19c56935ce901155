package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	webhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Webhook deliveries by provider and processing outcome",
		},
		[]string{"provider", "outcome"},
	)

	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Committed payment status transitions",
		},
		[]string{"from", "to"},
	)

	reconcileConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_conflicts_total",
			Help: "Optimistic lock conflicts that forced a re-read",
		},
	)

	sideEffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effects_total",
			Help: "Post-commit side effects by kind and result",
		},
		[]string{"kind", "result"},
	)

	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Checkout initiations by provider and result",
		},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhooksReceivedTotal)
	prometheus.MustRegister(paymentTransitionsTotal)
	prometheus.MustRegister(reconcileConflictsTotal)
	prometheus.MustRegister(sideEffectsTotal)
	prometheus.MustRegister(providerRequestsTotal)
}

// MetricsMiddleware records request count and latency per matched route.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func RecordWebhook(provider, outcome string) {
	webhooksReceivedTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordTransition(from, to string) {
	paymentTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordReconcileConflict() {
	reconcileConflictsTotal.Inc()
}

func RecordSideEffect(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	sideEffectsTotal.WithLabelValues(kind, result).Inc()
}

func RecordProviderRequest(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	providerRequestsTotal.WithLabelValues(provider, result).Inc()
}
