package main

import (
	"context"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/cache"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/config"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/gateway"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/handlers"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/service"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and webhook endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg, autoMigrate, logger)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, autoMigrate bool, logger *zap.Logger) error {
	logger.Info("Payment reconciliation service starting", zap.String("version", Version))

	shutdownTracing, err := observability.InitTracing(serviceName, cfg.JaegerEndpoint, logger)
	if err != nil {
		return err
	}

	db, err := repository.Open(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if autoMigrate {
		if err := repository.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}

	dedupe, closeDedupe := newDeduplicator(ctx, cfg, logger)
	defer closeDedupe()

	providers := newProviders(cfg, logger)
	logger.Info("Payment providers registered", zap.Any("providers", providers.Names()))

	// Dependencies injection
	paymentRepo := repository.NewPaymentRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	uow := repository.NewUnitOfWork(db, logger)

	dispatcher := service.NewDispatcher(cfg.Dispatch, logger)
	notifier := service.NewBrokerNotifier(publisher, logger)
	reconciler := service.NewReconciler(paymentRepo, orderRepo, uow, dispatcher, notifier, publisher, cfg.ReconcileMaxAttempts, logger)
	webhookService := service.NewWebhookService(providers, reconciler, dedupe, eventRepo, logger)
	paymentService := service.NewPaymentService(paymentRepo, orderRepo, eventRepo, uow, providers, logger)
	orderService := service.NewOrderService(orderRepo, uow, cfg.DefaultCurrency, logger)
	analyticsService := service.NewAnalyticsService(analyticsRepo)

	app := handlers.NewApp("Payment Reconciliation Service "+Version, logger)
	handlers.SetupRoutes(app, handlers.Handlers{
		Webhooks:  handlers.NewWebhookHandler(webhookService, providers, logger),
		Orders:    handlers.NewOrderHandler(orderService, reconciler, paymentService, logger),
		Payments:  handlers.NewPaymentHandler(paymentService, logger),
		Analytics: handlers.NewAnalyticsHandler(analyticsService, logger),
		Health:    handlers.NewHealthHandler(db),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.Port))
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	// Stop taking webhooks first so no new side effects are queued, then drain.
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("Side effects still pending at shutdown", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("Publisher close error", zap.Error(err))
	}
	if err := shutdownTracing(drainCtx); err != nil {
		logger.Warn("Tracer shutdown error", zap.Error(err))
	}

	logger.Info("Payment reconciliation service stopped")
	return nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (messaging.Publisher, error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		producer, err := messaging.InitKafkaProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return nil, err
		}
		return messaging.NewKafkaPublisher(producer, cfg.Kafka.Topic, logger), nil

	case config.BrokerRabbitMQ:
		rabbitConfig := cfg.RabbitMQ
		client := messaging.NewRabbitMQClient(&rabbitConfig, logger)
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("RabbitMQ connection error: %w", err)
		}
		return messaging.NewRabbitMQPublisher(client, rabbitConfig.RetryCount, logger), nil

	default:
		logger.Warn("No event broker configured, payment events and notifications are discarded")
		return messaging.NewNoopPublisher(logger), nil
	}
}

// newDeduplicator falls back to no dedupe cache when Redis is unset or down;
// reconciliation stays idempotent without it.
func newDeduplicator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Deduplicator, func()) {
	if cfg.Redis.Addr == "" {
		return cache.NoopDeduplicator{}, func() {}
	}

	rdb, err := cache.InitRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, webhook dedupe cache disabled", zap.Error(err))
		return cache.NoopDeduplicator{}, func() {}
	}
	return cache.NewRedisDeduplicator(rdb, cfg.DedupeTTL), func() { rdb.Close() }
}

func newProviders(cfg *config.Config, logger *zap.Logger) *gateway.Registry {
	var providers []gateway.Provider

	if cfg.StripeEnabled() {
		providers = append(providers, gateway.NewStripeProvider(cfg.Stripe, logger))
	}
	if cfg.PaystackEnabled() {
		providers = append(providers, gateway.NewPaystackProvider(cfg.Paystack, logger))
	}
	if cfg.Mock.Enabled {
		providers = append(providers, gateway.NewMockProvider(cfg.Mock.WebhookSecret, cfg.Mock.BaseURL, cfg.Mock.FailureRate, logger))
	}

	return gateway.NewRegistry(providers...)
}
