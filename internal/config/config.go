package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/cache"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/gateway"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/messaging"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/repository"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/service"
	"github.com/spf13/viper"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNone     = "none"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	DB repository.DBConfig

	EventBroker string
	RabbitMQ    messaging.RabbitMQConfig
	Kafka       KafkaConfig

	// Redis is optional; an empty address disables the dedupe fast path.
	Redis     cache.RedisConfig
	DedupeTTL time.Duration

	Stripe       gateway.StripeConfig
	Paystack     gateway.PaystackConfig
	Mock         MockConfig
	ProviderHTTP gateway.HTTPConfig

	Dispatch             service.DispatcherConfig
	ReconcileMaxAttempts int

	JaegerEndpoint  string
	DefaultCurrency string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MockConfig struct {
	Enabled       bool
	WebhookSecret string
	BaseURL       string
	FailureRate   float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8002")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "payment_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("EVENT_BROKER", BrokerRabbitMQ)
	v.SetDefault("RABBITMQ_HOST", "localhost")
	v.SetDefault("RABBITMQ_PORT", 5672)
	v.SetDefault("RABBITMQ_USERNAME", "guest")
	v.SetDefault("RABBITMQ_PASSWORD", "guest")
	v.SetDefault("RABBITMQ_VHOST", "/")
	v.SetDefault("RABBITMQ_EXCHANGE", "saga.events")
	v.SetDefault("RABBITMQ_RETRY_COUNT", 3)
	v.SetDefault("RABBITMQ_RETRY_DELAY", "5s")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "payment-events")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEDUPE_TTL", "72h")

	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success")
	v.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel")
	v.SetDefault("MOCK_PROVIDER_ENABLED", false)
	v.SetDefault("MOCK_BASE_URL", "http://localhost:8002/mock")
	v.SetDefault("MOCK_FAILURE_RATE", 0.0)

	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("PROVIDER_MAX_RETRIES", 3)
	v.SetDefault("PROVIDER_RETRY_WAIT_MIN", "200ms")
	v.SetDefault("PROVIDER_RETRY_WAIT_MAX", "2s")

	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_QUEUE_SIZE", 256)
	v.SetDefault("DISPATCH_TIMEOUT", "10s")
	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 3)

	v.SetDefault("JAEGER_ENDPOINT", "")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
}

// Load reads configuration from the environment. When path is set, the file
// is read first and environment variables override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file read error: %w", err)
		}
	}

	cfg := &Config{
		Port:     v.GetString("PORT"),
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DB: repository.DBConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		},

		EventBroker: strings.ToLower(v.GetString("EVENT_BROKER")),
		RabbitMQ: messaging.RabbitMQConfig{
			Host:       v.GetString("RABBITMQ_HOST"),
			Port:       v.GetInt("RABBITMQ_PORT"),
			Username:   v.GetString("RABBITMQ_USERNAME"),
			Password:   v.GetString("RABBITMQ_PASSWORD"),
			VHost:      v.GetString("RABBITMQ_VHOST"),
			Exchange:   v.GetString("RABBITMQ_EXCHANGE"),
			RetryCount: v.GetInt("RABBITMQ_RETRY_COUNT"),
			RetryDelay: v.GetDuration("RABBITMQ_RETRY_DELAY"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},

		Redis: cache.RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		DedupeTTL: v.GetDuration("DEDUPE_TTL"),

		ProviderHTTP: gateway.HTTPConfig{
			Timeout:    v.GetDuration("PROVIDER_TIMEOUT"),
			MaxRetries: v.GetInt("PROVIDER_MAX_RETRIES"),
			WaitMin:    v.GetDuration("PROVIDER_RETRY_WAIT_MIN"),
			WaitMax:    v.GetDuration("PROVIDER_RETRY_WAIT_MAX"),
		},

		Dispatch: service.DispatcherConfig{
			Workers:   v.GetInt("DISPATCH_WORKERS"),
			QueueSize: v.GetInt("DISPATCH_QUEUE_SIZE"),
			Timeout:   v.GetDuration("DISPATCH_TIMEOUT"),
		},
		ReconcileMaxAttempts: v.GetInt("RECONCILE_MAX_ATTEMPTS"),

		JaegerEndpoint:  v.GetString("JAEGER_ENDPOINT"),
		DefaultCurrency: strings.ToUpper(v.GetString("DEFAULT_CURRENCY")),
	}

	cfg.Stripe = gateway.StripeConfig{
		SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:    v.GetString("CHECKOUT_SUCCESS_URL"),
		CancelURL:     v.GetString("CHECKOUT_CANCEL_URL"),
		HTTP:          cfg.ProviderHTTP,
	}
	cfg.Paystack = gateway.PaystackConfig{
		SecretKey:   v.GetString("PAYSTACK_SECRET_KEY"),
		BaseURL:     v.GetString("PAYSTACK_BASE_URL"),
		CallbackURL: v.GetString("CHECKOUT_SUCCESS_URL"),
		HTTP:        cfg.ProviderHTTP,
	}
	cfg.Mock = MockConfig{
		Enabled:       v.GetBool("MOCK_PROVIDER_ENABLED"),
		WebhookSecret: v.GetString("MOCK_WEBHOOK_SECRET"),
		BaseURL:       v.GetString("MOCK_BASE_URL"),
		FailureRate:   v.GetFloat64("MOCK_FAILURE_RATE"),
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) StripeEnabled() bool {
	return c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret != ""
}

func (c *Config) PaystackEnabled() bool {
	return c.Paystack.SecretKey != ""
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	switch c.EventBroker {
	case BrokerRabbitMQ, BrokerNone:
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_BROKER %q", c.EventBroker))
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_WORKERS and DISPATCH_QUEUE_SIZE must be positive"))
	}
	if c.ReconcileMaxAttempts <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_ATTEMPTS must be positive"))
	}
	if c.ProviderHTTP.Timeout <= 0 || c.ProviderHTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive and PROVIDER_MAX_RETRIES non-negative"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY %q is not an ISO 4217 code", c.DefaultCurrency))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if c.Mock.Enabled && c.Mock.WebhookSecret == "" {
		errs = append(errs, errors.New("MOCK_WEBHOOK_SECRET is required when the mock provider is enabled"))
	}
	if !c.StripeEnabled() && !c.PaystackEnabled() && !c.Mock.Enabled {
		errs = append(errs, errors.New("no payment provider configured"))
	}

	return errors.Join(errs...)
}
