package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type RabbitMQConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	VHost      string
	Exchange   string
	RetryCount int
	RetryDelay time.Duration
}

func (c *RabbitMQConfig) ConnectionURL() string {
	vhost := c.VHost
	if vhost != "/" && !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Username, c.Password, c.Host, c.Port, vhost)
}

type RabbitMQClient struct {
	config     *RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	isClosing  bool
	logger     *zap.Logger
}

func NewRabbitMQClient(config *RabbitMQConfig, logger *zap.Logger) *RabbitMQClient {
	if config.RetryCount <= 0 {
		config.RetryCount = 1
	}
	return &RabbitMQClient{
		config: config,
		logger: logger.Named("rabbitmq"),
	}
}

func (r *RabbitMQClient) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for i := 0; i < r.config.RetryCount; i++ {
		r.connection, err = amqp.Dial(r.config.ConnectionURL())
		if err != nil {
			r.logger.Warn("RabbitMQ connection error",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", r.config.RetryCount),
				zap.Error(err))
			if i < r.config.RetryCount-1 {
				time.Sleep(r.config.RetryDelay)
				continue
			}
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}

		r.channel, err = r.connection.Channel()
		if err != nil {
			r.connection.Close()
			return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
		}

		err = r.channel.ExchangeDeclare(
			r.config.Exchange, // name
			"topic",           // type
			true,              // durable
			false,             // auto-deleted
			false,             // internal
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			r.channel.Close()
			r.connection.Close()
			return fmt.Errorf("failed to create exchange: %w", err)
		}

		r.logger.Info("Successfully connected to RabbitMQ",
			zap.String("host", r.config.Host),
			zap.String("exchange", r.config.Exchange))

		go r.handleReconnection(r.connection)

		return nil
	}

	return err
}

func (r *RabbitMQClient) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok {
		return
	}

	r.mu.RLock()
	closing := r.isClosing
	r.mu.RUnlock()
	if closing {
		return
	}

	r.logger.Warn("RabbitMQ connection lost, reconnecting", zap.Error(err))
	time.Sleep(2 * time.Second)
	if reconnectErr := r.Connect(); reconnectErr != nil {
		r.logger.Error("RabbitMQ reconnect failed", zap.Error(reconnectErr))
	}
}

func (r *RabbitMQClient) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosing {
		return nil
	}
	r.isClosing = true

	var closeErr error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			closeErr = fmt.Errorf("channel close error: %w", err)
		}
	}
	if r.connection != nil {
		if err := r.connection.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("connection close error: %w", err)
		}
	}

	if closeErr != nil {
		r.logger.Error("Failed to close RabbitMQ cleanly", zap.Error(closeErr))
	} else {
		r.logger.Info("RabbitMQ connection closed successfully")
	}
	return closeErr
}

type RabbitMQPublisher struct {
	client     *RabbitMQClient
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewRabbitMQPublisher(client *RabbitMQClient, maxRetries int, logger *zap.Logger) *RabbitMQPublisher {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &RabbitMQPublisher{
		client:     client,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logger:     logger.Named("rabbitmq-publisher"),
	}
}

// Publish retries with a linearly growing delay until maxRetries attempts
// have failed or ctx is done.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	prepare(&event)

	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		if lastErr = p.publishOnce(event); lastErr == nil {
			return nil
		}
		p.logger.Warn("Publish error",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", p.maxRetries),
			zap.String("event_type", string(event.EventType)),
			zap.Error(lastErr))

		if i < p.maxRetries-1 {
			select {
			case <-time.After(p.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return fmt.Errorf("event publish aborted: %w", ctx.Err())
			}
		}
	}

	return fmt.Errorf("event publish failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *RabbitMQPublisher) publishOnce(event Event) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}

	err = p.client.Channel().Publish(
		p.client.config.Exchange,
		event.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.Timestamp,
			Headers: amqp.Table{
				"order_id":       event.OrderID.String(),
				"correlation_id": event.CorrelationID,
				"service":        event.Service,
				"event_type":     string(event.EventType),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("event publish error: %w", err)
	}

	p.logger.Debug("Event published",
		zap.String("routing_key", event.RoutingKey()),
		zap.String("event_id", event.ID.String()))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	return p.client.Close()
}
