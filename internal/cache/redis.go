package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func InitRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr))
	return rdb, nil
}

// Deduplicator remembers webhook deliveries that already reached a final
// outcome so redeliveries can be acknowledged without touching the database.
// It is an optimisation only: state transitions stay idempotent without it.
type Deduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type RedisDeduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduplicator(rdb *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduplicator{rdb: rdb, ttl: ttl}
}

func dedupeKey(key string) string {
	return fmt.Sprintf("webhook:processed:%s", key)
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := d.rdb.Exists(ctx, dedupeKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduplicator) Mark(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return d.rdb.Set(ctx, dedupeKey(key), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}

// NoopDeduplicator is used when Redis is not configured.
type NoopDeduplicator struct{}

func (NoopDeduplicator) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopDeduplicator) Mark(context.Context, string) error         { return nil }
