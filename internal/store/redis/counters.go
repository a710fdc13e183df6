package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/config"
)

// Connect creates a Redis client and verifies the connection.
func Connect(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Successfully connected to Redis",
			zap.String("addr", cfg.Addr),
			zap.Int("db", cfg.DB),
		)
	}
	return client, nil
}

// Counters implements store.Counters on Redis. INCR and EXPIRE are atomic
// per key, which keeps retry counts and failure tallies safe under
// concurrent dispatcher workers.
type Counters struct {
	client *redis.Client
}

func NewCounters(client *redis.Client) *Counters {
	return &Counters{client: client}
}

// Get returns the counter value, or 0 when the key is absent.
func (c *Counters) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", key, err)
	}
	return val, nil
}

func (c *Counters) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set counter %s: %w", key, err)
	}
	return nil
}

func (c *Counters) Incr(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return val, nil
}

func (c *Counters) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set TTL on counter %s: %w", key, err)
	}
	return nil
}
