// Package cache holds the Redis backed caches and locks used by the checkout services.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hanko-field/checkout/internal/platform/config"
)

// ErrDisabled is returned when Redis is not configured.
var ErrDisabled = errors.New("cache: redis not configured")

// NewClient builds a Redis client from configuration. An empty address yields ErrDisabled so
// callers can run without Redis.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, ErrDisabled
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// Ping reports whether the server answers. It backs the readiness probe.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return ErrDisabled
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

type keyspace struct {
	prefix string
}

func (k keyspace) key(parts ...string) string {
	return k.prefix + strings.Join(parts, ":")
}
