// ==============================================================================
// REDIS CONNECTION - pkg/cache/redis.go
// ==============================================================================

// Package cache opens the Redis client shared by rate limiting, idempotency,
// token revocation and event fan-out.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenvault/pkg/config"
	"tokenvault/pkg/errors"
)

// Connect opens a client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Pinger is the part of *redis.Client readiness probes need.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Ping checks the server answers within five seconds.
func Ping(ctx context.Context, client Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping failed")
	}
	return nil
}
