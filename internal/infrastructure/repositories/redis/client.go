package redis

import (
	"context"
	"fmt"
	"time"

	"facestream/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 30 * time.Second

// connectRetry covers a Redis that is still starting next to the server.
var connectRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
	Jitter:       true,
}

// NewRedisClient connects, verifies the connection and brings the user
// schema up to date. The client is closed again on any failure.
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: min(2, poolSize),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	attempt := 0
	err := retry.Retry(ctx, connectRetry, func() error {
		attempt++
		err := client.Ping(ctx).Err()
		if err != nil && logger != nil {
			logger.Debugw("redis ping failed", "address", address, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", address, err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis", "address", address, "db", db, "pool_size", poolSize)
	}
	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
