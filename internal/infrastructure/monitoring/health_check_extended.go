package monitoring

import (
	"context"
	"errors"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddUserStoreCheck probes the store with a lookup. Any answer, including
// not found, means the store is reachable.
func (h *HealthChecker) AddUserStoreCheck(store ports.UserStore, probe string, timeout time.Duration) {
	h.AddCheck("user_store", func(ctx context.Context) (bool, error) {
		_, err := store.Lookup(ctx, probe)
		if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			return false, err
		}
		return true, nil
	}, timeout)
}
