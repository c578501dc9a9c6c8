package repositories

import (
	"context"
	"fmt"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/internal/infrastructure/repositories/memory"
	redisrepo "facestream/internal/infrastructure/repositories/redis"
	"facestream/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis     bool
	redisClient  *redis.Client
	userCacheTTL time.Duration
	userCache    *CachedUserStore
	seed         []domain.Account
	logger       *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. An unreachable Redis
// falls back to the in-memory store seeded from configuration.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:     cfg.Redis.Enabled,
		userCacheTTL: cfg.Redis.UserCacheTTL,
		seed:         SeedAccounts(cfg.Auth.Users),
		logger:       logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// SeedAccounts converts configured users into accounts. Missing role and
// status default to user and active.
func SeedAccounts(users []config.SeedUser) []domain.Account {
	accounts := make([]domain.Account, 0, len(users))
	for _, u := range users {
		role := domain.Role(u.Role)
		if role == "" {
			role = domain.RoleUser
		}
		status := domain.AccountStatus(u.Status)
		if status == "" {
			status = domain.StatusActive
		}
		accounts = append(accounts, domain.Account{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         role,
			Status:       status,
		})
	}
	return accounts
}

// CreateUserStore returns the Redis store, with configured users written in
// when absent, or the seeded memory store.
func (f *RepositoryFactory) CreateUserStore(ctx context.Context) (ports.UserStore, error) {
	if !f.useRedis || f.redisClient == nil {
		return memory.NewMemoryUserStore(f.seed...), nil
	}

	store := redisrepo.NewRedisUserStore(f.redisClient)
	for i := range f.seed {
		added, err := store.SaveIfAbsent(ctx, &f.seed[i])
		if err != nil {
			return nil, fmt.Errorf("failed to seed users: %w", err)
		}
		if added {
			f.logger.Infow("seeded user", "username", f.seed[i].Username)
		}
	}

	if f.userCacheTTL <= 0 {
		return store, nil
	}
	if f.userCache == nil {
		f.userCache = NewCachedUserStore(store, f.userCacheTTL)
	}
	return f.userCache, nil
}

// RedisClient is nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.userCache != nil {
		f.userCache.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
