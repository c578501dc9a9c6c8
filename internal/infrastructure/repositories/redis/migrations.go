package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"facestream/internal/core/domain"
	"facestream/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = "facestream:schema:version"
	migrationLockKey = "facestream:lock:migrate"
	migrationLockTTL = 30 * time.Second
)

// Migration represents a schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, client redis.UniversalClient) error
}

// Migrate runs all pending migrations. Replicas starting together serialise
// on a distributed lock so each migration runs once.
func Migrate(ctx context.Context, client redis.UniversalClient, logger *zap.SugaredLogger) error {
	return migrate(ctx, client, getMigrations(), logger)
}

func migrate(ctx context.Context, client redis.UniversalClient, migrations []Migration, logger *zap.SugaredLogger) error {
	lock := distributed.NewDistributedLock(client, migrationLockKey, migrationLockTTL)
	if err := lock.Lock(ctx, migrationLockTTL); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil && logger != nil {
			logger.Warnw("failed to release migration lock", "error", err)
		}
	}()

	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	target := 0
	for _, m := range migrations {
		if m.Version > target {
			target = m.Version
		}
	}
	if currentVersion >= target {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", target,
			)
		}
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration",
				"version", migration.Version,
				"name", migration.Name,
			)
		}

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", target)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client redis.UniversalClient) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client redis.UniversalClient, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// scanUsers calls fn with every username that has an account hash.
func scanUsers(ctx context.Context, client redis.UniversalClient, fn func(username string) error) error {
	iter := client.Scan(ctx, 0, userKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(strings.TrimPrefix(iter.Val(), userKeyPrefix)); err != nil {
			return err
		}
	}
	return iter.Err()
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "index usernames",
			Up: func(ctx context.Context, client redis.UniversalClient) error {
				return scanUsers(ctx, client, func(username string) error {
					return client.SAdd(ctx, usersIndexKey, username).Err()
				})
			},
		},
		{
			Version: 2,
			Name:    "default role",
			Up: func(ctx context.Context, client redis.UniversalClient) error {
				return scanUsers(ctx, client, func(username string) error {
					return client.HSetNX(ctx, userKey(username), fieldRole, string(domain.RoleUser)).Err()
				})
			},
		},
	}
}
