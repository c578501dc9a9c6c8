package redis

import (
	"context"
	"fmt"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "facestream:user:"
	usersIndexKey = "facestream:users"

	fieldPasswordHash = "password_hash"
	fieldRole         = "role"
	fieldStatus       = "status"
)

func userKey(username string) string {
	return userKeyPrefix + username
}

// RedisUserStore keeps one hash per account under facestream:user:<username>.
type RedisUserStore struct {
	client redis.UniversalClient
}

func NewRedisUserStore(client redis.UniversalClient) *RedisUserStore {
	return &RedisUserStore{client: client}
}

var _ ports.UserStore = (*RedisUserStore)(nil)

func (s *RedisUserStore) Lookup(ctx context.Context, username string) (*domain.Account, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "user.lookup", "redis")
	defer span.End()

	fields, err := s.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	if len(fields) == 0 || fields[fieldPasswordHash] == "" {
		return nil, domain.ErrAccountNotFound
	}

	role := domain.Role(fields[fieldRole])
	if role == "" {
		role = domain.RoleUser
	}
	return &domain.Account{
		Username:     username,
		PasswordHash: fields[fieldPasswordHash],
		Role:         role,
		Status:       domain.AccountStatus(fields[fieldStatus]),
	}, nil
}

func (s *RedisUserStore) Save(ctx context.Context, account *domain.Account) error {
	if account == nil || account.Username == "" {
		return fmt.Errorf("account username is required")
	}

	ctx, span := tracing.TraceStoreOperation(ctx, "user.save", "redis")
	defer span.End()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, userKey(account.Username),
			fieldPasswordHash, account.PasswordHash,
			fieldRole, string(account.Role),
			fieldStatus, string(account.Status),
		)
		pipe.SAdd(ctx, usersIndexKey, account.Username)
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save user %s: %w", account.Username, err)
	}
	return nil
}

// SaveIfAbsent stores the account unless the username already exists.
// It reports whether the account was written.
func (s *RedisUserStore) SaveIfAbsent(ctx context.Context, account *domain.Account) (bool, error) {
	if account == nil || account.Username == "" {
		return false, fmt.Errorf("account username is required")
	}

	added, err := s.client.HSetNX(ctx, userKey(account.Username), fieldPasswordHash, account.PasswordHash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to seed user %s: %w", account.Username, err)
	}
	if !added {
		return false, nil
	}
	return true, s.Save(ctx, account)
}

func (s *RedisUserStore) Usernames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, usersIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return names, nil
}
