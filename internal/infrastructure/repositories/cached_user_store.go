package repositories

import (
	"context"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
	"facestream/pkg/cache"
)

// CachedUserStore keeps recently looked-up accounts in memory for a short
// TTL. Unknown usernames are never cached, and a Save through this store
// drops the cached entry. Changes written elsewhere show up after the TTL.
type CachedUserStore struct {
	store ports.UserStore
	cache *cache.Cache[domain.Account]
}

var _ ports.UserStore = (*CachedUserStore)(nil)

func NewCachedUserStore(store ports.UserStore, ttl time.Duration) *CachedUserStore {
	return &CachedUserStore{
		store: store,
		cache: cache.NewCache[domain.Account](ttl),
	}
}

func (s *CachedUserStore) Lookup(ctx context.Context, username string) (*domain.Account, error) {
	account, err := s.cache.GetOrLoad(ctx, username, func(ctx context.Context) (domain.Account, error) {
		a, err := s.store.Lookup(ctx, username)
		if err != nil {
			return domain.Account{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *CachedUserStore) Save(ctx context.Context, account *domain.Account) error {
	if err := s.store.Save(ctx, account); err != nil {
		return err
	}
	s.cache.Delete(account.Username)
	return nil
}

// Close stops the cache's background sweep.
func (s *CachedUserStore) Close() {
	s.cache.Stop()
}
