package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"
)

type MemoryUserStore struct {
	accounts map[string]domain.Account
	mu       sync.RWMutex
}

func NewMemoryUserStore(seed ...domain.Account) *MemoryUserStore {
	s := &MemoryUserStore{
		accounts: make(map[string]domain.Account, len(seed)),
	}
	for _, a := range seed {
		s.accounts[a.Username] = a
	}
	return s
}

var _ ports.UserStore = (*MemoryUserStore)(nil)

// Lookup returns a copy so callers cannot mutate stored state.
func (s *MemoryUserStore) Lookup(ctx context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[username]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *MemoryUserStore) Save(ctx context.Context, account *domain.Account) error {
	if account == nil || account.Username == "" {
		return fmt.Errorf("account username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.Username] = *account
	return nil
}

func (s *MemoryUserStore) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
