package ports

import (
	"context"

	"facestream/internal/core/domain"
)

// UserStore resolves accounts by username. Lookup returns
// domain.ErrAccountNotFound for unknown users.
type UserStore interface {
	Lookup(ctx context.Context, username string) (*domain.Account, error)
	Save(ctx context.Context, account *domain.Account) error
}
