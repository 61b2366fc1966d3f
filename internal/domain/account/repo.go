package account

import "context"

type Repository interface {
	// GetByEmail matches case-insensitively and returns an apperr not-found
	// error when no account exists.
	GetByEmail(ctx context.Context, email string) (*Account, error)
}
