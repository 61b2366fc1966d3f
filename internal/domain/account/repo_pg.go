package account

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, email, password_hash, role, created_at FROM account WHERE lower(email) = lower($1)`, email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("account not found")
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &a, nil
}
