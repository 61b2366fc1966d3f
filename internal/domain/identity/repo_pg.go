package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const profileCols = `id, user_id, email, first_name, last_name, created_at`

func (r *repoPG) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.getProfile(ctx, "patient", "id", id)
	if err != nil {
		return nil, err
	}
	return &Patient{Profile: *p}, nil
}

func (r *repoPG) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	p, err := r.getProfile(ctx, "patient", "user_id", userID)
	if err != nil {
		return nil, err
	}
	return &Patient{Profile: *p}, nil
}

func (r *repoPG) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	p, err := r.getProfile(ctx, "doctor", "id", id)
	if err != nil {
		return nil, err
	}
	return &Doctor{Profile: *p}, nil
}

func (r *repoPG) GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	p, err := r.getProfile(ctx, "doctor", "user_id", userID)
	if err != nil {
		return nil, err
	}
	return &Doctor{Profile: *p}, nil
}

func (r *repoPG) GetSecretaryByUserID(ctx context.Context, userID uuid.UUID) (*Secretary, error) {
	p, err := r.getProfile(ctx, "secretary", "user_id", userID)
	if err != nil {
		return nil, err
	}
	return &Secretary{Profile: *p}, nil
}

// getProfile reads one row from a profile table. table and column are
// package constants, never caller input.
func (r *repoPG) getProfile(ctx context.Context, table, column string, key uuid.UUID) (*Profile, error) {
	q := `SELECT ` + profileCols + ` FROM ` + table + ` WHERE ` + column + ` = $1`
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, q, key))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("%s not found", table)
		}
		return nil, fmt.Errorf("get %s by %s: %w", table, column, err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
