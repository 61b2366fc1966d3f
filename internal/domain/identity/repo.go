package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads profiles. Lookups that match nothing return an
// apperr not-found error.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	GetSecretaryByUserID(ctx context.Context, userID uuid.UUID) (*Secretary, error)
}
