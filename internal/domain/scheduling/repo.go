package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists appointments. Missing rows are reported as apperr
// not-found errors.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
	// Update writes a only if the stored status still equals prevStatus, and
	// fails with a conflict otherwise.
	Update(ctx context.Context, a *Appointment, prevStatus Status) error
	// Delete fails with a conflict while a consultation references the
	// appointment.
	Delete(ctx context.Context, id uuid.UUID) error
}
