package clinical

import (
	"context"

	"github.com/google/uuid"
)

// ConsultationRepository persists consultations. Create fails with a
// conflict when the appointment already has one; Delete fails with a
// conflict while prescriptions reference the consultation.
type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	List(ctx context.Context, f ConsultationFilter) ([]*Consultation, int, error)
	Update(ctx context.Context, c *Consultation) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	List(ctx context.Context, f PrescriptionFilter) ([]*Prescription, int, error)
	Update(ctx context.Context, p *Prescription) error
	Delete(ctx context.Context, id uuid.UUID) error
}
