// Package clinical links consultations to appointments and prescriptions to
// consultations.
package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medclinic/clinic/internal/domain/scheduling"
	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/db"
	"github.com/medclinic/clinic/internal/platform/events"
	"github.com/medclinic/clinic/internal/platform/metrics"
	"github.com/medclinic/clinic/internal/platform/tracing"
)

// AppointmentReader is the part of the appointment store the linker needs.
type AppointmentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Service struct {
	consultations ConsultationRepository
	prescriptions PrescriptionRepository
	appointments  AppointmentReader
	tx            db.TxRunner
	policy        *auth.Enforcer
	events        events.Publisher
	records       metrics.RecordObserver
	now           func() time.Time
}

func NewService(
	consultations ConsultationRepository,
	prescriptions PrescriptionRepository,
	appointments AppointmentReader,
	tx db.TxRunner,
	policy *auth.Enforcer,
	pub events.Publisher,
	records metrics.RecordObserver,
) *Service {
	if tx == nil {
		tx = db.Direct{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if records == nil {
		records = metrics.Discard
	}
	return &Service{
		consultations: consultations,
		prescriptions: prescriptions,
		appointments:  appointments,
		tx:            tx,
		policy:        policy,
		events:        pub,
		records:       records,
		now:           time.Now,
	}
}

func spanAttrs(p auth.Principal, entity auth.Entity) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("clinic.actor.role", string(p.Role)),
		attribute.String("clinic.entity", string(entity)),
	}
}

func (s *Service) resolveAppointmentOrFail(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) resolveConsultationOrFail(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := s.consultations.GetByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("consultation not found")
		}
		return nil, err
	}
	return c, nil
}

// -- Consultation --

// CreateConsultation records the consultation for an appointment. Patient
// and doctor are copied from the appointment. A second consultation for the
// same appointment fails with a conflict, also under concurrent creates.
func (s *Service) CreateConsultation(ctx context.Context, p auth.Principal, in CreateConsultationInput) (c *Consultation, err error) {
	ctx, span := tracing.Start(ctx, "clinical.CreateConsultation", spanAttrs(p, auth.EntityConsultation)...)
	defer func() { tracing.Finish(span, err) }()

	if in.AppointmentID == uuid.Nil {
		return nil, apperr.Validation("appointmentId is required")
	}
	if in.Status == "" {
		in.Status = ConsultationInProgress
	}
	if !in.Status.Valid() {
		return nil, apperr.Validation("invalid status: %s", in.Status)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.resolveAppointmentOrFail(ctx, in.AppointmentID)
		if err != nil {
			return err
		}
		if err := s.policy.Authorize(p, auth.EntityConsultation, auth.ActionCreate, a.PatientID); err != nil {
			return err
		}
		c = &Consultation{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			DoctorID:      a.DoctorID,
			DateTime:      in.DateTime.UTC(),
			Diagnosis:     in.Diagnosis,
			Treatment:     in.Treatment,
			Notes:         in.Notes,
			Status:        in.Status,
		}
		if in.DateTime.IsZero() {
			c.DateTime = a.DateTime
		}
		return s.consultations.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.ConsultationCreated, auth.EntityConsultation, "create", c.ID, c.PatientID, c)
	return c, nil
}

func (s *Service) GetConsultation(ctx context.Context, p auth.Principal, id uuid.UUID) (c *Consultation, err error) {
	ctx, span := tracing.Start(ctx, "clinical.GetConsultation", spanAttrs(p, auth.EntityConsultation)...)
	defer func() { tracing.Finish(span, err) }()

	c, err = s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityConsultation, auth.ActionRead, c.PatientID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListConsultations(ctx context.Context, p auth.Principal, f ConsultationFilter) (items []*Consultation, total int, err error) {
	ctx, span := tracing.Start(ctx, "clinical.ListConsultations", spanAttrs(p, auth.EntityConsultation)...)
	defer func() { tracing.Finish(span, err) }()

	if s.policy.OwnershipScoped(p, auth.EntityConsultation) {
		f.PatientID = p.PatientID
	}
	if err := s.policy.Authorize(p, auth.EntityConsultation, auth.ActionRead, f.PatientID); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.consultations.List(ctx, f)
}

func (s *Service) UpdateConsultation(ctx context.Context, p auth.Principal, id uuid.UUID, in UpdateConsultationInput) (c *Consultation, err error) {
	ctx, span := tracing.Start(ctx, "clinical.UpdateConsultation", spanAttrs(p, auth.EntityConsultation)...)
	defer func() { tracing.Finish(span, err) }()

	c, err = s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityConsultation, auth.ActionUpdate, c.PatientID); err != nil {
		return nil, err
	}

	if in.AppointmentID != nil && *in.AppointmentID != c.AppointmentID {
		return nil, apperr.Validation("appointmentId cannot be changed")
	}
	if in.DateTime != nil {
		if in.DateTime.IsZero() {
			return nil, apperr.Validation("dateTime must not be empty")
		}
		c.DateTime = in.DateTime.UTC()
	}
	if in.Diagnosis != nil {
		c.Diagnosis = *in.Diagnosis
	}
	if in.Treatment != nil {
		c.Treatment = *in.Treatment
	}
	if in.Notes != nil {
		c.Notes = *in.Notes
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperr.Validation("invalid status: %s", *in.Status)
		}
		c.Status = *in.Status
	}

	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.ConsultationUpdated, auth.EntityConsultation, "update", c.ID, c.PatientID, c)
	return c, nil
}

// DeleteConsultation removes a consultation that no prescription references.
func (s *Service) DeleteConsultation(ctx context.Context, p auth.Principal, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, "clinical.DeleteConsultation", spanAttrs(p, auth.EntityConsultation)...)
	defer func() { tracing.Finish(span, err) }()

	var c *Consultation
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.consultations.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.policy.Authorize(p, auth.EntityConsultation, auth.ActionDelete, c.PatientID); err != nil {
			return err
		}
		return s.consultations.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, p, events.ConsultationDeleted, auth.EntityConsultation, "delete", c.ID, c.PatientID, c)
	return nil
}

// -- Prescription --

// CreatePrescription validates the medication list before anything else,
// then attaches the prescription to its consultation.
func (s *Service) CreatePrescription(ctx context.Context, p auth.Principal, in CreatePrescriptionInput) (rx *Prescription, err error) {
	ctx, span := tracing.Start(ctx, "clinical.CreatePrescription", spanAttrs(p, auth.EntityPrescription)...)
	defer func() { tracing.Finish(span, err) }()

	if err := ValidateMedications(in.Medications); err != nil {
		return nil, err
	}
	if in.ConsultationID == uuid.Nil {
		return nil, apperr.Validation("consultationId is required")
	}
	if in.Status == "" {
		in.Status = PrescriptionDraft
	}
	if !in.Status.Valid() {
		return nil, apperr.Validation("invalid status: %s", in.Status)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.resolveConsultationOrFail(ctx, in.ConsultationID)
		if err != nil {
			return err
		}
		if err := s.policy.Authorize(p, auth.EntityPrescription, auth.ActionCreate, c.PatientID); err != nil {
			return err
		}
		rx = &Prescription{
			ConsultationID: c.ID,
			PatientID:      c.PatientID,
			DoctorID:       c.DoctorID,
			DateCreated:    in.DateCreated.UTC(),
			Medications:    in.Medications,
			Notes:          in.Notes,
			Status:         in.Status,
		}
		if in.DateCreated.IsZero() {
			rx.DateCreated = s.now().UTC()
		}
		return s.prescriptions.Create(ctx, rx)
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.PrescriptionCreated, auth.EntityPrescription, "create", rx.ID, rx.PatientID, rx)
	return rx, nil
}

func (s *Service) GetPrescription(ctx context.Context, p auth.Principal, id uuid.UUID) (rx *Prescription, err error) {
	ctx, span := tracing.Start(ctx, "clinical.GetPrescription", spanAttrs(p, auth.EntityPrescription)...)
	defer func() { tracing.Finish(span, err) }()

	rx, err = s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityPrescription, auth.ActionRead, rx.PatientID); err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) ListPrescriptions(ctx context.Context, p auth.Principal, f PrescriptionFilter) (items []*Prescription, total int, err error) {
	ctx, span := tracing.Start(ctx, "clinical.ListPrescriptions", spanAttrs(p, auth.EntityPrescription)...)
	defer func() { tracing.Finish(span, err) }()

	if s.policy.OwnershipScoped(p, auth.EntityPrescription) {
		f.PatientID = p.PatientID
	}
	if err := s.policy.Authorize(p, auth.EntityPrescription, auth.ActionRead, f.PatientID); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.prescriptions.List(ctx, f)
}

// UpdatePrescription applies a partial update. A medications list, when
// present, replaces the stored one and must itself be valid.
func (s *Service) UpdatePrescription(ctx context.Context, p auth.Principal, id uuid.UUID, in UpdatePrescriptionInput) (rx *Prescription, err error) {
	ctx, span := tracing.Start(ctx, "clinical.UpdatePrescription", spanAttrs(p, auth.EntityPrescription)...)
	defer func() { tracing.Finish(span, err) }()

	if in.Medications != nil {
		if err := ValidateMedications(*in.Medications); err != nil {
			return nil, err
		}
	}

	rx, err = s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityPrescription, auth.ActionUpdate, rx.PatientID); err != nil {
		return nil, err
	}

	if in.ConsultationID != nil && *in.ConsultationID != rx.ConsultationID {
		return nil, apperr.Validation("consultationId cannot be changed")
	}
	if in.Medications != nil {
		rx.Medications = *in.Medications
	}
	if in.Notes != nil {
		rx.Notes = *in.Notes
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperr.Validation("invalid status: %s", *in.Status)
		}
		rx.Status = *in.Status
	}

	if err := s.prescriptions.Update(ctx, rx); err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.PrescriptionUpdated, auth.EntityPrescription, "update", rx.ID, rx.PatientID, rx)
	return rx, nil
}

func (s *Service) DeletePrescription(ctx context.Context, p auth.Principal, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, "clinical.DeletePrescription", spanAttrs(p, auth.EntityPrescription)...)
	defer func() { tracing.Finish(span, err) }()

	rx, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(p, auth.EntityPrescription, auth.ActionDelete, rx.PatientID); err != nil {
		return err
	}
	if err := s.prescriptions.Delete(ctx, id); err != nil {
		return err
	}
	s.committed(ctx, p, events.PrescriptionDeleted, auth.EntityPrescription, "delete", rx.ID, rx.PatientID, rx)
	return nil
}

func (s *Service) committed(ctx context.Context, p auth.Principal, t events.Type, entity auth.Entity, op string, id, patientID uuid.UUID, data interface{}) {
	s.records.ObserveRecord(string(entity), op)
	s.events.Publish(ctx, events.New(t, id, patientID, p.SubjectID, string(p.Role), data))
}
