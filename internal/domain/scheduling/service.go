// Package scheduling implements the appointment lifecycle: booking,
// confirmation, completion and cancellation, with role and ownership checks.
package scheduling

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medclinic/clinic/internal/domain/identity"
	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/events"
	"github.com/medclinic/clinic/internal/platform/metrics"
	"github.com/medclinic/clinic/internal/platform/tracing"
)

// Directory looks up the people an appointment references.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type Service struct {
	appointments Repository
	people       Directory
	policy       *auth.Enforcer
	events       events.Publisher
	records      metrics.RecordObserver
}

func NewService(appointments Repository, people Directory, policy *auth.Enforcer, pub events.Publisher, records metrics.RecordObserver) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if records == nil {
		records = metrics.Discard
	}
	return &Service{appointments: appointments, people: people, policy: policy, events: pub, records: records}
}

func actorAttrs(p auth.Principal) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("clinic.actor.role", string(p.Role)),
		attribute.String("clinic.entity", string(auth.EntityAppointment)),
	}
}

// CreateAppointment books an appointment. Patients book for themselves only
// and always start in pending; staff may pick any initial status.
func (s *Service) CreateAppointment(ctx context.Context, p auth.Principal, in CreateInput) (a *Appointment, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.CreateAppointment", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	if p.Role == auth.RolePatient {
		if in.PatientID == uuid.Nil {
			in.PatientID = p.PatientID
		}
		in.Status = StatusPending
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionCreate, in.PatientID); err != nil {
		return nil, err
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	if err := s.resolvePatientOrFail(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if err := s.resolveDoctorOrFail(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	a = &Appointment{
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		DateTime:  in.DateTime.UTC(),
		Reason:    strings.TrimSpace(in.Reason),
		Notes:     in.Notes,
		Status:    in.Status,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.AppointmentCreated, "create", a)
	return a, nil
}

func validateCreate(in *CreateInput) error {
	if in.PatientID == uuid.Nil {
		return apperr.Validation("patientId is required")
	}
	if in.DoctorID == uuid.Nil {
		return apperr.Validation("doctorId is required")
	}
	if in.DateTime.IsZero() {
		return apperr.Validation("dateTime is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return apperr.Validation("reason is required")
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if _, ok := ParseStatus(string(in.Status)); !ok {
		return apperr.Validation("invalid status: %s", in.Status)
	}
	return nil
}

func (s *Service) resolvePatientOrFail(ctx context.Context, id uuid.UUID) error {
	if _, err := s.people.GetPatient(ctx, id); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.NotFound("patient not found")
		}
		return err
	}
	return nil
}

func (s *Service) resolveDoctorOrFail(ctx context.Context, id uuid.UUID) error {
	if _, err := s.people.GetDoctor(ctx, id); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.NotFound("doctor not found")
		}
		return err
	}
	return nil
}

// GetAppointment returns one appointment if the caller may read it.
func (s *Service) GetAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (a *Appointment, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.GetAppointment", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	a, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionRead, a.PatientID); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAppointments lists appointments matching f. A patient only ever sees
// their own, whatever patient filter they pass.
func (s *Service) ListAppointments(ctx context.Context, p auth.Principal, f ListFilter) (items []*Appointment, total int, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.ListAppointments", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	if s.policy.OwnershipScoped(p, auth.EntityAppointment) {
		f.PatientID = p.PatientID
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionRead, f.PatientID); err != nil {
		return nil, 0, err
	}
	if err := validateFilter(f); err != nil {
		return nil, 0, err
	}
	return s.appointments.List(ctx, f)
}

// ListByDoctor is the staff view of one doctor's agenda.
func (s *Service) ListByDoctor(ctx context.Context, p auth.Principal, doctorID uuid.UUID, f ListFilter) (items []*Appointment, total int, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.ListByDoctor", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	if s.policy.OwnershipScoped(p, auth.EntityAppointment) {
		return nil, 0, apperr.Authorization("patients cannot list appointments by doctor")
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionRead, uuid.Nil); err != nil {
		return nil, 0, err
	}
	if err := validateFilter(f); err != nil {
		return nil, 0, err
	}
	if err := s.resolveDoctorOrFail(ctx, doctorID); err != nil {
		return nil, 0, err
	}
	f.DoctorID = doctorID
	return s.appointments.List(ctx, f)
}

// ListByPatient lists one patient's appointments. Patients may only name
// themselves.
func (s *Service) ListByPatient(ctx context.Context, p auth.Principal, patientID uuid.UUID, f ListFilter) (items []*Appointment, total int, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.ListByPatient", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionRead, patientID); err != nil {
		return nil, 0, err
	}
	if err := validateFilter(f); err != nil {
		return nil, 0, err
	}
	if err := s.resolvePatientOrFail(ctx, patientID); err != nil {
		return nil, 0, err
	}
	f.PatientID = patientID
	return s.appointments.List(ctx, f)
}

func validateFilter(f ListFilter) error {
	if f.Status != "" {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return apperr.Validation("invalid status: %s", f.Status)
		}
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return apperr.Validation("from must be before to")
	}
	return nil
}

// UpdateAppointment applies a partial update. A status change must follow
// the lifecycle and is written with a compare-and-set on the previous
// status.
func (s *Service) UpdateAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in UpdateInput) (a *Appointment, err error) {
	ctx, span := tracing.Start(ctx, "scheduling.UpdateAppointment", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	a, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionUpdate, a.PatientID); err != nil {
		return nil, err
	}

	prev := a.Status
	if err := applyUpdate(a, in); err != nil {
		return nil, err
	}
	if err := s.appointments.Update(ctx, a, prev); err != nil {
		return nil, err
	}
	s.committed(ctx, p, events.AppointmentUpdated, "update", a)
	return a, nil
}

func applyUpdate(a *Appointment, in UpdateInput) error {
	if in.PatientID != nil && *in.PatientID != a.PatientID {
		return apperr.Validation("patientId cannot be changed")
	}
	if in.DoctorID != nil && *in.DoctorID != a.DoctorID {
		return apperr.Validation("doctorId cannot be changed")
	}
	if in.DateTime != nil {
		if in.DateTime.IsZero() {
			return apperr.Validation("dateTime must not be empty")
		}
		a.DateTime = in.DateTime.UTC()
	}
	if in.Reason != nil {
		if strings.TrimSpace(*in.Reason) == "" {
			return apperr.Validation("reason must not be empty")
		}
		a.Reason = strings.TrimSpace(*in.Reason)
	}
	if in.Notes != nil {
		a.Notes = *in.Notes
	}
	if in.Status != nil {
		next, ok := ParseStatus(string(*in.Status))
		if !ok {
			return apperr.Validation("invalid status: %s", *in.Status)
		}
		if !CanTransition(a.Status, next) {
			return apperr.Validation("cannot change status from %s to %s", a.Status, next)
		}
		a.Status = next
	}
	return nil
}

// DeleteAppointment removes an appointment that no consultation references.
func (s *Service) DeleteAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, "scheduling.DeleteAppointment", actorAttrs(p)...)
	defer func() { tracing.Finish(span, err) }()

	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(p, auth.EntityAppointment, auth.ActionDelete, a.PatientID); err != nil {
		return err
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.committed(ctx, p, events.AppointmentDeleted, "delete", a)
	return nil
}

func (s *Service) committed(ctx context.Context, p auth.Principal, t events.Type, op string, a *Appointment) {
	s.records.ObserveRecord(string(auth.EntityAppointment), op)
	s.events.Publish(ctx, events.New(t, a.ID, a.PatientID, p.SubjectID, string(p.Role), a))
}
