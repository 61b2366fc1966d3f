package clinical

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// MemoryStore keeps consultations and prescriptions in process under one
// lock, enforcing the same uniqueness and delete restrictions as the
// database schema. Tests use it in place of PostgreSQL.
type MemoryStore struct {
	mu            sync.RWMutex
	consultations map[uuid.UUID]*Consultation
	prescriptions map[uuid.UUID]*Prescription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consultations: make(map[uuid.UUID]*Consultation),
		prescriptions: make(map[uuid.UUID]*Prescription),
	}
}

func (m *MemoryStore) Consultations() ConsultationRepository { return memConsultations{m} }
func (m *MemoryStore) Prescriptions() PrescriptionRepository { return memPrescriptions{m} }

// HasConsultation reports whether a consultation references the
// appointment.
func (m *MemoryStore) HasConsultation(_ context.Context, appointmentID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.consultations {
		if c.AppointmentID == appointmentID {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	out := []T{}
	for i := offset; i < len(items) && (limit <= 0 || i < offset+limit); i++ {
		out = append(out, items[i])
	}
	return out
}

type memConsultations struct{ m *MemoryStore }

func (r memConsultations) Create(_ context.Context, c *Consultation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.consultations {
		if existing.AppointmentID == c.AppointmentID {
			return apperr.Conflict("appointment already has a consultation")
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.m.consultations[c.ID] = &cp
	return nil
}

func (r memConsultations) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.consultations[id]
	if !ok {
		return nil, apperr.NotFound("consultation not found")
	}
	cp := *c
	return &cp, nil
}

func (r memConsultations) List(_ context.Context, f ConsultationFilter) ([]*Consultation, int, error) {
	r.m.mu.RLock()
	var matched []*Consultation
	for _, c := range r.m.consultations {
		switch {
		case f.AppointmentID != uuid.Nil && c.AppointmentID != f.AppointmentID,
			f.PatientID != uuid.Nil && c.PatientID != f.PatientID,
			f.DoctorID != uuid.Nil && c.DoctorID != f.DoctorID,
			f.Status != "" && c.Status != f.Status:
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	r.m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].DateTime.After(matched[j].DateTime) })
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (r memConsultations) Update(_ context.Context, c *Consultation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.consultations[c.ID]; !ok {
		return apperr.NotFound("consultation not found")
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.m.consultations[c.ID] = &cp
	return nil
}

func (r memConsultations) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.consultations[id]; !ok {
		return apperr.NotFound("consultation not found")
	}
	for _, p := range r.m.prescriptions {
		if p.ConsultationID == id {
			return apperr.Conflict("consultation has prescriptions and cannot be deleted")
		}
	}
	delete(r.m.consultations, id)
	return nil
}

type memPrescriptions struct{ m *MemoryStore }

func copyPrescription(p *Prescription) *Prescription {
	cp := *p
	cp.Medications = append([]MedicationLine(nil), p.Medications...)
	return &cp
}

func (r memPrescriptions) Create(_ context.Context, p *Prescription) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.consultations[p.ConsultationID]; !ok {
		return apperr.NotFound("consultation not found")
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.m.prescriptions[p.ID] = copyPrescription(p)
	return nil
}

func (r memPrescriptions) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.prescriptions[id]
	if !ok {
		return nil, apperr.NotFound("prescription not found")
	}
	return copyPrescription(p), nil
}

func (r memPrescriptions) List(_ context.Context, f PrescriptionFilter) ([]*Prescription, int, error) {
	r.m.mu.RLock()
	var matched []*Prescription
	for _, p := range r.m.prescriptions {
		switch {
		case f.ConsultationID != uuid.Nil && p.ConsultationID != f.ConsultationID,
			f.PatientID != uuid.Nil && p.PatientID != f.PatientID,
			f.DoctorID != uuid.Nil && p.DoctorID != f.DoctorID,
			f.Status != "" && p.Status != f.Status:
			continue
		}
		matched = append(matched, copyPrescription(p))
	}
	r.m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].DateCreated.After(matched[j].DateCreated) })
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (r memPrescriptions) Update(_ context.Context, p *Prescription) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.prescriptions[p.ID]; !ok {
		return apperr.NotFound("prescription not found")
	}
	p.UpdatedAt = time.Now().UTC()
	r.m.prescriptions[p.ID] = copyPrescription(p)
	return nil
}

func (r memPrescriptions) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.prescriptions[id]; !ok {
		return apperr.NotFound("prescription not found")
	}
	delete(r.m.prescriptions, id)
	return nil
}
