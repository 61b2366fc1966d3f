package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// MemoryRepo is an in-process Repository used by tests and local tooling.
type MemoryRepo struct {
	mu          sync.RWMutex
	patients    map[uuid.UUID]*Patient
	doctors     map[uuid.UUID]*Doctor
	secretaries map[uuid.UUID]*Secretary
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		patients:    make(map[uuid.UUID]*Patient),
		doctors:     make(map[uuid.UUID]*Doctor),
		secretaries: make(map[uuid.UUID]*Secretary),
	}
}

func fill(p *Profile) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UserID == uuid.Nil {
		p.UserID = uuid.New()
	}
}

func (m *MemoryRepo) AddPatient(p *Patient) *Patient {
	fill(&p.Profile)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
	return p
}

func (m *MemoryRepo) AddDoctor(d *Doctor) *Doctor {
	fill(&d.Profile)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryRepo) AddSecretary(s *Secretary) *Secretary {
	fill(&s.Profile)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secretaries[s.ID] = s
	return s
}

func (m *MemoryRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, apperr.NotFound("patient not found")
}

func (m *MemoryRepo) GetPatientByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patients {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("patient not found")
}

func (m *MemoryRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.doctors[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, apperr.NotFound("doctor not found")
}

func (m *MemoryRepo) GetDoctorByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.doctors {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("doctor not found")
}

func (m *MemoryRepo) GetSecretaryByUserID(_ context.Context, userID uuid.UUID) (*Secretary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.secretaries {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("secretary not found")
}
