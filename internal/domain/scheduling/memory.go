package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// MemoryRepo is an in-process Repository used by tests. InUse, when set,
// reports whether another record references an appointment and so blocks
// its deletion.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
	InUse func(ctx context.Context, id uuid.UUID) bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepo) List(_ context.Context, f ListFilter) ([]*Appointment, int, error) {
	m.mu.RLock()
	var matched []*Appointment
	for _, a := range m.items {
		if matches(a, f) {
			cp := *a
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DateTime.Equal(matched[j].DateTime) {
			return matched[i].DateTime.After(matched[j].DateTime)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	items := []*Appointment{}
	for i := f.Offset; i < total && (f.Limit <= 0 || i < f.Offset+f.Limit); i++ {
		items = append(items, matched[i])
	}
	return items, total, nil
}

func matches(a *Appointment, f ListFilter) bool {
	switch {
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.PatientID != uuid.Nil && a.PatientID != f.PatientID:
		return false
	case f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID:
		return false
	case f.From != nil && a.DateTime.Before(*f.From):
		return false
	case f.To != nil && !a.DateTime.Before(*f.To):
		return false
	}
	return true
}

func (m *MemoryRepo) Update(_ context.Context, a *Appointment, prevStatus Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return apperr.NotFound("appointment not found")
	}
	if cur.Status != prevStatus {
		return apperr.Conflict("appointment status changed concurrently, reload and retry")
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("appointment not found")
	}
	if m.InUse != nil && m.InUse(ctx, id) {
		return apperr.Conflict("appointment has a consultation and cannot be deleted")
	}
	delete(m.items, id)
	return nil
}
