// Package events publishes domain events for appointment and clinical record
// changes. Publishing is best effort: a failed publish is logged and counted
// but never fails the request that produced it.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event, "<entity>.<change>".
type Type string

const (
	AppointmentCreated  Type = "appointment.created"
	AppointmentUpdated  Type = "appointment.updated"
	AppointmentDeleted  Type = "appointment.deleted"
	ConsultationCreated Type = "consultation.created"
	ConsultationUpdated Type = "consultation.updated"
	ConsultationDeleted Type = "consultation.deleted"
	PrescriptionCreated Type = "prescription.created"
	PrescriptionUpdated Type = "prescription.updated"
	PrescriptionDeleted Type = "prescription.deleted"
)

// Event is the envelope written to the broker.
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       Type        `json:"type"`
	EntityID   uuid.UUID   `json:"entity_id"`
	PatientID  uuid.UUID   `json:"patient_id"`
	ActorID    string      `json:"actor_id"`
	ActorRole  string      `json:"actor_role"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, entityID, patientID uuid.UUID, actorID, actorRole string, data interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		EntityID:   entityID,
		PatientID:  patientID,
		ActorID:    actorID,
		ActorRole:  actorRole,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events. Implementations must not block the caller for
// long and must swallow delivery errors.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Memory keeps published events in order. Tests use it to assert on the
// events a service emits.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the type of every published event, in order.
func (m *Memory) Types() []Type {
	evs := m.Events()
	out := make([]Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
