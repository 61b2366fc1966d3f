package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusCompleted: true,
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, validStatuses[st]
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patientId"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	DateTime  time.Time `db:"date_time" json:"dateTime"`
	Reason    string    `db:"reason" json:"reason"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// CreateInput is the body of a create request. A patient caller may leave
// PatientID empty to book for themselves.
type CreateInput struct {
	PatientID uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID `json:"doctorId"`
	DateTime  time.Time `json:"dateTime"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes"`
	Status    Status    `json:"status"`
}

// UpdateInput carries the fields of a partial update. Nil fields are left
// unchanged. PatientID and DoctorID may be repeated but not changed.
type UpdateInput struct {
	PatientID *uuid.UUID `json:"patientId"`
	DoctorID  *uuid.UUID `json:"doctorId"`
	DateTime  *time.Time `json:"dateTime"`
	Reason    *string    `json:"reason"`
	Notes     *string    `json:"notes"`
	Status    *Status    `json:"status"`
}

// ListFilter narrows a list query. Zero values do not filter.
type ListFilter struct {
	Status    Status
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
