package clinical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

type ConsultationStatus string

const (
	ConsultationInProgress ConsultationStatus = "in-progress"
	ConsultationCompleted  ConsultationStatus = "completed"
	ConsultationCancelled  ConsultationStatus = "cancelled"
)

func (s ConsultationStatus) Valid() bool {
	switch s {
	case ConsultationInProgress, ConsultationCompleted, ConsultationCancelled:
		return true
	}
	return false
}

type PrescriptionStatus string

const (
	PrescriptionDraft     PrescriptionStatus = "draft"
	PrescriptionIssued    PrescriptionStatus = "issued"
	PrescriptionCompleted PrescriptionStatus = "completed"
)

func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionDraft, PrescriptionIssued, PrescriptionCompleted:
		return true
	}
	return false
}

// Consultation records what happened during one appointment. There is at
// most one per appointment.
type Consultation struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	AppointmentID uuid.UUID          `db:"appointment_id" json:"appointmentId"`
	PatientID     uuid.UUID          `db:"patient_id" json:"patientId"`
	DoctorID      uuid.UUID          `db:"doctor_id" json:"doctorId"`
	DateTime      time.Time          `db:"date_time" json:"dateTime"`
	Diagnosis     string             `db:"diagnosis" json:"diagnosis"`
	Treatment     string             `db:"treatment" json:"treatment"`
	Notes         string             `db:"notes" json:"notes,omitempty"`
	Status        ConsultationStatus `db:"status" json:"status"`
	CreatedAt     time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updatedAt"`
}

// MedicationLine is one drug on a prescription.
type MedicationLine struct {
	MedicationID   string `json:"medicationId,omitempty"`
	MedicationName string `json:"medicationName"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Duration       string `json:"duration,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type Prescription struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	ConsultationID uuid.UUID          `db:"consultation_id" json:"consultationId"`
	PatientID      uuid.UUID          `db:"patient_id" json:"patientId"`
	DoctorID       uuid.UUID          `db:"doctor_id" json:"doctorId"`
	DateCreated    time.Time          `db:"date_created" json:"dateCreated"`
	Medications    []MedicationLine   `db:"medications" json:"medications"`
	Notes          string             `db:"notes" json:"notes,omitempty"`
	Status         PrescriptionStatus `db:"status" json:"status"`
	CreatedAt      time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updatedAt"`
}

// ValidateMedications requires at least one line, each with a dosage and a
// frequency. The error names the first offending line.
func ValidateMedications(lines []MedicationLine) error {
	if len(lines) == 0 {
		return apperr.Validation("medications must contain at least one entry")
	}
	for i, l := range lines {
		if msg := l.problem(); msg != "" {
			return apperr.Validation("medications[%d]: %s", i, msg)
		}
	}
	return nil
}

func (l MedicationLine) problem() string {
	var missing []string
	if strings.TrimSpace(l.Dosage) == "" {
		missing = append(missing, "dosage")
	}
	if strings.TrimSpace(l.Frequency) == "" {
		missing = append(missing, "frequency")
	}
	switch len(missing) {
	case 0:
		return ""
	case 1:
		return missing[0] + " is required"
	default:
		return fmt.Sprintf("%s are required", strings.Join(missing, " and "))
	}
}

type CreateConsultationInput struct {
	AppointmentID uuid.UUID          `json:"appointmentId"`
	DateTime      time.Time          `json:"dateTime"`
	Diagnosis     string             `json:"diagnosis"`
	Treatment     string             `json:"treatment"`
	Notes         string             `json:"notes"`
	Status        ConsultationStatus `json:"status"`
}

type UpdateConsultationInput struct {
	AppointmentID *uuid.UUID          `json:"appointmentId"`
	DateTime      *time.Time          `json:"dateTime"`
	Diagnosis     *string             `json:"diagnosis"`
	Treatment     *string             `json:"treatment"`
	Notes         *string             `json:"notes"`
	Status        *ConsultationStatus `json:"status"`
}

type CreatePrescriptionInput struct {
	ConsultationID uuid.UUID          `json:"consultationId"`
	DateCreated    time.Time          `json:"dateCreated"`
	Medications    []MedicationLine   `json:"medications"`
	Notes          string             `json:"notes"`
	Status         PrescriptionStatus `json:"status"`
}

// UpdatePrescriptionInput replaces Medications wholesale when it is present.
// An explicit empty list or null is rejected.
type UpdatePrescriptionInput struct {
	ConsultationID *uuid.UUID          `json:"consultationId"`
	Medications    *[]MedicationLine   `json:"medications"`
	Notes          *string             `json:"notes"`
	Status         *PrescriptionStatus `json:"status"`
}

// UnmarshalJSON keeps "medications": null apart from an omitted field; null
// decodes to an empty list so that validation rejects it.
func (in *UpdatePrescriptionInput) UnmarshalJSON(data []byte) error {
	type plain UpdatePrescriptionInput
	var raw struct {
		plain
		Medications json.RawMessage `json:"medications"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = UpdatePrescriptionInput(raw.plain)
	if raw.Medications == nil {
		return nil
	}
	lines := []MedicationLine{}
	if !bytes.Equal(bytes.TrimSpace(raw.Medications), []byte("null")) {
		if err := json.Unmarshal(raw.Medications, &lines); err != nil {
			return err
		}
	}
	in.Medications = &lines
	return nil
}

type ConsultationFilter struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Status        ConsultationStatus
	Limit         int
	Offset        int
}

type PrescriptionFilter struct {
	ConsultationID uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Status         PrescriptionStatus
	Limit          int
	Offset         int
}
