package clinical

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/db"
)

const (
	uniqueConsultationPerAppointment = "consultation_appointment_id_key"
	fkConsultationAppointment        = "consultation_appointment_id_fkey"
	fkPrescriptionConsultation       = "prescription_consultation_id_fkey"
)

// -- Consultation Repository --

type consultationRepoPG struct {
	pool *pgxpool.Pool
}

func NewConsultationRepo(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

const consultationCols = `id, appointment_id, patient_id, doctor_id, date_time, diagnosis, treatment, notes, status, created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.AppointmentID, &c.PatientID, &c.DoctorID, &c.DateTime,
		&c.Diagnosis, &c.Treatment, &c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create relies on the unique index on appointment_id, so two concurrent
// creates for one appointment cannot both succeed.
func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultation (id, appointment_id, patient_id, doctor_id, date_time, diagnosis, treatment, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		c.ID, c.AppointmentID, c.PatientID, c.DoctorID, c.DateTime, c.Diagnosis, c.Treatment, c.Notes, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, uniqueConsultationPerAppointment):
		return apperr.Conflict("appointment already has a consultation")
	case db.IsForeignKeyViolation(err, fkConsultationAppointment):
		return apperr.NotFound("appointment not found")
	case err != nil:
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := scanConsultation(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultation WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("consultation not found")
		}
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

func (r *consultationRepoPG) List(ctx context.Context, f ConsultationFilter) ([]*Consultation, int, error) {
	var w where
	w.eq("appointment_id", f.AppointmentID)
	w.eq("patient_id", f.PatientID)
	w.eq("doctor_id", f.DoctorID)
	if f.Status != "" {
		w.add("status", f.Status)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM consultation`+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}

	q, args := w.page(`SELECT `+consultationCols+` FROM consultation`, `date_time DESC, id`, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	items := []*Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *consultationRepoPG) Update(ctx context.Context, c *Consultation) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE consultation SET date_time = $2, diagnosis = $3, treatment = $4, notes = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.DateTime, c.Diagnosis, c.Treatment, c.Notes, c.Status,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("consultation not found")
		}
		return fmt.Errorf("update consultation: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM consultation WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err, fkPrescriptionConsultation) {
			return apperr.Conflict("consultation has prescriptions and cannot be deleted")
		}
		return fmt.Errorf("delete consultation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("consultation not found")
	}
	return nil
}

// -- Prescription Repository --

type prescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepo(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

const prescriptionCols = `id, consultation_id, patient_id, doctor_id, date_created, medications, notes, status, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.ConsultationID, &p.PatientID, &p.DoctorID, &p.DateCreated,
		&p.Medications, &p.Notes, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescription (id, consultation_id, patient_id, doctor_id, date_created, medications, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.ConsultationID, p.PatientID, p.DoctorID, p.DateCreated, p.Medications, p.Notes, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case db.IsForeignKeyViolation(err, fkPrescriptionConsultation):
		return apperr.NotFound("consultation not found")
	case err != nil:
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("prescription not found")
		}
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

func (r *prescriptionRepoPG) List(ctx context.Context, f PrescriptionFilter) ([]*Prescription, int, error) {
	var w where
	w.eq("consultation_id", f.ConsultationID)
	w.eq("patient_id", f.PatientID)
	w.eq("doctor_id", f.DoctorID)
	if f.Status != "" {
		w.add("status", f.Status)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	q, args := w.page(`SELECT `+prescriptionCols+` FROM prescription`, `date_created DESC, id`, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	items := []*Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE prescription SET medications = $2, notes = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Medications, p.Notes, p.Status,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("prescription not found")
		}
		return fmt.Errorf("update prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM prescription WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription not found")
	}
	return nil
}

// where accumulates AND-ed equality conditions with positional arguments.
// Column names are package constants.
type where struct {
	sql  string
	args []interface{}
}

func (w *where) add(column string, v interface{}) {
	if w.sql == "" {
		w.sql = ` WHERE `
	} else {
		w.sql += ` AND `
	}
	w.args = append(w.args, v)
	w.sql += fmt.Sprintf(`%s = $%d`, column, len(w.args))
}

func (w *where) eq(column string, id uuid.UUID) {
	if id != uuid.Nil {
		w.add(column, id)
	}
}

func (w *where) page(sel, order string, limit, offset int) (string, []interface{}) {
	n := len(w.args)
	q := sel + w.sql + fmt.Sprintf(` ORDER BY %s LIMIT $%d OFFSET $%d`, order, n+1, n+2)
	return q, append(append([]interface{}{}, w.args...), limit, offset)
}
