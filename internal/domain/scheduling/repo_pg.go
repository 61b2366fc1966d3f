package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, date_time, reason, notes, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DateTime, &a.Reason, &a.Notes, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, date_time, reason, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.DateTime, a.Reason, a.Notes, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.IsForeignKeyViolation(err, "appointment_patient_id_fkey"):
		return apperr.NotFound("patient not found")
	case db.IsForeignKeyViolation(err, "appointment_doctor_id_fkey"):
		return apperr.NotFound("doctor not found")
	case err != nil:
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.DoctorID != uuid.Nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND date_time >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND date_time < $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY date_time DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, a *Appointment, prevStatus Status) error {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE appointment SET date_time = $3, reason = $4, notes = $5, status = $6, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		a.ID, prevStatus, a.DateTime, a.Reason, a.Notes, a.Status,
	).Scan(&a.UpdatedAt)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return fmt.Errorf("update appointment: %w", err)
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointment WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if !exists {
		return apperr.NotFound("appointment not found")
	}
	return apperr.Conflict("appointment status changed concurrently, reload and retry")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err, "consultation_appointment_id_fkey") {
			return apperr.Conflict("appointment has a consultation and cannot be deleted")
		}
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}
