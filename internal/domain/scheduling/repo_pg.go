package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/schedengine/internal/platform/db"
)

// StorePG implements AppointmentStore on PostgreSQL. The appointment table's
// exclusion constraints reject overlapping live bookings at commit.
type StorePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) *StorePG { return &StorePG{pool: pool} }

func (r *StorePG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *StorePG) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

const practitionerCols = `id, clinic_id, name, COALESCE(specialization, ''), active,
	working_start, working_end, working_days`

func (r *StorePG) scanPractitioner(row pgx.Row) (Practitioner, error) {
	var p Practitioner
	var start, end *int16
	var days []int16
	if err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &p.Specialization, &p.Active, &start, &end, &days); err != nil {
		return p, err
	}
	if start != nil && end != nil {
		wh := WorkingHours{Start: TimeOfDay(*start), End: TimeOfDay(*end)}
		if err := wh.Validate(); err != nil {
			return p, fmt.Errorf("practitioner %s: %w", p.ID, err)
		}
		for _, d := range days {
			wh.Days = append(wh.Days, time.Weekday(d))
		}
		p.WorkingHours = &wh
	}
	return p, nil
}

func inactiveStatusNames() []string {
	out := make([]string, len(InactiveStatuses))
	for i, s := range InactiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *StorePG) PractitionersByClinic(ctx context.Context, clinicID uuid.UUID, specialization string) ([]Practitioner, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+practitionerCols+` FROM practitioner
		WHERE clinic_id = $1 AND active AND ($2 = '' OR specialization = $2)
		ORDER BY id`, clinicID, specialization)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Practitioner
	for rows.Next() {
		p, err := r.scanPractitioner(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *StorePG) ActiveRoomsByClinic(ctx context.Context, clinicID uuid.UUID) ([]Room, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, clinic_id, name, active FROM room
		WHERE clinic_id = $1 AND active ORDER BY id`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Room
	for rows.Next() {
		var rm Room
		if err := rows.Scan(&rm.ID, &rm.ClinicID, &rm.Name, &rm.Active); err != nil {
			return nil, err
		}
		items = append(items, rm)
	}
	return items, rows.Err()
}

const apptCols = `id, clinic_id, patient_id, practitioner_id, room_id, start_time, end_time,
	status, COALESCE(priority, ''), COALESCE(service_type, ''), COALESCE(reason, ''), created_at, updated_at`

func (r *StorePG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicID, &a.PatientID, &a.PractitionerID, &a.RoomID, &a.Start, &a.End,
		&a.Status, &a.Priority, &a.ServiceType, &a.Reason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return &a, err
}

func (r *StorePG) AppointmentsOverlapping(ctx context.Context, resourceIDs []uuid.UUID, rng TimeInterval, includeInactive bool) ([]Appointment, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE (practitioner_id = ANY($1) OR room_id = ANY($1))
			AND start_time < $3 AND end_time > $2
			AND ($4 OR status <> ALL($5))
		ORDER BY start_time, id`, resourceIDs, rng.Start, rng.End, includeInactive, inactiveStatusNames())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (r *StorePG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *StorePG) Create(ctx context.Context, a *Appointment) error {
	if err := a.Interval().Validate(); err != nil {
		return err
	}
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusBooked
	}
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO appointment (id, clinic_id, patient_id, practitioner_id, room_id,
				start_time, end_time, status, priority, service_type, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''),NULLIF($10, ''),NULLIF($11, ''))
			RETURNING created_at, updated_at`,
			a.ID, a.ClinicID, a.PatientID, a.PractitionerID, a.RoomID,
			a.Start, a.End, a.Status, a.Priority, a.ServiceType, a.Reason).Scan(&a.CreatedAt, &a.UpdatedAt)
	})
	return writeErr("insert appointment", err)
}

func (r *StorePG) Reschedule(ctx context.Context, id uuid.UUID, practitionerID, roomID uuid.UUID, iv TimeInterval) (*Appointment, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	var out *Appointment
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		current, err := r.lockLive(ctx, id)
		if err != nil {
			return err
		}
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE appointment SET practitioner_id=$2, room_id=$3, start_time=$4, end_time=$5, updated_at=NOW()
			WHERE id = $1`, current.ID, practitionerID, roomID, iv.Start, iv.End)
		if err != nil {
			return err
		}
		out, err = r.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, writeErr("reschedule appointment", err)
	}
	return out, nil
}

func (r *StorePG) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var out *Appointment
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.lockLive(ctx, id); err != nil {
			return err
		}
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE appointment SET status=$2, cancel_reason=NULLIF($3, ''), updated_at=NOW()
			WHERE id = $1`, id, StatusCancelled, reason)
		if err != nil {
			return err
		}
		out, err = r.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, writeErr("cancel appointment", err)
	}
	return out, nil
}

func (r *StorePG) lockLive(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !a.IsLive() {
		return nil, ErrAppointmentInactive
	}
	return a, nil
}

// writeErr maps constraint and serialization failures to ErrConflictAtCommit.
func writeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAppointmentNotFound), errors.Is(err, ErrAppointmentInactive), errors.Is(err, ErrInvalidRequest):
		return err
	case db.HasCode(err, db.CodeExclusionViolation, db.CodeSerializationFailure):
		return fmt.Errorf("%w: %s: %v", ErrConflictAtCommit, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
