package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/outbox"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

// SQLSTATE exclusion_violation, raised by appointments_no_overlap.
const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func minutesPtr(v *int16) *scheduling.TimeOfDay {
	if v == nil {
		return nil
	}
	t := scheduling.TimeOfDay(*v)
	return &t
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrBookingOverlap, pgErr.ConstraintName)
	}
	return err
}

func scanWorkSchedule(row pgx.Row) (*scheduling.WorkSchedule, error) {
	var ws scheduling.WorkSchedule
	var employee pgtype.UUID
	var weekday, start, end int16
	var breakStart, breakEnd *int16

	err := row.Scan(
		&ws.ID,
		&ws.TenantID,
		&employee,
		&weekday,
		&ws.IsWorking,
		&start,
		&end,
		&breakStart,
		&breakEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduling.ErrScheduleNotFound
		}
		return nil, err
	}

	ws.Scope = scheduling.BusinessScope()
	if employee.Valid {
		ws.Scope = scheduling.EmployeeScope(uuid.UUID(employee.Bytes))
	}
	ws.Weekday = time.Weekday(weekday)
	ws.Start = scheduling.TimeOfDay(start)
	ws.End = scheduling.TimeOfDay(end)
	ws.BreakStart = minutesPtr(breakStart)
	ws.BreakEnd = minutesPtr(breakEnd)
	return &ws, nil
}

func scanHoliday(row pgx.Row) (*scheduling.Holiday, error) {
	var h scheduling.Holiday
	var start, end *int16

	if err := row.Scan(&h.ID, &h.TenantID, &h.Date, &h.Name, &h.FullDay, &start, &end); err != nil {
		return nil, err
	}

	h.Start = minutesPtr(start)
	h.End = minutesPtr(end)
	return &h, nil
}

func scanService(row pgx.Row) (*ServiceDef, error) {
	var s ServiceDef
	var price string

	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.Duration,
		&s.BufferBefore,
		&s.BufferAfter,
		&price,
		&s.RequiresConfirm,
		&s.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	if s.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	return &s, nil
}

const appointmentColumns = `
	a.id, a.tenant_id, a.client_id, COALESCE(c.name, ''), a.employee_id, a.service_id,
	a.date, a.start_min, a.end_min, a.duration_min, a.price::text, a.status, a.payment_status,
	a.notes, a.confirmed_at, a.completed_at, a.canceled_at, a.canceled_by, a.cancel_reason,
	a.created_at, a.updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end int16
	var price string

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ClientID,
		&a.ClientName,
		&a.EmployeeID,
		&a.ServiceID,
		&a.Date,
		&start,
		&end,
		&a.Duration,
		&price,
		&a.Status,
		&a.PaymentStatus,
		&a.Notes,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CanceledAt,
		&a.CanceledBy,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = scheduling.TimeOfDay(start)
	a.EndTime = scheduling.TimeOfDay(end)
	if a.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	return &a, nil
}

// scheduling.Store

func (r *PgRepository) GetWorkSchedule(ctx context.Context, tenantID uuid.UUID, scope scheduling.Scope, weekday time.Weekday) (*scheduling.WorkSchedule, error) {
	var employee *uuid.UUID
	if id, ok := scope.EmployeeID(); ok {
		employee = &id
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, employee_id, weekday, is_working, start_min, end_min, break_start_min, break_end_min
		FROM work_schedules
		WHERE tenant_id = $1
		  AND employee_id IS NOT DISTINCT FROM $2::uuid
		  AND weekday = $3
	`, tenantID, employee, int16(weekday))
	return scanWorkSchedule(row)
}

func (r *PgRepository) ListHolidays(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]scheduling.Holiday, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, date, name, full_day, start_min, end_min
		FROM holidays
		WHERE tenant_id = $1 AND date = $2::date
		ORDER BY full_day DESC, start_min
	`, tenantID, scheduling.DateKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scheduling.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListActiveBookings(ctx context.Context, tenantID, employeeID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]scheduling.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, COALESCE(c.name, ''), a.start_min, a.end_min
		FROM appointments a
		LEFT JOIN clients c ON c.id = a.client_id
		WHERE a.tenant_id = $1
		  AND a.employee_id = $2
		  AND a.date = $3::date
		  AND a.status NOT IN ('CANCELED', 'NO_SHOW')
		  AND ($4::uuid IS NULL OR a.id <> $4::uuid)
		ORDER BY a.start_min
	`, tenantID, employeeID, scheduling.DateKey(date), excludeID)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []scheduling.Booking
	for rows.Next() {
		var b scheduling.Booking
		var start, end int16
		if err := rows.Scan(&b.AppointmentID, &b.ClientName, &start, &end); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.Interval = scheduling.Interval{Start: scheduling.TimeOfDay(start), End: scheduling.TimeOfDay(end)}
		out = append(out, b)
	}
	return out, rows.Err()
}

// appointment.Store

func (r *PgRepository) GetService(ctx context.Context, tenantID, id uuid.UUID) (*ServiceDef, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, duration_min, buffer_before_min, buffer_after_min, price::text, requires_confirm, active
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanService(row)
}

func (r *PgRepository) ListExtras(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Extra, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, price::text, active
		FROM extras
		WHERE tenant_id = $1 AND id = ANY($2::uuid[]) AND active
	`, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("query extras: %w", err)
	}
	defer rows.Close()

	var out []Extra
	for rows.Next() {
		var e Extra
		var price string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &price, &e.Active); err != nil {
			return nil, fmt.Errorf("scan extra: %w", err)
		}
		if e.Price, err = parseMoney(price); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PgRepository) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		LEFT JOIN clients c ON c.id = a.client_id
		WHERE a.tenant_id = $1 AND a.id = $2
	`, tenantID, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	appt.Extras, err = r.listAppointmentExtras(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) listAppointmentExtras(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentExtra, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, extra_id, name, unit_price::text, quantity, total::text
		FROM appointment_extras
		WHERE appointment_id = $1
		ORDER BY name
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("query appointment extras: %w", err)
	}
	defer rows.Close()

	var out []AppointmentExtra
	for rows.Next() {
		var e AppointmentExtra
		var unit, total string
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.ExtraID, &e.Name, &unit, &e.Quantity, &total); err != nil {
			return nil, fmt.Errorf("scan appointment extra: %w", err)
		}
		if e.UnitPrice, err = parseMoney(unit); err != nil {
			return nil, err
		}
		if e.Total, err = parseMoney(total); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PgRepository) IncrementClientVisits(ctx context.Context, tenantID, clientID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients
		SET visit_count = visit_count + 1,
		    last_visit_at = NOW(),
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, clientID)
	if err != nil {
		return fmt.Errorf("update client visits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s not found", clientID)
	}
	return nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, client_id, employee_id, service_id, date, start_min, end_min,
			duration_min, price, status, payment_status, notes, confirmed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $15)
	`,
		a.ID, a.TenantID, a.ClientID, a.EmployeeID, a.ServiceID, scheduling.DateKey(a.Date),
		int16(a.StartTime), int16(a.EndTime), a.Duration, a.Price.String(),
		string(a.Status), string(a.PaymentStatus), a.Notes, a.ConfirmedAt, a.CreatedAt,
	)
	return mapPgError(err)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment, readAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET employee_id = $3,
		    service_id = $4,
		    date = $5::date,
		    start_min = $6,
		    end_min = $7,
		    duration_min = $8,
		    price = $9::numeric,
		    status = $10,
		    payment_status = $11,
		    notes = $12,
		    confirmed_at = $13,
		    completed_at = $14,
		    canceled_at = $15,
		    canceled_by = $16,
		    cancel_reason = $17,
		    updated_at = $18
		WHERE tenant_id = $1 AND id = $2 AND updated_at = $19
	`,
		a.TenantID, a.ID, a.EmployeeID, a.ServiceID, scheduling.DateKey(a.Date),
		int16(a.StartTime), int16(a.EndTime), a.Duration, a.Price.String(),
		string(a.Status), string(a.PaymentStatus), a.Notes,
		a.ConfirmedAt, a.CompletedAt, a.CanceledAt, a.CanceledBy, a.CancelReason, a.UpdatedAt,
		readAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		// the row was read under the appointment lock, so a miss means it moved
		return ErrAppointmentChanged
	}
	return nil
}

func (t *pgTx) ReplaceExtras(ctx context.Context, appointmentID uuid.UUID, extras []AppointmentExtra) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM appointment_extras WHERE appointment_id = $1`, appointmentID); err != nil {
		return fmt.Errorf("delete extras: %w", err)
	}
	if len(extras) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range extras {
		batch.Queue(`
			INSERT INTO appointment_extras (id, appointment_id, extra_id, name, unit_price, quantity, total)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric)
		`, e.ID, appointmentID, e.ExtraID, e.Name, e.UnitPrice.String(), e.Quantity, e.Total.String())
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert extras: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEvents(ctx context.Context, events ...outbox.Event) error {
	return outbox.InsertEvents(ctx, t.tx, events...)
}
