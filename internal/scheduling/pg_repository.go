package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialties, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.ProviderName,
		&a.PatientName,
		&a.StartTime,
		&a.EndTime,
		&a.Type,
		&a.Status,
		&a.RecurrenceID,
		&a.SeriesException,
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
	return &a, nil
}

func scanEntry(row pgx.Row) (*WaitingListEntry, error) {
	var e WaitingListEntry
	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.ProviderID,
		&e.RangeStart,
		&e.RangeEnd,
		&e.Type,
		&e.Status,
		&e.OfferedAt,
		&e.OfferProviderID,
		&e.OfferStart,
		&e.OfferEnd,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

const appointmentColumns = `id, provider_id, patient_id, provider_name, patient_name,
	start_time, end_time, appointment_type, status, recurrence_id, series_exception,
	cancel_reason, created_at, updated_at`

const entryColumns = `id, patient_id, provider_id, range_start, range_end,
	appointment_type, status, offered_at, offer_provider_id, offer_start, offer_end,
	created_at, updated_at`

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialties, active, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListActiveProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialties, active, created_at, updated_at
		FROM providers
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Availability store

func (r *PgRepository) ListTemplateBlocks(ctx context.Context, providerID uuid.UUID) ([]TemplateBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, slot_minutes
		FROM availability_templates
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TemplateBlock
	for rows.Next() {
		var b TemplateBlock
		var weekday int
		if err := rows.Scan(&b.ID, &b.ProviderID, &weekday, &b.StartMinute, &b.EndMinute, &b.SlotMinutes); err != nil {
			return nil, err
		}
		b.Weekday = time.Weekday(weekday)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateTemplateBlock(ctx context.Context, block TemplateBlock) (*TemplateBlock, error) {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_templates (id, provider_id, weekday, start_minute, end_minute, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, block.ID, block.ProviderID, int(block.Weekday), block.StartMinute, block.EndMinute, block.SlotMinutes)
	if err != nil {
		return nil, fmt.Errorf("insert template block: %w", err)
	}
	return &block, nil
}

func (r *PgRepository) ListExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, date, start_minute, end_minute, kind, reason
		FROM availability_exceptions
		WHERE provider_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, start_minute
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityException
	for rows.Next() {
		var e AvailabilityException
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.Date, &e.StartMinute, &e.EndMinute, &e.Kind, &e.Reason); err != nil {
			return nil, err
		}
		e.Date = DateOf(e.Date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateException(ctx context.Context, exc AvailabilityException) (*AvailabilityException, error) {
	if exc.ID == uuid.Nil {
		exc.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_exceptions (id, provider_id, date, start_minute, end_minute, kind, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exc.ID, exc.ProviderID, exc.Date, exc.StartMinute, exc.EndMinute, exc.Kind, exc.Reason)
	if err != nil {
		return nil, fmt.Errorf("insert exception: %w", err)
	}
	return &exc, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND start_time < $3 AND end_time > $2
		  AND status = ANY($4)
		ORDER BY start_time
	`, providerID, from, to, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE start_time < $2 AND end_time > $1
		  AND status = ANY($3)
		ORDER BY start_time
	`, from, to, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND id <> $4
		  AND status IN ('confirmed', 'checked-in', 'in-progress')
		  AND start_time < $3 AND $2 < end_time
		ORDER BY start_time
		LIMIT 1
	`, providerID, start, end, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindPatientOverlapping(ctx context.Context, patientID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND id <> $4
		  AND status IN ('confirmed', 'checked-in', 'in-progress')
		  AND start_time < $3 AND $2 < end_time
		ORDER BY start_time
		LIMIT 1
	`, patientID, start, end, excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, provider_name, patient_name,
			start_time, end_time, appointment_type, status, recurrence_id, series_exception,
			cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.ProviderID, appt.PatientID, appt.ProviderName, appt.PatientName,
		appt.StartTime, appt.EndTime, appt.Type, appt.Status, appt.RecurrenceID, appt.SeriesException)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentWindow(ctx context.Context, id uuid.UUID, start, end time.Time, seriesException bool) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    series_exception = series_exception OR $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, start, end, seriesException)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, to, reason)
	return scanAppointment(row)
}

// Recurrence

func (r *PgRepository) CreateSeries(ctx context.Context, series RecurrenceSeries) (*RecurrenceSeries, error) {
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	weekdays := make([]int, len(series.Weekdays))
	for i, wd := range series.Weekdays {
		weekdays[i] = int(wd)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO recurrence_series (id, provider_id, patient_id, appointment_type,
			frequency, series_interval, instance_count, until_date, weekdays,
			exception_dates, start_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at
	`, series.ID, series.ProviderID, series.PatientID, series.Type,
		series.Frequency, series.Interval, series.Count, series.Until, weekdays,
		series.ExceptionDates, series.StartTime)
	if err := row.Scan(&series.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert series: %w", err)
	}
	return &series, nil
}

func (r *PgRepository) GetSeriesByID(ctx context.Context, id uuid.UUID) (*RecurrenceSeries, error) {
	var s RecurrenceSeries
	var weekdays []int32
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, patient_id, appointment_type, frequency, series_interval,
		       instance_count, until_date, weekdays, exception_dates, start_time, created_at
		FROM recurrence_series
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ProviderID, &s.PatientID, &s.Type, &s.Frequency, &s.Interval,
		&s.Count, &s.Until, &weekdays, &s.ExceptionDates, &s.StartTime, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}
	for _, wd := range weekdays {
		s.Weekdays = append(s.Weekdays, time.Weekday(wd))
	}
	return &s, nil
}

// Waiting list

func (r *PgRepository) CreateWaitingListEntry(ctx context.Context, entry WaitingListEntry) (*WaitingListEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO waiting_list_entries (id, patient_id, provider_id, range_start, range_end,
			appointment_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+entryColumns+`
	`, entry.ID, entry.PatientID, entry.ProviderID, entry.RangeStart, entry.RangeEnd,
		entry.Type, entry.Status)
	return scanEntry(row)
}

func (r *PgRepository) GetWaitingListEntry(ctx context.Context, id uuid.UUID) (*WaitingListEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waiting_list_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) ListOpenEntriesMatching(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]WaitingListEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waiting_list_entries
		WHERE status = 'open'
		  AND (provider_id IS NULL OR provider_id = $1)
		  AND range_start <= $2 AND range_end >= $3
		ORDER BY created_at
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WaitingListEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *PgRepository) UpdateWaitingStatus(ctx context.Context, id uuid.UUID, from, to WaitingStatus, offer *SlotOffer, offeredAt *time.Time) (*WaitingListEntry, error) {
	var offerProvider *uuid.UUID
	var offerStart, offerEnd *time.Time
	if offer != nil {
		offerProvider, offerStart, offerEnd = &offer.ProviderID, &offer.Start, &offer.End
	}
	clear := to == WaitingOpen

	row := r.pool.QueryRow(ctx, `
		UPDATE waiting_list_entries
		SET status = $3,
		    offer_provider_id = CASE WHEN $7 THEN NULL ELSE COALESCE($4, offer_provider_id) END,
		    offer_start       = CASE WHEN $7 THEN NULL ELSE COALESCE($5, offer_start) END,
		    offer_end         = CASE WHEN $7 THEN NULL ELSE COALESCE($6, offer_end) END,
		    offered_at        = CASE WHEN $7 THEN NULL ELSE COALESCE($8, offered_at) END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+entryColumns+`
	`, id, from, to, offerProvider, offerStart, offerEnd, clear, offeredAt)
	return scanEntry(row)
}

func (r *PgRepository) FindExpiredOffers(ctx context.Context, cutoff time.Time) ([]WaitingListEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waiting_list_entries
		WHERE status = 'offered'
		  AND offered_at < $1
		ORDER BY offered_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WaitingListEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SubjectID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
