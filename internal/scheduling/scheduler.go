package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const retryBackoff = 150 * time.Millisecond

// Scheduler is the only component that mutates appointment state. Every
// create and reschedule runs its conflict check inside the per-provider
// lock, in the same critical section as the write.
type Scheduler struct {
	repo     Repository
	locker   Locker
	detector *Detector
	expander *Expander
	waitlist *Waitlist
	notifier Notifier
	log      zerolog.Logger
}

func NewScheduler(repo Repository, locker Locker, detector *Detector, expander *Expander, waitlist *Waitlist, notifier Notifier, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		locker:   locker,
		detector: detector,
		expander: expander,
		waitlist: waitlist,
		notifier: notifier,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

type CreateRequest struct {
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	Start      time.Time
	Type       AppointmentType
	// FromWaitlist bookings start at requested and await confirmation.
	FromWaitlist bool
}

// Create books a single appointment. Direct bookings persist as confirmed;
// waiting-list-originated ones as requested.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	window, err := windowFor(req.Start, req.Type)
	if err != nil {
		return nil, err
	}

	provider, patient, err := s.resolveReferences(ctx, req.ProviderID, req.PatientID)
	if err != nil {
		return nil, err
	}

	status := StatusConfirmed
	if req.FromWaitlist {
		status = StatusRequested
	}

	return s.book(ctx, provider, patient, window, req.Type, status, nil)
}

// Reschedule moves an appointment to a new window, re-validating through
// the conflict detector while excluding the appointment's own prior window.
// A conflict leaves the original untouched and reports the blocking id.
func (s *Scheduler) Reschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsBusyStatus(appt.Status) {
		return nil, invalidf("status", "cannot reschedule a %s appointment", appt.Status)
	}

	duration, _ := DurationFor(appt.Type)
	newStart, newEnd = newStart.UTC(), newEnd.UTC()
	if newEnd.Sub(newStart) != duration {
		return nil, invalidf("window", "%s appointments last %s", appt.Type, duration)
	}
	if err := checkSameDay(newStart, newEnd); err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.withRetry(ctx, func() error {
		return s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
			if err := s.detector.Check(lockCtx, appt.ProviderID, appt.PatientID, newStart, newEnd, appt.ID); err != nil {
				return err
			}
			detach := appt.RecurrenceID != nil
			moved, uerr := s.repo.UpdateAppointmentWindow(lockCtx, appt.ID, newStart, newEnd, detach)
			if uerr != nil {
				return fmt.Errorf("update window: %w", uerr)
			}
			updated = moved
			s.logEvent(lockCtx, updated.ID, EventAppointmentRescheduled, map[string]any{
				"old_start": appt.StartTime,
				"new_start": newStart,
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	s.notifier.Notify(ctx, Event{
		Type:          EventAppointmentRescheduled,
		AppointmentID: &updated.ID,
		ProviderID:    updated.ProviderID,
		PatientID:     updated.PatientID,
		Start:         updated.StartTime,
		End:           updated.EndTime,
	})
	return updated, nil
}

// Cancel transitions an appointment to cancelled and synchronously re-offers
// the freed window to the waiting list. Cancelling an already-cancelled
// appointment is a no-op success.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !ValidTransition(appt.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{From: appt.Status, To: StatusCancelled}
	}

	var cancelReason *string
	if reason != "" {
		cancelReason = &reason
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled, cancelReason)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a status race; re-read to honor idempotency.
			current, rerr := s.repo.GetAppointmentByID(ctx, id)
			if rerr == nil && current.Status == StatusCancelled {
				return current, nil
			}
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{"reason": reason})
	s.notifier.Notify(ctx, Event{
		Type:          EventAppointmentCancelled,
		AppointmentID: &updated.ID,
		ProviderID:    updated.ProviderID,
		PatientID:     updated.PatientID,
		Start:         updated.StartTime,
		End:           updated.EndTime,
	})

	// Re-offer runs on the success path of the cancel itself so the freed
	// window reaches the waiting list before another writer can claim it.
	if s.waitlist != nil {
		if _, err := s.waitlist.OnSlotFreed(ctx, updated.ProviderID, updated.StartTime, updated.EndTime); err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", updated.ID).Msg("waiting list re-offer failed")
		}
	}

	return updated, nil
}

// Confirm promotes a waiting-list-originated appointment from requested to
// confirmed. A requested appointment holds no window, so the promotion runs
// the conflict gate again under the provider lock before the status turns
// busy; a window taken in the meantime surfaces as a ConflictError.
func (s *Scheduler) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(appt.Status, StatusConfirmed) {
		return nil, &InvalidTransitionError{From: appt.Status, To: StatusConfirmed}
	}

	var updated *Appointment
	err = s.withRetry(ctx, func() error {
		return s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
			if err := s.detector.Check(lockCtx, appt.ProviderID, appt.PatientID, appt.StartTime, appt.EndTime, appt.ID); err != nil {
				return err
			}
			confirmed, uerr := s.repo.UpdateAppointmentStatus(lockCtx, appt.ID, appt.Status, StatusConfirmed, nil)
			if uerr != nil {
				if errors.Is(uerr, ErrAppointmentNotFound) {
					// The guard lost a race against a concurrent transition.
					current, rerr := s.repo.GetAppointmentByID(lockCtx, id)
					if rerr == nil {
						return &InvalidTransitionError{From: current.Status, To: StatusConfirmed}
					}
				}
				return fmt.Errorf("update status: %w", uerr)
			}
			updated = confirmed
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}
	return updated, nil
}

func (s *Scheduler) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCheckedIn)
}

func (s *Scheduler) StartVisit(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress)
}

func (s *Scheduler) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Scheduler) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow)
}

// UpdateStatus routes a requested target status through the proper guarded
// operation.
func (s *Scheduler) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, reason string) (*Appointment, error) {
	switch to {
	case StatusCancelled:
		return s.Cancel(ctx, id, reason)
	case StatusConfirmed:
		return s.Confirm(ctx, id)
	case StatusCheckedIn, StatusInProgress, StatusCompleted, StatusNoShow:
		return s.transition(ctx, id, to)
	default:
		return nil, invalidf("status", "unknown status %q", to)
	}
}

func (s *Scheduler) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(appt.Status, to) {
		return nil, &InvalidTransitionError{From: appt.Status, To: to}
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The guard lost a race against a concurrent transition.
			current, rerr := s.repo.GetAppointmentByID(ctx, id)
			if rerr == nil {
				return nil, &InvalidTransitionError{From: current.Status, To: to}
			}
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

type SeriesRequest struct {
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	Type           AppointmentType
	Frequency      Frequency
	Interval       int
	Count          *int
	Until          *time.Time
	Weekdays       []time.Weekday
	ExceptionDates []time.Time
	Start          time.Time
}

type InstanceFailure struct {
	Window Window
	Err    error
}

// SeriesResult reports per-instance outcomes. A conflict on one instance
// never rolls back instances already booked.
type SeriesResult struct {
	Series *RecurrenceSeries
	Booked []*Appointment
	Failed []InstanceFailure
}

// CreateSeries expands a recurrence rule and books each candidate instance
// independently, sequentially within the series.
func (s *Scheduler) CreateSeries(ctx context.Context, req SeriesRequest) (*SeriesResult, error) {
	series := RecurrenceSeries{
		ID:             uuid.New(),
		ProviderID:     req.ProviderID,
		PatientID:      req.PatientID,
		Type:           req.Type,
		Frequency:      req.Frequency,
		Interval:       req.Interval,
		Count:          req.Count,
		Until:          req.Until,
		Weekdays:       req.Weekdays,
		ExceptionDates: req.ExceptionDates,
		StartTime:      req.Start.UTC(),
	}

	windows, err := s.expander.Expand(series)
	if err != nil {
		return nil, err
	}
	if err := checkSameDay(series.StartTime, series.StartTime.Add(mustDuration(series.Type))); err != nil {
		return nil, err
	}

	provider, patient, err := s.resolveReferences(ctx, req.ProviderID, req.PatientID)
	if err != nil {
		return nil, err
	}

	saved, err := s.repo.CreateSeries(ctx, series)
	if err != nil {
		return nil, fmt.Errorf("create series: %w", err)
	}

	result := &SeriesResult{Series: saved}
	for _, w := range windows {
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, InstanceFailure{Window: w, Err: ctx.Err()})
			continue
		}
		appt, err := s.book(ctx, provider, patient, w, series.Type, StatusConfirmed, &saved.ID)
		if err != nil {
			result.Failed = append(result.Failed, InstanceFailure{Window: w, Err: err})
			continue
		}
		result.Booked = append(result.Booked, appt)
	}

	return result, nil
}

// book runs the conflict-check-then-commit sequence under the provider lock
// and emits the booked event on success.
func (s *Scheduler) book(ctx context.Context, provider *Provider, patient *Patient, w Window, typ AppointmentType, status AppointmentStatus, recurrenceID *uuid.UUID) (*Appointment, error) {
	var created *Appointment
	err := s.withRetry(ctx, func() error {
		return s.locker.WithProviderLock(ctx, provider.ID, func(lockCtx context.Context) error {
			if err := s.detector.Check(lockCtx, provider.ID, patient.ID, w.Start, w.End, uuid.Nil); err != nil {
				return err
			}

			appt := Appointment{
				ID:           uuid.New(),
				ProviderID:   provider.ID,
				PatientID:    patient.ID,
				ProviderName: provider.Name,
				PatientName:  patient.Name,
				StartTime:    w.Start,
				EndTime:      w.End,
				Type:         typ,
				Status:       status,
				RecurrenceID: recurrenceID,
			}

			var err error
			created, err = s.repo.CreateAppointment(lockCtx, appt)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			s.logEvent(lockCtx, created.ID, EventAppointmentBooked, map[string]any{
				"provider_id": provider.ID.String(),
				"patient_id":  patient.ID.String(),
				"start":       w.Start,
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	s.notifier.Notify(ctx, Event{
		Type:          EventAppointmentBooked,
		AppointmentID: &created.ID,
		ProviderID:    created.ProviderID,
		PatientID:     created.PatientID,
		Start:         created.StartTime,
		End:           created.EndTime,
	})
	return created, nil
}

// resolveReferences loads the provider and patient, rejecting the booking
// when either reference dangles instead of creating an orphaned appointment.
func (s *Scheduler) resolveReferences(ctx context.Context, providerID, patientID uuid.UUID) (*Provider, *Patient, error) {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return nil, nil, invalidf("provider", "provider %s is deactivated", providerID)
	}

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}
	return provider, patient, nil
}

// withRetry retries fn once after a short backoff when the failure looks
// transient, then surfaces ErrUnavailable. Business errors pass through; a
// conflict is a fact, not a fault.
func (s *Scheduler) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) {
		return err
	}

	s.log.Warn().Err(err).Msg("transient store error, retrying once")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}

	if err := fn(); err != nil {
		if isTransient(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *Scheduler) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	id := appointmentID
	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Stringer("subject_id", appointmentID).Msg("insert event log")
	}
}

// windowFor derives the appointment window from its type and validates it.
func windowFor(start time.Time, typ AppointmentType) (Window, error) {
	duration, ok := DurationFor(typ)
	if !ok {
		return Window{}, invalidf("appointment type", "unknown type %q", typ)
	}
	start = start.UTC()
	end := start.Add(duration)
	if err := checkSameDay(start, end); err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// checkSameDay rejects windows crossing a calendar day boundary. An end
// falling exactly on midnight is allowed since the range is half-open.
func checkSameDay(start, end time.Time) error {
	if !end.After(start) {
		return invalidf("window", "end must be after start")
	}
	endDay := DateOf(end)
	if endDay.After(DateOf(start)) && !end.Equal(endDay) {
		return invalidf("window", "appointments may not cross midnight")
	}
	return nil
}

func mustDuration(typ AppointmentType) time.Duration {
	d, _ := DurationFor(typ)
	return d
}
