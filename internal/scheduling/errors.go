package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSeriesNotFound      = errors.New("recurrence series not found")
	ErrEntryNotFound       = errors.New("waiting list entry not found")

	// ErrLockNotAcquired is returned by a Locker when the per-provider lock
	// is already held.
	ErrLockNotAcquired = errors.New("provider lock not acquired")

	// ErrBookingContended is returned when the per-provider lock could not
	// be acquired; the caller should retry.
	ErrBookingContended = errors.New("provider schedule is busy, please retry")

	// ErrUnavailable is returned after a transient storage failure survived
	// the single retry.
	ErrUnavailable = errors.New("scheduling store unavailable")
)

// ValidationError rejects a request before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError carries the appointment blocking the requested window so
// callers can offer a reschedule.
type ConflictError struct {
	BlockingID uuid.UUID
	Window     Window
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("window conflicts with appointment %s (%s–%s)",
		e.BlockingID, e.Window.Start.Format("15:04"), e.Window.End.Format("15:04"))
}

// InvalidTransitionError names the current and attempted states.
type InvalidTransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %q to %q", e.From, e.To)
}

// SeriesBoundsError rejects a recurrence that would expand past the
// configured instance cap.
type SeriesBoundsError struct {
	Max int
}

func (e *SeriesBoundsError) Error() string {
	return fmt.Sprintf("series would generate more than %d instances", e.Max)
}
