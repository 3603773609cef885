package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the engine.
type Repository interface {
	// Directory lookups
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	ListActiveProviders(ctx context.Context) ([]Provider, error)

	// Availability store
	ListTemplateBlocks(ctx context.Context, providerID uuid.UUID) ([]TemplateBlock, error)
	CreateTemplateBlock(ctx context.Context, block TemplateBlock) (*TemplateBlock, error)
	ListExceptions(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error)
	CreateException(ctx context.Context, exc AvailabilityException) (*AvailabilityException, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error)
	ListAppointments(ctx context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// FindOverlapping returns the earliest busy appointment of the provider
	// overlapping [start, end), skipping excludeID, or ErrAppointmentNotFound.
	FindOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error)
	// FindPatientOverlapping is the same check keyed on the patient.
	FindPatientOverlapping(ctx context.Context, patientID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error)

	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	// UpdateAppointmentWindow moves an appointment and optionally detaches it
	// from its series.
	UpdateAppointmentWindow(ctx context.Context, id uuid.UUID, start, end time.Time, seriesException bool) (*Appointment, error)
	// UpdateAppointmentStatus changes status only when the current status is
	// from, returning ErrAppointmentNotFound otherwise.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)

	// Recurrence
	CreateSeries(ctx context.Context, series RecurrenceSeries) (*RecurrenceSeries, error)
	GetSeriesByID(ctx context.Context, id uuid.UUID) (*RecurrenceSeries, error)

	// Waiting list
	CreateWaitingListEntry(ctx context.Context, entry WaitingListEntry) (*WaitingListEntry, error)
	GetWaitingListEntry(ctx context.Context, id uuid.UUID) (*WaitingListEntry, error)
	// ListOpenEntriesMatching returns open entries whose desired provider is
	// providerID or any, and whose date range contains [start, end), in
	// first-added order.
	ListOpenEntriesMatching(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]WaitingListEntry, error)
	// UpdateWaitingStatus changes status only when the current status is
	// from, recording or clearing the held offer.
	UpdateWaitingStatus(ctx context.Context, id uuid.UUID, from, to WaitingStatus, offer *SlotOffer, offeredAt *time.Time) (*WaitingListEntry, error)
	FindExpiredOffers(ctx context.Context, cutoff time.Time) ([]WaitingListEntry, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
