package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusRequested  AppointmentStatus = "requested"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusCheckedIn  AppointmentStatus = "checked-in"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

// BusyStatuses are the statuses that occupy a provider's time. Only these
// participate in conflict checks and slot subtraction.
var BusyStatuses = []AppointmentStatus{StatusConfirmed, StatusCheckedIn, StatusInProgress}

func IsBusyStatus(s AppointmentStatus) bool {
	for _, b := range BusyStatuses {
		if s == b {
			return true
		}
	}
	return false
}

type AppointmentType string

const (
	TypeFollowUp     AppointmentType = "followup"
	TypeConsultation AppointmentType = "consultation"
	TypePhysical     AppointmentType = "physical"
	TypeProcedure    AppointmentType = "procedure"
)

// typeDurations is the closed set of bookable durations.
var typeDurations = map[AppointmentType]time.Duration{
	TypeFollowUp:     15 * time.Minute,
	TypeConsultation: 30 * time.Minute,
	TypePhysical:     45 * time.Minute,
	TypeProcedure:    60 * time.Minute,
}

// DurationFor returns the duration for an appointment type, or false when
// the type is not one of the enumerated kinds.
func DurationFor(t AppointmentType) (time.Duration, bool) {
	d, ok := typeDurations[t]
	return d, ok
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID          uuid.UUID
	Name        string
	Specialties []string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateBlock is one entry of a provider's weekly availability template.
// Times are minutes from midnight in UTC; a block never crosses midnight.
type TemplateBlock struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

type ExceptionKind string

const (
	ExceptionBlocked    ExceptionKind = "blocked"
	ExceptionVacation   ExceptionKind = "vacation"
	ExceptionExtraHours ExceptionKind = "extra-hours"
)

// AvailabilityException is a one-off change to a provider's schedule on a
// single date. Date is midnight UTC of the affected day.
type AvailabilityException struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Date        time.Time
	StartMinute int
	EndMinute   int
	Kind        ExceptionKind
	Reason      string
}

type Appointment struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	ProviderName    string
	PatientName     string
	StartTime       time.Time
	EndTime         time.Time
	Type            AppointmentType
	Status          AppointmentStatus
	RecurrenceID    *uuid.UUID
	SeriesException bool
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// RecurrenceSeries describes a repeating booking pattern. Exactly one of
// Count or Until must be set. StartTime is the first candidate instance.
type RecurrenceSeries struct {
	ID             uuid.UUID
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	Type           AppointmentType
	Frequency      Frequency
	Interval       int
	Count          *int
	Until          *time.Time
	Weekdays       []time.Weekday
	ExceptionDates []time.Time
	StartTime      time.Time
	CreatedAt      time.Time
}

type WaitingStatus string

const (
	WaitingOpen      WaitingStatus = "open"
	WaitingOffered   WaitingStatus = "offered"
	WaitingFulfilled WaitingStatus = "fulfilled"
	WaitingExpired   WaitingStatus = "expired"
)

// WaitingListEntry is a patient's standing request for a slot that does not
// currently exist. ProviderID nil means any provider will do.
type WaitingListEntry struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	ProviderID *uuid.UUID
	RangeStart time.Time
	RangeEnd   time.Time
	Type       AppointmentType
	Status     WaitingStatus
	OfferedAt  *time.Time
	// Offer records the concrete freed slot held for the patient while the
	// entry is in the offered state.
	OfferProviderID *uuid.UUID
	OfferStart      *time.Time
	OfferEnd        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotOffer is a freed window held for a waiting patient.
type SlotOffer struct {
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open windows intersect. Back-to-back
// windows where one ends exactly when the other starts do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
