package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventSlotOffered            = "SLOT_OFFERED"
)

// Event is the fire-and-forget message handed to the notification
// collaborator. Delivery failure never rolls back a scheduling operation.
type Event struct {
	Type          string     `json:"type"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	EntryID       *uuid.UUID `json:"entry_id,omitempty"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	Start         time.Time  `json:"start_time"`
	End           time.Time  `json:"end_time"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NopNotifier drops every event. Used in tests and tools.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// Locker guards the conflict-check-then-commit sequence per provider.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}
