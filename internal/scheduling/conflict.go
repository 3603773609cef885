package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detector is the single authoritative overlap gate. The scheduler calls it
// inside the same critical section as the write; nothing else may decide
// whether a window is bookable.
type Detector struct {
	repo Repository

	// checkPatient additionally rejects windows overlapping one of the
	// patient's own appointments with a different provider.
	checkPatient bool
}

func NewDetector(repo Repository, checkPatientOverlap bool) *Detector {
	return &Detector{repo: repo, checkPatient: checkPatientOverlap}
}

// Check returns a ConflictError when [start, end) overlaps a busy
// appointment of the provider (or, when enabled, of the patient).
// excludeID lets a reschedule skip the appointment's own prior window; pass
// uuid.Nil for a fresh booking.
func (d *Detector) Check(ctx context.Context, providerID, patientID uuid.UUID, start, end time.Time, excludeID uuid.UUID) error {
	blocking, err := d.repo.FindOverlapping(ctx, providerID, start, end, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check provider overlap: %w", err)
	}
	if blocking != nil {
		return &ConflictError{
			BlockingID: blocking.ID,
			Window:     Window{Start: blocking.StartTime, End: blocking.EndTime},
		}
	}

	if !d.checkPatient || patientID == uuid.Nil {
		return nil
	}

	blocking, err = d.repo.FindPatientOverlapping(ctx, patientID, start, end, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check patient overlap: %w", err)
	}
	if blocking != nil {
		return &ConflictError{
			BlockingID: blocking.ID,
			Window:     Window{Start: blocking.StartTime, End: blocking.EndTime},
		}
	}
	return nil
}
