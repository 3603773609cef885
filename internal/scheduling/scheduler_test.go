package scheduling

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// monday is a fixed reference day so tests never depend on the wall clock.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testEnv struct {
	repo     *MemoryRepository
	sched    *Scheduler
	waitlist *Waitlist
	provider Provider
	patient  Patient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := NewMemoryRepository()
	provider := Provider{ID: uuid.New(), Name: "Dr. Reyes", Specialties: []string{"Dermatology"}, Active: true}
	patient := Patient{ID: uuid.New(), Name: "Ana Silva"}
	repo.PutProvider(provider)
	repo.PutPatient(patient)

	waitlist := NewWaitlist(repo, NopNotifier{}, time.Hour, zerolog.Nop())
	sched := NewScheduler(repo, NewMutexLocker(), NewDetector(repo, false), NewExpander(0), waitlist, NopNotifier{}, zerolog.Nop())

	return &testEnv{
		repo:     repo,
		sched:    sched,
		waitlist: waitlist,
		provider: provider,
		patient:  patient,
	}
}

func (e *testEnv) mustCreate(t *testing.T, start time.Time, typ AppointmentType) *Appointment {
	t.Helper()
	appt, err := e.sched.Create(context.Background(), CreateRequest{
		ProviderID: e.provider.ID,
		PatientID:  e.patient.ID,
		Start:      start,
		Type:       typ,
	})
	require.NoError(t, err)
	return appt
}

func TestCreateBooksConfirmed(t *testing.T) {
	env := newTestEnv(t)

	appt := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, at(monday, 10, 0), appt.StartTime)
	assert.Equal(t, at(monday, 10, 30), appt.EndTime)
	assert.Equal(t, env.provider.Name, appt.ProviderName)
	assert.Equal(t, env.patient.Name, appt.PatientName)

	events := env.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
}

func TestCreateFromWaitlistStartsRequested(t *testing.T) {
	env := newTestEnv(t)

	appt, err := env.sched.Create(context.Background(), CreateRequest{
		ProviderID:   env.provider.ID,
		PatientID:    env.patient.ID,
		Start:        at(monday, 10, 0),
		Type:         TypeFollowUp,
		FromWaitlist: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, appt.Status)
}

func TestConfirmRechecksWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.sched.Create(ctx, CreateRequest{
		ProviderID:   env.provider.ID,
		PatientID:    env.patient.ID,
		Start:        at(monday, 10, 0),
		Type:         TypeConsultation,
		FromWaitlist: true,
	})
	require.NoError(t, err)

	// A requested appointment blocks nothing, so a direct booking can take
	// the identical window while the offer is out.
	direct := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	_, err = env.sched.Confirm(ctx, held.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, direct.ID, conflict.BlockingID)

	unchanged, err := env.repo.GetAppointmentByID(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, unchanged.Status)

	busy, err := env.repo.ListProviderAppointments(ctx, env.provider.ID, monday, monday.AddDate(0, 0, 1), BusyStatuses)
	require.NoError(t, err)
	assert.Len(t, busy, 1)
}

func TestConfirmPromotesWhenWindowStillFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.sched.Create(ctx, CreateRequest{
		ProviderID:   env.provider.ID,
		PatientID:    env.patient.ID,
		Start:        at(monday, 10, 0),
		Type:         TypeConsultation,
		FromWaitlist: true,
	})
	require.NoError(t, err)

	confirmed, err := env.sched.UpdateStatus(ctx, held.ID, StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
}

func TestCreateConflictReportsBlockingID(t *testing.T) {
	env := newTestEnv(t)

	first := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	_, err := env.sched.Create(context.Background(), CreateRequest{
		ProviderID: env.provider.ID,
		PatientID:  env.patient.ID,
		Start:      at(monday, 10, 15),
		Type:       TypeConsultation,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.BlockingID)
}

func TestCreateBackToBackWindows(t *testing.T) {
	env := newTestEnv(t)

	env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	// [10:00, 10:30) and [10:30, 11:00) share a boundary, not a conflict.
	second := env.mustCreate(t, at(monday, 10, 30), TypeConsultation)
	assert.Equal(t, StatusConfirmed, second.Status)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unknown provider", func(t *testing.T) {
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: uuid.New(),
			PatientID:  env.patient.ID,
			Start:      at(monday, 10, 0),
			Type:       TypeConsultation,
		})
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("unknown patient", func(t *testing.T) {
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: env.provider.ID,
			PatientID:  uuid.New(),
			Start:      at(monday, 10, 0),
			Type:       TypeConsultation,
		})
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("deactivated provider", func(t *testing.T) {
		inactive := Provider{ID: uuid.New(), Name: "Dr. Gone", Active: false}
		env.repo.PutProvider(inactive)
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: inactive.ID,
			PatientID:  env.patient.ID,
			Start:      at(monday, 10, 0),
			Type:       TypeConsultation,
		})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: env.provider.ID,
			PatientID:  env.patient.ID,
			Start:      at(monday, 10, 0),
			Type:       "massage",
		})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("crosses midnight", func(t *testing.T) {
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: env.provider.ID,
			PatientID:  env.patient.ID,
			Start:      at(monday, 23, 30),
			Type:       TypeProcedure,
		})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("ends exactly at midnight", func(t *testing.T) {
		_, err := env.sched.Create(ctx, CreateRequest{
			ProviderID: env.provider.ID,
			PatientID:  env.patient.ID,
			Start:      at(monday, 23, 0),
			Type:       TypeProcedure,
		})
		assert.NoError(t, err)
	})
}

func TestRescheduleConflictLeavesOriginalUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	b := env.mustCreate(t, at(monday, 11, 0), TypeConsultation)

	_, err := env.sched.Reschedule(ctx, a.ID, at(monday, 11, 0), at(monday, 11, 30))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, b.ID, conflict.BlockingID)

	unchanged, err := env.repo.GetAppointmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, at(monday, 10, 0), unchanged.StartTime)
	assert.Equal(t, StatusConfirmed, unchanged.Status)
}

func TestRescheduleExcludesOwnWindow(t *testing.T) {
	env := newTestEnv(t)

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	// Overlaps only its own prior window, so it must go through.
	moved, err := env.sched.Reschedule(context.Background(), a.ID, at(monday, 10, 15), at(monday, 10, 45))
	require.NoError(t, err)
	assert.Equal(t, at(monday, 10, 15), moved.StartTime)
}

func TestRescheduleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	t.Run("wrong duration", func(t *testing.T) {
		_, err := env.sched.Reschedule(ctx, a.ID, at(monday, 14, 0), at(monday, 15, 0))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		_, err := env.sched.Reschedule(ctx, uuid.New(), at(monday, 14, 0), at(monday, 14, 30))
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		cancelled := env.mustCreate(t, at(monday, 15, 0), TypeConsultation)
		_, err := env.sched.Cancel(ctx, cancelled.ID, "")
		require.NoError(t, err)

		_, err = env.sched.Reschedule(ctx, cancelled.ID, at(monday, 16, 0), at(monday, 16, 30))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestRescheduleDetachesSeriesInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	count := 1
	result, err := env.sched.CreateSeries(ctx, SeriesRequest{
		ProviderID: env.provider.ID,
		PatientID:  env.patient.ID,
		Type:       TypeConsultation,
		Frequency:  FreqWeekly,
		Interval:   1,
		Count:      &count,
		Start:      at(monday, 10, 0),
	})
	require.NoError(t, err)
	require.Len(t, result.Booked, 1)

	instance := result.Booked[0]
	require.NotNil(t, instance.RecurrenceID)

	moved, err := env.sched.Reschedule(ctx, instance.ID, at(monday, 14, 0), at(monday, 14, 30))
	require.NoError(t, err)
	assert.True(t, moved.SeriesException)
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	first, err := env.sched.Cancel(ctx, a.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)
	require.NotNil(t, first.CancelReason)
	assert.Equal(t, "patient request", *first.CancelReason)

	second, err := env.sched.Cancel(ctx, a.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)
}

func TestCancelCompletedRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	_, err := env.sched.CheckIn(ctx, a.ID)
	require.NoError(t, err)
	_, err = env.sched.StartVisit(ctx, a.ID)
	require.NoError(t, err)
	_, err = env.sched.Complete(ctx, a.ID)
	require.NoError(t, err)

	_, err = env.sched.Cancel(ctx, a.ID, "too late")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusCompleted, invalid.From)
}

func TestCancelFreesWindowForRebooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	_, err := env.sched.Cancel(ctx, a.ID, "")
	require.NoError(t, err)

	rebooked := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	assert.Equal(t, StatusConfirmed, rebooked.Status)
}

func TestStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	steps := []struct {
		op   func(context.Context, uuid.UUID) (*Appointment, error)
		want AppointmentStatus
	}{
		{env.sched.CheckIn, StatusCheckedIn},
		{env.sched.StartVisit, StatusInProgress},
		{env.sched.Complete, StatusCompleted},
	}
	for _, step := range steps {
		appt, err := step.op(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, appt.Status)
	}

	// Terminal state rejects any further movement.
	_, err := env.sched.Confirm(ctx, a.ID)
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestStatusSkipRejected(t *testing.T) {
	env := newTestEnv(t)

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	// confirmed cannot jump straight to in-progress
	_, err := env.sched.StartVisit(context.Background(), a.ID)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusConfirmed, invalid.From)
	assert.Equal(t, StatusInProgress, invalid.To)
}

func TestMarkNoShow(t *testing.T) {
	env := newTestEnv(t)

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)
	appt, err := env.sched.MarkNoShow(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, appt.Status)
}

func TestUpdateStatusRouting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, at(monday, 10, 0), TypeConsultation)

	appt, err := env.sched.UpdateStatus(ctx, a.ID, StatusCancelled, "routed")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)

	_, err = env.sched.UpdateStatus(ctx, a.ID, "archived", "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateSeriesPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Occupy the second weekly occurrence ahead of time.
	blocker := env.mustCreate(t, at(monday.AddDate(0, 0, 7), 10, 0), TypeConsultation)

	count := 3
	result, err := env.sched.CreateSeries(ctx, SeriesRequest{
		ProviderID: env.provider.ID,
		PatientID:  env.patient.ID,
		Type:       TypeConsultation,
		Frequency:  FreqWeekly,
		Interval:   1,
		Count:      &count,
		Start:      at(monday, 10, 0),
	})
	require.NoError(t, err)

	assert.Len(t, result.Booked, 2)
	require.Len(t, result.Failed, 1)

	var conflict *ConflictError
	require.ErrorAs(t, result.Failed[0].Err, &conflict)
	assert.Equal(t, blocker.ID, conflict.BlockingID)

	for _, appt := range result.Booked {
		require.NotNil(t, appt.RecurrenceID)
		assert.Equal(t, result.Series.ID, *appt.RecurrenceID)
	}
}

func TestCreateSeriesUnbounded(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sched.CreateSeries(context.Background(), SeriesRequest{
		ProviderID: env.provider.ID,
		PatientID:  env.patient.ID,
		Type:       TypeConsultation,
		Frequency:  FreqWeekly,
		Interval:   1,
		Start:      at(monday, 10, 0),
	})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	const workers = 8

	// Repeated interleavings; exactly one booking may win each round.
	for round := 0; round < 5; round++ {
		env := newTestEnv(t)
		start := at(monday, 10, 0)

		var wg sync.WaitGroup
		errs := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.sched.Create(context.Background(), CreateRequest{
					ProviderID: env.provider.ID,
					PatientID:  env.patient.ID,
					Start:      start,
					Type:       TypeConsultation,
				})
			}(i)
		}
		wg.Wait()

		confirmed, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				confirmed++
			default:
				var conflict *ConflictError
				require.ErrorAs(t, err, &conflict)
				conflicts++
			}
		}
		assert.Equal(t, 1, confirmed, "round %d", round)
		assert.Equal(t, workers-1, conflicts, "round %d", round)

		booked, err := env.repo.ListProviderAppointments(context.Background(), env.provider.ID, monday, monday.AddDate(0, 0, 1), BusyStatuses)
		require.NoError(t, err)
		assert.Len(t, booked, 1, "round %d", round)
	}
}

func TestRandomizedOperationsKeepBusyWindowsDisjoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	// Half-hour starts across one working week; few enough that operations
	// collide often, enough that most still succeed.
	var starts []time.Time
	for day := 0; day < 5; day++ {
		for halfHour := 0; halfHour < 16; halfHour++ {
			starts = append(starts, at(monday.AddDate(0, 0, day), 9, 0).Add(time.Duration(halfHour)*30*time.Minute))
		}
	}
	randomStart := func() time.Time { return starts[rng.Intn(len(starts))] }

	var ids []uuid.UUID
	randomID := func() (uuid.UUID, bool) {
		if len(ids) == 0 {
			return uuid.Nil, false
		}
		return ids[rng.Intn(len(ids))], true
	}

	expected := func(err error) bool {
		var conflict *ConflictError
		var invalid *InvalidTransitionError
		var verr *ValidationError
		return errors.As(err, &conflict) || errors.As(err, &invalid) || errors.As(err, &verr)
	}

	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			appt, err := env.sched.Create(ctx, CreateRequest{
				ProviderID:   env.provider.ID,
				PatientID:    env.patient.ID,
				Start:        randomStart(),
				Type:         TypeConsultation,
				FromWaitlist: rng.Intn(4) == 0,
			})
			if err == nil {
				ids = append(ids, appt.ID)
			} else {
				require.True(t, expected(err), "step %d create: %v", i, err)
			}
		case 1:
			if id, ok := randomID(); ok {
				start := randomStart()
				if _, err := env.sched.Reschedule(ctx, id, start, start.Add(30*time.Minute)); err != nil {
					require.True(t, expected(err), "step %d reschedule: %v", i, err)
				}
			}
		case 2:
			if id, ok := randomID(); ok {
				if _, err := env.sched.Cancel(ctx, id, ""); err != nil {
					require.True(t, expected(err), "step %d cancel: %v", i, err)
				}
			}
		case 3:
			if id, ok := randomID(); ok {
				if _, err := env.sched.Confirm(ctx, id); err != nil {
					require.True(t, expected(err), "step %d confirm: %v", i, err)
				}
			}
		}

		busy, err := env.repo.ListProviderAppointments(ctx, env.provider.ID, monday, monday.AddDate(0, 0, 7), BusyStatuses)
		require.NoError(t, err)
		for a := 0; a < len(busy); a++ {
			for b := a + 1; b < len(busy); b++ {
				wa := Window{Start: busy[a].StartTime, End: busy[a].EndTime}
				wb := Window{Start: busy[b].StartTime, End: busy[b].EndTime}
				require.False(t, wa.Overlaps(wb),
					"step %d: appointments %s and %s overlap", i, busy[a].ID, busy[b].ID)
			}
		}
	}
}

func TestPatientOverlapToggle(t *testing.T) {
	repo := NewMemoryRepository()
	providerA := Provider{ID: uuid.New(), Name: "Dr. A", Active: true}
	providerB := Provider{ID: uuid.New(), Name: "Dr. B", Active: true}
	patient := Patient{ID: uuid.New(), Name: "Ana Silva"}
	repo.PutProvider(providerA)
	repo.PutProvider(providerB)
	repo.PutPatient(patient)

	ctx := context.Background()
	strict := NewScheduler(repo, NewMutexLocker(), NewDetector(repo, true), NewExpander(0), nil, NopNotifier{}, zerolog.Nop())

	_, err := strict.Create(ctx, CreateRequest{
		ProviderID: providerA.ID,
		PatientID:  patient.ID,
		Start:      at(monday, 10, 0),
		Type:       TypeConsultation,
	})
	require.NoError(t, err)

	// Same patient, different provider, overlapping window.
	_, err = strict.Create(ctx, CreateRequest{
		ProviderID: providerB.ID,
		PatientID:  patient.ID,
		Start:      at(monday, 10, 15),
		Type:       TypeConsultation,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// With the toggle off the double booking is allowed.
	lax := NewScheduler(repo, NewMutexLocker(), NewDetector(repo, false), NewExpander(0), nil, NopNotifier{}, zerolog.Nop())
	_, err = lax.Create(ctx, CreateRequest{
		ProviderID: providerB.ID,
		PatientID:  patient.ID,
		Start:      at(monday, 10, 15),
		Type:       TypeConsultation,
	})
	assert.NoError(t, err)
}

func TestLockContentionSurfacesAsBusy(t *testing.T) {
	env := newTestEnv(t)

	blocked := NewScheduler(env.repo, failingLocker{}, NewDetector(env.repo, false), NewExpander(0), nil, NopNotifier{}, zerolog.Nop())
	_, err := blocked.Create(context.Background(), CreateRequest{
		ProviderID: env.provider.ID,
		PatientID:  env.patient.ID,
		Start:      at(monday, 10, 0),
		Type:       TypeConsultation,
	})
	assert.ErrorIs(t, err, ErrBookingContended)
}

type failingLocker struct{}

func (failingLocker) WithProviderLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return ErrLockNotAcquired
}
