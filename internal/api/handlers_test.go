package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var testMonday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

type apiEnv struct {
	server   *httptest.Server
	repo     *scheduling.MemoryRepository
	provider scheduling.Provider
	patient  scheduling.Patient
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	provider := scheduling.Provider{ID: uuid.New(), Name: "Dr. Reyes", Active: true}
	patient := scheduling.Patient{ID: uuid.New(), Name: "Ana Silva"}
	repo.PutProvider(provider)
	repo.PutPatient(patient)

	waitlist := scheduling.NewWaitlist(repo, scheduling.NopNotifier{}, time.Hour, zerolog.Nop())
	sched := scheduling.NewScheduler(repo, scheduling.NewMutexLocker(), scheduling.NewDetector(repo, false),
		scheduling.NewExpander(0), waitlist, scheduling.NopNotifier{}, zerolog.Nop())

	router := NewRouter(RouterConfig{
		Scheduler:   sched,
		Allocator:   scheduling.NewAllocator(repo),
		Waitlist:    waitlist,
		ViewBuilder: scheduling.NewViewBuilder(repo),
		Repo:        repo,
		Log:         zerolog.Nop(),
		Env:         "test",
		Version:     "test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiEnv{server: srv, repo: repo, provider: provider, patient: patient}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *apiEnv) book(t *testing.T, start time.Time) AppointmentResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		ProviderID:      e.provider.ID.String(),
		PatientID:       e.patient.ID.String(),
		StartTime:       start.Format(time.RFC3339),
		AppointmentType: "consultation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[AppointmentResponse](t, resp)
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	appt := env.book(t, testMonday.Add(10*time.Hour))
	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, env.provider.ID, appt.ProviderID)
	assert.Equal(t, 30*time.Minute, appt.EndTime.Sub(appt.StartTime))

	got := decode[AppointmentResponse](t, env.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil))
	assert.Equal(t, appt.ID, got.ID)
}

func TestCreateAppointmentConflictPayload(t *testing.T) {
	env := newAPIEnv(t)

	first := env.book(t, testMonday.Add(10*time.Hour))

	resp := env.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		ProviderID:      env.provider.ID.String(),
		PatientID:       env.patient.ID.String(),
		StartTime:       testMonday.Add(10*time.Hour + 15*time.Minute).Format(time.RFC3339),
		AppointmentType: "consultation",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "conflict", errResp.Error)
	require.NotNil(t, errResp.BlockingID)
	assert.Equal(t, first.ID, *errResp.BlockingID)
}

func TestCreateAppointmentBadInput(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name string
		req  CreateAppointmentRequest
		want int
	}{
		{
			name: "bad uuid",
			req: CreateAppointmentRequest{
				ProviderID: "not-a-uuid", PatientID: env.patient.ID.String(),
				StartTime: testMonday.Format(time.RFC3339), AppointmentType: "consultation",
			},
			want: http.StatusBadRequest,
		},
		{
			name: "bad timestamp",
			req: CreateAppointmentRequest{
				ProviderID: env.provider.ID.String(), PatientID: env.patient.ID.String(),
				StartTime: "tomorrow", AppointmentType: "consultation",
			},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown provider",
			req: CreateAppointmentRequest{
				ProviderID: uuid.New().String(), PatientID: env.patient.ID.String(),
				StartTime: testMonday.Format(time.RFC3339), AppointmentType: "consultation",
			},
			want: http.StatusNotFound,
		},
		{
			name: "unknown type",
			req: CreateAppointmentRequest{
				ProviderID: env.provider.ID.String(), PatientID: env.patient.ID.String(),
				StartTime: testMonday.Format(time.RFC3339), AppointmentType: "massage",
			},
			want: http.StatusBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/appointments", tc.req)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestTimestampOffsetNormalizedToUTC(t *testing.T) {
	env := newAPIEnv(t)

	// 12:00+02:00 is 10:00 UTC.
	resp := env.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		ProviderID:      env.provider.ID.String(),
		PatientID:       env.patient.ID.String(),
		StartTime:       "2026-01-05T12:00:00+02:00",
		AppointmentType: "consultation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	appt := decode[AppointmentResponse](t, resp)
	assert.Equal(t, testMonday.Add(10*time.Hour), appt.StartTime.UTC())
}

func TestRescheduleEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	appt := env.book(t, testMonday.Add(10*time.Hour))
	blocker := env.book(t, testMonday.Add(11*time.Hour))

	resp := env.do(t, http.MethodPut, "/appointments/"+appt.ID.String()+"/reschedule", RescheduleRequest{
		StartTime: testMonday.Add(11 * time.Hour).Format(time.RFC3339),
		EndTime:   testMonday.Add(11*time.Hour + 30*time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[ErrorResponse](t, resp)
	require.NotNil(t, errResp.BlockingID)
	assert.Equal(t, blocker.ID, *errResp.BlockingID)

	resp = env.do(t, http.MethodPut, "/appointments/"+appt.ID.String()+"/reschedule", RescheduleRequest{
		StartTime: testMonday.Add(14 * time.Hour).Format(time.RFC3339),
		EndTime:   testMonday.Add(14*time.Hour + 30*time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[AppointmentResponse](t, resp)
	assert.Equal(t, testMonday.Add(14*time.Hour), moved.StartTime.UTC())
}

func TestStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	appt := env.book(t, testMonday.Add(10*time.Hour))
	path := "/appointments/" + appt.ID.String() + "/status"

	resp := env.do(t, http.MethodPut, path, StatusUpdateRequest{Status: "checked-in"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// checked-in cannot jump to completed
	resp = env.do(t, http.MethodPut, path, StatusUpdateRequest{Status: "completed"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_status_transition", errResp.Error)

	resp = env.do(t, http.MethodPut, path, StatusUpdateRequest{Status: "cancelled", Reason: "weather"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "weather", *cancelled.CancelReason)
}

func TestSlotsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/providers/"+env.provider.ID.String()+"/template", TemplateBlockRequest{
		Weekday:     1,
		StartMinute: 9 * 60,
		EndMinute:   12 * 60,
		SlotMinutes: 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	env.book(t, testMonday.Add(10*time.Hour))

	path := fmt.Sprintf("/providers/%s/slots?from=%s&to=%s&duration=30",
		env.provider.ID,
		testMonday.Format(time.RFC3339),
		testMonday.Format(time.RFC3339))
	resp = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	slots := decode[SlotsResponse](t, resp)
	assert.Len(t, slots.Slots, 5)

	// Without duration the template's slot_minutes drives the grid.
	path = fmt.Sprintf("/providers/%s/slots?from=%s&to=%s",
		env.provider.ID,
		testMonday.Format(time.RFC3339),
		testMonday.Format(time.RFC3339))
	resp = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	slots = decode[SlotsResponse](t, resp)
	assert.Len(t, slots.Slots, 5)
}

func TestRecurringEndpointPartialOutcome(t *testing.T) {
	env := newAPIEnv(t)

	// Occupy the second weekly occurrence.
	env.book(t, testMonday.AddDate(0, 0, 7).Add(10*time.Hour))

	count := 3
	resp := env.do(t, http.MethodPost, "/appointments/recurring", RecurringRequest{
		ProviderID:      env.provider.ID.String(),
		PatientID:       env.patient.ID.String(),
		AppointmentType: "consultation",
		Frequency:       "weekly",
		Interval:        1,
		Count:           &count,
		StartTime:       testMonday.Add(10 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	series := decode[SeriesResponse](t, resp)
	assert.Len(t, series.Booked, 2)
	require.Len(t, series.Failed, 1)
	assert.Equal(t, "conflict", series.Failed[0].Code)
}

func TestRecurringEndpointUnbounded(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/appointments/recurring", RecurringRequest{
		ProviderID:      env.provider.ID.String(),
		PatientID:       env.patient.ID.String(),
		AppointmentType: "consultation",
		Frequency:       "weekly",
		Interval:        1,
		StartTime:       testMonday.Add(10 * time.Hour).Format(time.RFC3339),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWaitingListFlow(t *testing.T) {
	env := newAPIEnv(t)

	appt := env.book(t, testMonday.Add(10*time.Hour))

	resp := env.do(t, http.MethodPost, "/waiting-list", WaitingListRequest{
		PatientID:       env.patient.ID.String(),
		RangeStart:      testMonday.Format(time.RFC3339),
		RangeEnd:        testMonday.AddDate(0, 0, 7).Format(time.RFC3339),
		AppointmentType: "consultation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[WaitingListEntryResponse](t, resp)
	assert.Equal(t, "open", entry.Status)

	// Cancelling frees the window and offers it to the entry.
	resp = env.do(t, http.MethodPut, "/appointments/"+appt.ID.String()+"/status", StatusUpdateRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/waiting-list/"+entry.ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	booked := decode[AppointmentResponse](t, resp)
	assert.Equal(t, testMonday.Add(10*time.Hour), booked.StartTime.UTC())
	assert.Equal(t, "requested", booked.Status)
}

func TestConfirmWithoutOffer(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/waiting-list", WaitingListRequest{
		PatientID:       env.patient.ID.String(),
		RangeStart:      testMonday.Format(time.RFC3339),
		RangeEnd:        testMonday.AddDate(0, 0, 7).Format(time.RFC3339),
		AppointmentType: "consultation",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[WaitingListEntryResponse](t, resp)

	resp = env.do(t, http.MethodPost, "/waiting-list/"+entry.ID.String()+"/confirm", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCalendarEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	env.book(t, testMonday.Add(10*time.Hour))

	path := fmt.Sprintf("/calendar?scope=%s&from=%s&to=%s&granularity=day",
		env.provider.ID,
		testMonday.Format(time.RFC3339),
		testMonday.Format(time.RFC3339))
	resp := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decode[CalendarResponse](t, resp)
	require.Len(t, view.Days, 1)
	require.Len(t, view.Days[0].Providers, 1)
	assert.Len(t, view.Days[0].Providers[0].Busy, 1)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newAPIEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/calendar?from=2026-01-05T00:00:00Z&to=2026-01-05T00:00:00Z&granularity=day", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "test-request-1")

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "test-request-1", resp.Header.Get("X-Request-ID"))
}
