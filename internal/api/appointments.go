package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func createAppointmentHandler(svc *scheduling.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, ok := parseUUIDParam(w, req.ProviderID, "provider_id")
		if !ok {
			return
		}
		patientID, ok := parseUUIDParam(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		start, ok := parseTimestamp(w, req.StartTime, "start_time")
		if !ok {
			return
		}

		appt, err := svc.Create(r.Context(), scheduling.CreateRequest{
			ProviderID: providerID,
			PatientID:  patientID,
			Start:      start,
			Type:       scheduling.AppointmentType(req.AppointmentType),
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		appt, err := repo.GetAppointmentByID(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, ok := parseTimestamp(w, req.StartTime, "start_time")
		if !ok {
			return
		}
		end, ok := parseTimestamp(w, req.EndTime, "end_time")
		if !ok {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, start, end)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *scheduling.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, scheduling.AppointmentStatus(req.Status), req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func createRecurringHandler(svc *scheduling.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecurringRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, ok := parseUUIDParam(w, req.ProviderID, "provider_id")
		if !ok {
			return
		}
		patientID, ok := parseUUIDParam(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		start, ok := parseTimestamp(w, req.StartTime, "start_time")
		if !ok {
			return
		}

		sreq := scheduling.SeriesRequest{
			ProviderID: providerID,
			PatientID:  patientID,
			Type:       scheduling.AppointmentType(req.AppointmentType),
			Frequency:  scheduling.Frequency(req.Frequency),
			Interval:   req.Interval,
			Count:      req.Count,
			Start:      start,
		}
		if req.Until != nil {
			until, ok := parseTimestamp(w, *req.Until, "until")
			if !ok {
				return
			}
			sreq.Until = &until
		}
		for _, wd := range req.Weekdays {
			if wd < 0 || wd > 6 {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekdays must be 0 (Sunday) through 6 (Saturday)")
				return
			}
			sreq.Weekdays = append(sreq.Weekdays, time.Weekday(wd))
		}
		for _, raw := range req.ExceptionDates {
			d, ok := parseDate(w, raw, "exception_dates")
			if !ok {
				return
			}
			sreq.ExceptionDates = append(sreq.ExceptionDates, d)
		}

		result, err := svc.CreateSeries(r.Context(), sreq)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := SeriesResponse{
			SeriesID: result.Series.ID,
			Booked:   make([]AppointmentResponse, 0, len(result.Booked)),
			Failed:   make([]InstanceFailureResponse, 0, len(result.Failed)),
		}
		for _, appt := range result.Booked {
			resp.Booked = append(resp.Booked, toAppointmentResponse(appt))
		}
		for _, f := range result.Failed {
			resp.Failed = append(resp.Failed, InstanceFailureResponse{
				StartTime: f.Window.Start,
				EndTime:   f.Window.End,
				Error:     f.Err.Error(),
				Code:      errorCode(f.Err),
			})
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func listAppointmentsHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, ok := parseTimestamp(w, q.Get("from"), "from")
		if !ok {
			return
		}
		to, ok := parseTimestamp(w, q.Get("to"), "to")
		if !ok {
			return
		}

		var statuses []scheduling.AppointmentStatus
		if raw := q.Get("status"); raw != "" {
			statuses = append(statuses, scheduling.AppointmentStatus(raw))
		}

		appts, err := repo.ListAppointments(r.Context(), from, to, statuses)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getSeriesHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		series, err := repo.GetSeriesByID(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSeriesDetailResponse(series))
	}
}

func listPatientAppointmentsHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		limit := queryInt(r, "limit", 20)
		if limit > 100 {
			limit = 100
		}
		offset := queryInt(r, "offset", 0)

		appts, err := repo.ListPatientAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// parseTimestamp accepts RFC3339 with offset and normalizes to UTC; the
// engine stores and compares everything in UTC internally.
func parseTimestamp(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseDate(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a YYYY-MM-DD date")
		return time.Time{}, false
	}
	return d, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
