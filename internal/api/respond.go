package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleSchedulingError maps engine errors onto the HTTP surface. Conflicts
// include the blocking appointment id so the client can offer a reschedule.
func handleSchedulingError(w http.ResponseWriter, err error) {
	var (
		vErr *scheduling.ValidationError
		cErr *scheduling.ConflictError
		tErr *scheduling.InvalidTransitionError
		bErr *scheduling.SeriesBoundsError
	)

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.As(err, &cErr):
		id := cErr.BlockingID
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:      "conflict",
			Details:    cErr.Error(),
			BlockingID: &id,
		})
	case errors.As(err, &tErr):
		writeError(w, http.StatusConflict, "invalid_status_transition", tErr.Error())
	case errors.As(err, &bErr):
		writeError(w, http.StatusUnprocessableEntity, "series_bounds_exceeded", bErr.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "reference_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrSeriesNotFound),
		errors.Is(err, scheduling.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrBookingContended),
		errors.Is(err, scheduling.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "booking_contended", "provider schedule is being modified, please retry shortly")
	case errors.Is(err, scheduling.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func errorCode(err error) string {
	var (
		vErr *scheduling.ValidationError
		cErr *scheduling.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation_error"
	case errors.As(err, &cErr):
		return "conflict"
	case errors.Is(err, scheduling.ErrBookingContended):
		return "booking_contended"
	case errors.Is(err, scheduling.ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}

func parseUUIDParam(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
