package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func listSlotsHandler(allocator *scheduling.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		q := r.URL.Query()
		from, ok := parseTimestamp(w, q.Get("from"), "from")
		if !ok {
			return
		}
		to, ok := parseTimestamp(w, q.Get("to"), "to")
		if !ok {
			return
		}
		// duration is optional; when omitted the allocator falls back to
		// the provider's template slot length.
		minutes := queryInt(r, "duration", 0)

		slots, err := allocator.ComputeSlots(r.Context(), providerID, from, to, time.Duration(minutes)*time.Minute)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			ProviderID: providerID,
			Slots:      toWindows(slots),
		})
	}
}

func createTemplateBlockHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req TemplateBlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Weekday < 0 || req.Weekday > 6 {
			writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0 (Sunday) through 6 (Saturday)")
			return
		}
		if req.StartMinute < 0 || req.EndMinute > 24*60 || req.EndMinute <= req.StartMinute {
			writeError(w, http.StatusBadRequest, "invalid_window", "start_minute/end_minute must form a window within one day")
			return
		}
		if req.SlotMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_slot_minutes", "slot_minutes must be positive")
			return
		}

		if _, err := repo.GetProviderByID(r.Context(), providerID); err != nil {
			handleSchedulingError(w, err)
			return
		}

		block, err := repo.CreateTemplateBlock(r.Context(), scheduling.TemplateBlock{
			ProviderID:  providerID,
			Weekday:     time.Weekday(req.Weekday),
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
			SlotMinutes: req.SlotMinutes,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTemplateBlockResponse(block))
	}
}

func createExceptionHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		var req ExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, ok := parseDate(w, req.Date, "date")
		if !ok {
			return
		}
		kind := scheduling.ExceptionKind(req.Kind)
		switch kind {
		case scheduling.ExceptionBlocked, scheduling.ExceptionVacation, scheduling.ExceptionExtraHours:
		default:
			writeError(w, http.StatusBadRequest, "invalid_kind", "kind must be blocked, vacation, or extra-hours")
			return
		}
		if req.StartMinute < 0 || req.EndMinute > 24*60 || req.EndMinute <= req.StartMinute {
			writeError(w, http.StatusBadRequest, "invalid_window", "start_minute/end_minute must form a window within one day")
			return
		}

		if _, err := repo.GetProviderByID(r.Context(), providerID); err != nil {
			handleSchedulingError(w, err)
			return
		}

		exc, err := repo.CreateException(r.Context(), scheduling.AvailabilityException{
			ProviderID:  providerID,
			Date:        date,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
			Kind:        kind,
			Reason:      req.Reason,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toExceptionResponse(exc))
	}
}
