package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func addWaitingListHandler(waitlist *scheduling.Waitlist) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WaitingListRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUIDParam(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		var providerID *uuid.UUID
		if req.ProviderID != nil {
			id, ok := parseUUIDParam(w, *req.ProviderID, "provider_id")
			if !ok {
				return
			}
			providerID = &id
		}
		rangeStart, ok := parseTimestamp(w, req.RangeStart, "range_start")
		if !ok {
			return
		}
		rangeEnd, ok := parseTimestamp(w, req.RangeEnd, "range_end")
		if !ok {
			return
		}

		entry, err := waitlist.Add(r.Context(), scheduling.AddEntryRequest{
			PatientID:  patientID,
			ProviderID: providerID,
			RangeStart: rangeStart,
			RangeEnd:   rangeEnd,
			Type:       scheduling.AppointmentType(req.AppointmentType),
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEntryResponse(entry))
	}
}

// confirmOfferHandler books the held window as a normal create and marks
// the entry fulfilled.
func confirmOfferHandler(waitlist *scheduling.Waitlist, svc *scheduling.Scheduler, repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
		if !ok {
			return
		}

		entry, err := repo.GetWaitingListEntry(r.Context(), entryID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		if entry.Status != scheduling.WaitingOffered || entry.OfferProviderID == nil || entry.OfferStart == nil {
			writeError(w, http.StatusConflict, "no_active_offer", "entry has no offer to confirm")
			return
		}

		appt, err := svc.Create(r.Context(), scheduling.CreateRequest{
			ProviderID:   *entry.OfferProviderID,
			PatientID:    entry.PatientID,
			Start:        *entry.OfferStart,
			Type:         entry.Type,
			FromWaitlist: true,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		if _, err := waitlist.Confirm(r.Context(), entryID); err != nil {
			// The booking stands; report the entry state problem.
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}
