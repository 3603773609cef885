package api

import (
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func calendarHandler(builder *scheduling.ViewBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var scope *uuid.UUID
		if raw := q.Get("scope"); raw != "" && raw != "clinic" {
			id, ok := parseUUIDParam(w, raw, "scope")
			if !ok {
				return
			}
			scope = &id
		}

		from, ok := parseTimestamp(w, q.Get("from"), "from")
		if !ok {
			return
		}
		to, ok := parseTimestamp(w, q.Get("to"), "to")
		if !ok {
			return
		}

		granularity := scheduling.Granularity(q.Get("granularity"))
		if granularity == "" {
			granularity = scheduling.GranularityDay
		}

		view, err := builder.BuildView(r.Context(), scope, from, to, granularity)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := CalendarResponse{
			From:        view.From,
			To:          view.To,
			Granularity: string(view.Granularity),
			Days:        make([]CalendarDayResponse, 0, len(view.Days)),
		}
		for _, day := range view.Days {
			dayResp := CalendarDayResponse{Date: day.Date.Format("2006-01-02")}
			for _, pd := range day.Providers {
				dayResp.Providers = append(dayResp.Providers, ProviderDayResponse{
					ProviderID:   pd.ProviderID,
					ProviderName: pd.ProviderName,
					Busy:         toWindows(pd.Busy),
					Free:         toWindows(pd.Free),
					Exceptions:   toWindows(pd.Exceptions),
				})
			}
			sort.Slice(dayResp.Providers, func(i, j int) bool {
				return dayResp.Providers[i].ProviderName < dayResp.Providers[j].ProviderName
			})
			resp.Days = append(resp.Days, dayResp)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
