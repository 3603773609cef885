package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	ProviderID      string `json:"provider_id"`
	PatientID       string `json:"patient_id"`
	StartTime       string `json:"start_time"`
	AppointmentType string `json:"appointment_type"`
}

type RescheduleRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type RecurringRequest struct {
	ProviderID      string   `json:"provider_id"`
	PatientID       string   `json:"patient_id"`
	AppointmentType string   `json:"appointment_type"`
	Frequency       string   `json:"frequency"`
	Interval        int      `json:"interval"`
	Count           *int     `json:"count,omitempty"`
	Until           *string  `json:"until,omitempty"`
	Weekdays        []int    `json:"weekdays,omitempty"`
	ExceptionDates  []string `json:"exception_dates,omitempty"`
	StartTime       string   `json:"start_time"`
}

type WaitingListRequest struct {
	PatientID       string  `json:"patient_id"`
	ProviderID      *string `json:"provider_id,omitempty"`
	RangeStart      string  `json:"range_start"`
	RangeEnd        string  `json:"range_end"`
	AppointmentType string  `json:"appointment_type"`
}

type TemplateBlockRequest struct {
	Weekday     int `json:"weekday"`
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
	SlotMinutes int `json:"slot_minutes"`
}

type ExceptionRequest struct {
	Date        string `json:"date"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ProviderName    string     `json:"provider_name"`
	PatientName     string     `json:"patient_name"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Type            string     `json:"appointment_type"`
	Status          string     `json:"status"`
	RecurrenceID    *uuid.UUID `json:"recurrence_id,omitempty"`
	SeriesException bool       `json:"series_exception,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		PatientID:       a.PatientID,
		ProviderName:    a.ProviderName,
		PatientName:     a.PatientName,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Type:            string(a.Type),
		Status:          string(a.Status),
		RecurrenceID:    a.RecurrenceID,
		SeriesException: a.SeriesException,
		CancelReason:    a.CancelReason,
	}
}

type WindowResponse struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type SlotsResponse struct {
	ProviderID uuid.UUID        `json:"provider_id"`
	Slots      []WindowResponse `json:"slots"`
}

type InstanceFailureResponse struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Error     string    `json:"error"`
	Code      string    `json:"code"`
}

type SeriesResponse struct {
	SeriesID uuid.UUID                 `json:"series_id"`
	Booked   []AppointmentResponse     `json:"booked"`
	Failed   []InstanceFailureResponse `json:"failed"`
}

type TemplateBlockResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	Weekday     int       `json:"weekday"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	SlotMinutes int       `json:"slot_minutes"`
}

func toTemplateBlockResponse(b *scheduling.TemplateBlock) TemplateBlockResponse {
	return TemplateBlockResponse{
		ID:          b.ID,
		ProviderID:  b.ProviderID,
		Weekday:     int(b.Weekday),
		StartMinute: b.StartMinute,
		EndMinute:   b.EndMinute,
		SlotMinutes: b.SlotMinutes,
	}
}

type ExceptionResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	Date        string    `json:"date"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	Kind        string    `json:"kind"`
	Reason      string    `json:"reason,omitempty"`
}

func toExceptionResponse(e *scheduling.AvailabilityException) ExceptionResponse {
	return ExceptionResponse{
		ID:          e.ID,
		ProviderID:  e.ProviderID,
		Date:        e.Date.Format("2006-01-02"),
		StartMinute: e.StartMinute,
		EndMinute:   e.EndMinute,
		Kind:        string(e.Kind),
		Reason:      e.Reason,
	}
}

type SeriesDetailResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProviderID     uuid.UUID  `json:"provider_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Type           string     `json:"appointment_type"`
	Frequency      string     `json:"frequency"`
	Interval       int        `json:"interval"`
	Count          *int       `json:"count,omitempty"`
	Until          *time.Time `json:"until,omitempty"`
	Weekdays       []int      `json:"weekdays,omitempty"`
	ExceptionDates []string   `json:"exception_dates,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toSeriesDetailResponse(s *scheduling.RecurrenceSeries) SeriesDetailResponse {
	resp := SeriesDetailResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		PatientID:  s.PatientID,
		Type:       string(s.Type),
		Frequency:  string(s.Frequency),
		Interval:   s.Interval,
		Count:      s.Count,
		Until:      s.Until,
		StartTime:  s.StartTime,
		CreatedAt:  s.CreatedAt,
	}
	for _, wd := range s.Weekdays {
		resp.Weekdays = append(resp.Weekdays, int(wd))
	}
	for _, d := range s.ExceptionDates {
		resp.ExceptionDates = append(resp.ExceptionDates, d.Format("2006-01-02"))
	}
	return resp
}

type WaitingListEntryResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ProviderID      *uuid.UUID `json:"provider_id,omitempty"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	Type            string     `json:"appointment_type"`
	Status          string     `json:"status"`
	OfferProviderID *uuid.UUID `json:"offer_provider_id,omitempty"`
	OfferStart      *time.Time `json:"offer_start,omitempty"`
	OfferEnd        *time.Time `json:"offer_end,omitempty"`
}

func toEntryResponse(e *scheduling.WaitingListEntry) WaitingListEntryResponse {
	return WaitingListEntryResponse{
		ID:              e.ID,
		PatientID:       e.PatientID,
		ProviderID:      e.ProviderID,
		RangeStart:      e.RangeStart,
		RangeEnd:        e.RangeEnd,
		Type:            string(e.Type),
		Status:          string(e.Status),
		OfferProviderID: e.OfferProviderID,
		OfferStart:      e.OfferStart,
		OfferEnd:        e.OfferEnd,
	}
}

type ProviderDayResponse struct {
	ProviderID   uuid.UUID        `json:"provider_id"`
	ProviderName string           `json:"provider_name"`
	Busy         []WindowResponse `json:"busy"`
	Free         []WindowResponse `json:"free"`
	Exceptions   []WindowResponse `json:"exceptions"`
}

type CalendarDayResponse struct {
	Date      string                `json:"date"`
	Providers []ProviderDayResponse `json:"providers"`
}

type CalendarResponse struct {
	From        time.Time             `json:"from"`
	To          time.Time             `json:"to"`
	Granularity string                `json:"granularity"`
	Days        []CalendarDayResponse `json:"days"`
}

type ErrorResponse struct {
	Error      string     `json:"error"`
	Details    string     `json:"details,omitempty"`
	BlockingID *uuid.UUID `json:"blocking_appointment_id,omitempty"`
}

func toWindows(ws []scheduling.Window) []WindowResponse {
	out := make([]WindowResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, WindowResponse{StartTime: w.Start, EndTime: w.End})
	}
	return out
}
