package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and the
// simulator. Conditional updates mirror the semantics of the postgres
// implementation: a guard miss surfaces as not-found.
type MemoryRepository struct {
	mu sync.RWMutex

	patients     map[uuid.UUID]Patient
	providers    map[uuid.UUID]Provider
	blocks       map[uuid.UUID][]TemplateBlock
	exceptions   map[uuid.UUID][]AvailabilityException
	appointments map[uuid.UUID]Appointment
	series       map[uuid.UUID]RecurrenceSeries
	entries      map[uuid.UUID]WaitingListEntry
	entryOrder   []uuid.UUID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		providers:    make(map[uuid.UUID]Provider),
		blocks:       make(map[uuid.UUID][]TemplateBlock),
		exceptions:   make(map[uuid.UUID][]AvailabilityException),
		appointments: make(map[uuid.UUID]Appointment),
		series:       make(map[uuid.UUID]RecurrenceSeries),
		entries:      make(map[uuid.UUID]WaitingListEntry),
	}
}

// PutPatient and PutProvider seed directory records; the engine itself never
// creates them.
func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) PutProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListActiveProviders(_ context.Context) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.providers {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) ListTemplateBlocks(_ context.Context, providerID uuid.UUID) ([]TemplateBlock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TemplateBlock(nil), r.blocks[providerID]...), nil
}

func (r *MemoryRepository) CreateTemplateBlock(_ context.Context, block TemplateBlock) (*TemplateBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	r.blocks[block.ProviderID] = append(r.blocks[block.ProviderID], block)
	return &block, nil
}

func (r *MemoryRepository) ListExceptions(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AvailabilityException
	for _, exc := range r.exceptions[providerID] {
		if !exc.Date.Before(from) && exc.Date.Before(to) {
			out = append(out, exc)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateException(_ context.Context, exc AvailabilityException) (*AvailabilityException, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exc.ID == uuid.Nil {
		exc.ID = uuid.New()
	}
	r.exceptions[exc.ProviderID] = append(r.exceptions[exc.ProviderID], exc)
	return &exc, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListProviderAppointments(_ context.Context, providerID uuid.UUID, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ProviderID != providerID || !statusIn(a.Status, statuses) {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if !statusIn(a.Status, statuses) {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) ListPatientAppointments(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortByStart(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindOverlapping(_ context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Appointment
	for _, a := range r.appointments {
		if a.ProviderID != providerID || a.ID == excludeID || !IsBusyStatus(a.Status) {
			continue
		}
		if a.StartTime.Before(end) && start.Before(a.EndTime) {
			a := a
			if found == nil || a.StartTime.Before(found.StartTime) {
				found = &a
			}
		}
	}
	if found == nil {
		return nil, ErrAppointmentNotFound
	}
	return found, nil
}

func (r *MemoryRepository) FindPatientOverlapping(_ context.Context, patientID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Appointment
	for _, a := range r.appointments {
		if a.PatientID != patientID || a.ID == excludeID || !IsBusyStatus(a.Status) {
			continue
		}
		if a.StartTime.Before(end) && start.Before(a.EndTime) {
			a := a
			if found == nil || a.StartTime.Before(found.StartTime) {
				found = &a
			}
		}
	}
	if found == nil {
		return nil, ErrAppointmentNotFound
	}
	return found, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, appt Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now
	r.appointments[appt.ID] = appt
	return &appt, nil
}

func (r *MemoryRepository) UpdateAppointmentWindow(_ context.Context, id uuid.UUID, start, end time.Time, seriesException bool) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.StartTime = start
	a.EndTime = end
	if seriesException {
		a.SeriesException = true
	}
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		a.CancelReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) CreateSeries(_ context.Context, series RecurrenceSeries) (*RecurrenceSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	series.CreatedAt = time.Now().UTC()
	r.series[series.ID] = series
	return &series, nil
}

func (r *MemoryRepository) GetSeriesByID(_ context.Context, id uuid.UUID) (*RecurrenceSeries, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) CreateWaitingListEntry(_ context.Context, entry WaitingListEntry) (*WaitingListEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	r.entries[entry.ID] = entry
	r.entryOrder = append(r.entryOrder, entry.ID)
	return &entry, nil
}

func (r *MemoryRepository) GetWaitingListEntry(_ context.Context, id uuid.UUID) (*WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListOpenEntriesMatching(_ context.Context, providerID uuid.UUID, start, end time.Time) ([]WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WaitingListEntry
	for _, id := range r.entryOrder {
		e := r.entries[id]
		if e.Status != WaitingOpen {
			continue
		}
		if e.ProviderID != nil && *e.ProviderID != providerID {
			continue
		}
		if start.Before(e.RangeStart) || end.After(e.RangeEnd) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateWaitingStatus(_ context.Context, id uuid.UUID, from, to WaitingStatus, offer *SlotOffer, offeredAt *time.Time) (*WaitingListEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return nil, ErrEntryNotFound
	}
	e.Status = to
	if offer != nil {
		pid := offer.ProviderID
		s, en := offer.Start, offer.End
		e.OfferProviderID, e.OfferStart, e.OfferEnd = &pid, &s, &en
	} else if to == WaitingOpen {
		e.OfferProviderID, e.OfferStart, e.OfferEnd, e.OfferedAt = nil, nil, nil, nil
	}
	if offeredAt != nil {
		t := *offeredAt
		e.OfferedAt = &t
	}
	e.UpdatedAt = time.Now().UTC()
	r.entries[id] = e
	return &e, nil
}

func (r *MemoryRepository) FindExpiredOffers(_ context.Context, cutoff time.Time) ([]WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WaitingListEntry
	for _, id := range r.entryOrder {
		e := r.entries[id]
		if e.Status == WaitingOffered && e.OfferedAt != nil && e.OfferedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log for assertions.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func statusIn(s AppointmentStatus, set []AppointmentStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
}
