package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Waitlist holds patients wanting a slot that does not currently exist and
// re-offers freed windows on cancellation, first added first offered.
type Waitlist struct {
	repo     Repository
	notifier Notifier
	offerTTL time.Duration
	log      zerolog.Logger
}

func NewWaitlist(repo Repository, notifier Notifier, offerTTL time.Duration, log zerolog.Logger) *Waitlist {
	return &Waitlist{
		repo:     repo,
		notifier: notifier,
		offerTTL: offerTTL,
		log:      log.With().Str("component", "waitlist").Logger(),
	}
}

type AddEntryRequest struct {
	PatientID  uuid.UUID
	ProviderID *uuid.UUID // nil means any provider
	RangeStart time.Time
	RangeEnd   time.Time
	Type       AppointmentType
}

// Add stores an open waiting-list entry.
func (w *Waitlist) Add(ctx context.Context, req AddEntryRequest) (*WaitingListEntry, error) {
	if _, ok := DurationFor(req.Type); !ok {
		return nil, invalidf("appointment type", "unknown type %q", req.Type)
	}
	start, end := req.RangeStart.UTC(), req.RangeEnd.UTC()
	if !end.After(start) {
		return nil, invalidf("date range", "end must be after start")
	}

	if _, err := w.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if req.ProviderID != nil {
		if _, err := w.repo.GetProviderByID(ctx, *req.ProviderID); err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load provider: %w", err)
		}
	}

	entry := WaitingListEntry{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		ProviderID: req.ProviderID,
		RangeStart: start,
		RangeEnd:   end,
		Type:       req.Type,
		Status:     WaitingOpen,
	}
	saved, err := w.repo.CreateWaitingListEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create waiting list entry: %w", err)
	}
	return saved, nil
}

// OnSlotFreed scans open entries matching the freed window and moves the
// earliest-added one to offered, emitting an offer event. It never books;
// the patient or staff confirms separately. Returns nil when no entry
// matched.
func (w *Waitlist) OnSlotFreed(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*WaitingListEntry, error) {
	candidates, err := w.repo.ListOpenEntriesMatching(ctx, providerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list open entries: %w", err)
	}

	now := time.Now().UTC()

	for _, entry := range candidates {
		want := mustDuration(entry.Type)
		if want > end.Sub(start) {
			continue
		}
		// The held window is trimmed to the entry's own duration.
		offer := &SlotOffer{ProviderID: providerID, Start: start, End: start.Add(want)}

		offered, err := w.repo.UpdateWaitingStatus(ctx, entry.ID, WaitingOpen, WaitingOffered, offer, &now)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				// Entry changed under us; try the next candidate.
				continue
			}
			return nil, fmt.Errorf("offer entry: %w", err)
		}

		// The event carries the trimmed window the entry actually holds,
		// not the full freed one.
		w.logEvent(ctx, offered.ID, EventSlotOffered, map[string]any{
			"provider_id": providerID.String(),
			"start":       offer.Start,
			"end":         offer.End,
		})
		w.notifier.Notify(ctx, Event{
			Type:       EventSlotOffered,
			EntryID:    &offered.ID,
			ProviderID: providerID,
			PatientID:  offered.PatientID,
			Start:      offer.Start,
			End:        offer.End,
		})
		return offered, nil
	}

	return nil, nil
}

// Confirm marks an offered entry fulfilled. The caller books the held
// window through the scheduler as a normal create.
func (w *Waitlist) Confirm(ctx context.Context, entryID uuid.UUID) (*WaitingListEntry, error) {
	entry, err := w.repo.GetWaitingListEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != WaitingOffered {
		return nil, invalidf("entry", "entry is %s, not offered", entry.Status)
	}

	fulfilled, err := w.repo.UpdateWaitingStatus(ctx, entry.ID, WaitingOffered, WaitingFulfilled, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fulfil entry: %w", err)
	}
	return fulfilled, nil
}

// ExpireOffers reverts offered entries whose hold has lapsed back to open,
// making them eligible for the next freed slot. Returns the revert count.
func (w *Waitlist) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-w.offerTTL)
	lapsed, err := w.repo.FindExpiredOffers(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find expired offers: %w", err)
	}

	reverted := 0
	for _, entry := range lapsed {
		if _, err := w.repo.UpdateWaitingStatus(ctx, entry.ID, WaitingOffered, WaitingOpen, nil, nil); err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			w.log.Warn().Err(err).Stringer("entry_id", entry.ID).Msg("revert expired offer")
			continue
		}
		reverted++
	}
	return reverted, nil
}

func (w *Waitlist) logEvent(ctx context.Context, entryID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}
	id := entryID
	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.repo.InsertEvent(ctx, ev); err != nil {
		w.log.Warn().Err(err).Str("event", eventType).Msg("insert event log")
	}
}
