package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Allocator computes bookable windows as a pure projection over the current
// store state. Nothing is cached; every call reflects a live snapshot.
type Allocator struct {
	repo Repository
}

func NewAllocator(repo Repository) *Allocator {
	return &Allocator{repo: repo}
}

// ComputeSlots returns candidate windows of exactly duration for the
// provider across the inclusive day range [from, to], ordered by start time.
// A zero duration falls back to the template's own grid, the finest
// slot_minutes across the provider's blocks. Days without a template entry
// yield no slots. A deactivated provider yields no slots.
func (a *Allocator) ComputeSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time, duration time.Duration) ([]Window, error) {
	if duration < 0 {
		return nil, invalidf("duration", "must not be negative")
	}

	provider, err := a.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return nil, nil
	}

	firstDay := DateOf(from.UTC())
	lastDay := DateOf(to.UTC())
	if lastDay.Before(firstDay) {
		return nil, invalidf("date range", "end before start")
	}

	blocks, err := a.repo.ListTemplateBlocks(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if duration == 0 {
		duration = templateGrid(blocks)
		if duration == 0 {
			return nil, invalidf("duration", "required for a provider without a weekly template")
		}
	}

	rangeEnd := lastDay.AddDate(0, 0, 1)
	exceptions, err := a.repo.ListExceptions(ctx, providerID, firstDay, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}

	busy, err := a.repo.ListProviderAppointments(ctx, providerID, firstDay, rangeEnd, BusyStatuses)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	var slots []Window
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		free := dailyAvailability(day, blocks, exceptions)
		for _, appt := range busy {
			free = subtractWindow(free, Window{Start: appt.StartTime, End: appt.EndTime})
		}
		slots = append(slots, sliceWindows(free, duration)...)
	}

	return slots, nil
}

// dailyAvailability builds the free windows for one day from the weekly
// template and that day's exceptions, before appointments are subtracted.
func dailyAvailability(day time.Time, blocks []TemplateBlock, exceptions []AvailabilityException) []Window {
	var open []Window
	for _, b := range blocks {
		if b.Weekday != day.Weekday() {
			continue
		}
		open = append(open, Window{
			Start: minuteOfDay(day, b.StartMinute),
			End:   minuteOfDay(day, b.EndMinute),
		})
	}

	for _, exc := range exceptions {
		if !DateOf(exc.Date).Equal(day) || exc.Kind != ExceptionExtraHours {
			continue
		}
		open = append(open, Window{
			Start: minuteOfDay(day, exc.StartMinute),
			End:   minuteOfDay(day, exc.EndMinute),
		})
	}

	open = mergeWindows(open)

	for _, exc := range exceptions {
		if !DateOf(exc.Date).Equal(day) || exc.Kind == ExceptionExtraHours {
			continue
		}
		open = subtractWindow(open, Window{
			Start: minuteOfDay(day, exc.StartMinute),
			End:   minuteOfDay(day, exc.EndMinute),
		})
	}

	return open
}

// templateGrid returns the finest slot length configured across the blocks,
// or zero when there are none.
func templateGrid(blocks []TemplateBlock) time.Duration {
	grid := 0
	for _, b := range blocks {
		if grid == 0 || b.SlotMinutes < grid {
			grid = b.SlotMinutes
		}
	}
	return time.Duration(grid) * time.Minute
}

// DateOf truncates a time to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func minuteOfDay(day time.Time, minute int) time.Time {
	return day.Add(time.Duration(minute) * time.Minute)
}

// mergeWindows sorts windows and coalesces overlapping or touching ones.
func mergeWindows(ws []Window) []Window {
	if len(ws) < 2 {
		return ws
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })

	merged := []Window{ws[0]}
	for _, w := range ws[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// subtractWindow removes busy from every free window, splitting where the
// busy window falls in the middle.
func subtractWindow(free []Window, busy Window) []Window {
	if !busy.End.After(busy.Start) {
		return free
	}

	var out []Window
	for _, w := range free {
		if !w.Overlaps(busy) {
			out = append(out, w)
			continue
		}
		if busy.Start.After(w.Start) {
			out = append(out, Window{Start: w.Start, End: busy.Start})
		}
		if busy.End.Before(w.End) {
			out = append(out, Window{Start: busy.End, End: w.End})
		}
	}
	return out
}

// sliceWindows cuts each free window into contiguous windows of exactly
// duration, discarding trailing fragments shorter than duration.
func sliceWindows(free []Window, duration time.Duration) []Window {
	var out []Window
	for _, w := range free {
		for start := w.Start; !start.Add(duration).After(w.End); start = start.Add(duration) {
			out = append(out, Window{Start: start, End: start.Add(duration)})
		}
	}
	return out
}
