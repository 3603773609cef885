package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ProviderDay holds one provider's windows for a single day.
type ProviderDay struct {
	ProviderID   uuid.UUID
	ProviderName string
	Busy         []Window
	Free         []Window
	Exceptions   []Window
}

type DayView struct {
	Date      time.Time
	Providers map[uuid.UUID]*ProviderDay
}

type CalendarView struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	Days        []DayView
}

// ViewBuilder projects appointments and availability into calendar views.
// Pure read; a view is a best-effort snapshot, never a lock.
type ViewBuilder struct {
	repo Repository
}

func NewViewBuilder(repo Repository) *ViewBuilder {
	return &ViewBuilder{repo: repo}
}

// BuildView aggregates the inclusive day range [from, to] for one provider
// (scope set) or the whole clinic (scope nil). Granularity snaps the range:
// day keeps it as given, week widens to Monday–Sunday, month to the full
// calendar months touched.
func (b *ViewBuilder) BuildView(ctx context.Context, scope *uuid.UUID, from, to time.Time, granularity Granularity) (*CalendarView, error) {
	firstDay, lastDay, err := snapRange(from, to, granularity)
	if err != nil {
		return nil, err
	}

	var providers []Provider
	if scope != nil {
		p, err := b.repo.GetProviderByID(ctx, *scope)
		if err != nil {
			return nil, fmt.Errorf("load provider: %w", err)
		}
		providers = []Provider{*p}
	} else {
		providers, err = b.repo.ListActiveProviders(ctx)
		if err != nil {
			return nil, fmt.Errorf("list providers: %w", err)
		}
	}

	rangeEnd := lastDay.AddDate(0, 0, 1)

	view := &CalendarView{From: firstDay, To: lastDay, Granularity: granularity}
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		view.Days = append(view.Days, DayView{Date: day, Providers: make(map[uuid.UUID]*ProviderDay)})
	}

	for _, provider := range providers {
		blocks, err := b.repo.ListTemplateBlocks(ctx, provider.ID)
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		exceptions, err := b.repo.ListExceptions(ctx, provider.ID, firstDay, rangeEnd)
		if err != nil {
			return nil, fmt.Errorf("load exceptions: %w", err)
		}
		appts, err := b.repo.ListProviderAppointments(ctx, provider.ID, firstDay, rangeEnd, BusyStatuses)
		if err != nil {
			return nil, fmt.Errorf("load appointments: %w", err)
		}

		for i := range view.Days {
			day := view.Days[i].Date
			pd := &ProviderDay{ProviderID: provider.ID, ProviderName: provider.Name}

			for _, appt := range appts {
				if DateOf(appt.StartTime).Equal(day) {
					pd.Busy = append(pd.Busy, Window{Start: appt.StartTime, End: appt.EndTime})
				}
			}

			free := dailyAvailability(day, blocks, exceptions)
			for _, busy := range pd.Busy {
				free = subtractWindow(free, busy)
			}
			pd.Free = free

			for _, exc := range exceptions {
				if DateOf(exc.Date).Equal(day) && exc.Kind != ExceptionExtraHours {
					pd.Exceptions = append(pd.Exceptions, Window{
						Start: minuteOfDay(day, exc.StartMinute),
						End:   minuteOfDay(day, exc.EndMinute),
					})
				}
			}

			view.Days[i].Providers[provider.ID] = pd
		}
	}

	return view, nil
}

func snapRange(from, to time.Time, granularity Granularity) (time.Time, time.Time, error) {
	firstDay := DateOf(from.UTC())
	lastDay := DateOf(to.UTC())
	if lastDay.Before(firstDay) {
		return time.Time{}, time.Time{}, invalidf("date range", "end before start")
	}

	switch granularity {
	case GranularityDay:
	case GranularityWeek:
		firstDay = startOfWeek(firstDay)
		lastDay = startOfWeek(lastDay).AddDate(0, 0, 6)
	case GranularityMonth:
		firstDay = time.Date(firstDay.Year(), firstDay.Month(), 1, 0, 0, 0, 0, time.UTC)
		lastDay = time.Date(lastDay.Year(), lastDay.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}, time.Time{}, invalidf("granularity", "unknown granularity %q", granularity)
	}
	return firstDay, lastDay, nil
}
