package scheduling

import (
	"time"
)

// DefaultMaxSeriesInstances caps expansion so a series can never generate
// an unbounded instance set.
const DefaultMaxSeriesInstances = 366

// Expander turns a recurrence series into concrete candidate windows. It
// books nothing itself; the scheduler attempts each candidate independently.
type Expander struct {
	maxInstances int
}

func NewExpander(maxInstances int) *Expander {
	if maxInstances <= 0 {
		maxInstances = DefaultMaxSeriesInstances
	}
	return &Expander{maxInstances: maxInstances}
}

// Expand generates the candidate windows of the series in order. A series
// must be bounded by either a count or an until-date; explicit exception
// dates are dropped from the output after counting, never rescheduled.
func (e *Expander) Expand(series RecurrenceSeries) ([]Window, error) {
	if err := e.validate(series); err != nil {
		return nil, err
	}

	duration, _ := DurationFor(series.Type)

	var occurrences []time.Time
	switch series.Frequency {
	case FreqDaily:
		occurrences = e.expandDaily(series)
	case FreqWeekly:
		occurrences = e.expandWeekly(series)
	case FreqMonthly:
		occurrences = e.expandMonthly(series)
	}

	if len(occurrences) > e.maxInstances {
		return nil, &SeriesBoundsError{Max: e.maxInstances}
	}

	excluded := make(map[time.Time]bool, len(series.ExceptionDates))
	for _, d := range series.ExceptionDates {
		excluded[DateOf(d)] = true
	}

	windows := make([]Window, 0, len(occurrences))
	for _, start := range occurrences {
		if excluded[DateOf(start)] {
			continue
		}
		windows = append(windows, Window{Start: start, End: start.Add(duration)})
	}
	return windows, nil
}

func (e *Expander) validate(series RecurrenceSeries) error {
	if _, ok := DurationFor(series.Type); !ok {
		return invalidf("appointment type", "unknown type %q", series.Type)
	}
	if series.Interval < 1 {
		return invalidf("interval", "must be at least 1")
	}
	switch series.Frequency {
	case FreqDaily, FreqWeekly, FreqMonthly:
	default:
		return invalidf("frequency", "unknown frequency %q", series.Frequency)
	}
	if series.Count == nil && series.Until == nil {
		return invalidf("termination", "series requires a count or an until date")
	}
	if series.Count != nil && series.Until != nil {
		return invalidf("termination", "count and until are mutually exclusive")
	}
	if series.Count != nil {
		if *series.Count < 1 {
			return invalidf("count", "must be at least 1")
		}
		if *series.Count > e.maxInstances {
			return &SeriesBoundsError{Max: e.maxInstances}
		}
	}
	if series.Until != nil && series.Until.Before(series.StartTime) {
		return invalidf("until", "before series start")
	}
	return nil
}

// done reports whether the series bound has been reached, either by the
// generated count or by an occurrence falling past until.
func (e *Expander) done(series RecurrenceSeries, generated int, occ time.Time) bool {
	if series.Count != nil {
		return generated >= *series.Count
	}
	return occ.After(*series.Until)
}

func (e *Expander) expandDaily(series RecurrenceSeries) []time.Time {
	var out []time.Time
	for occ := series.StartTime; ; occ = occ.AddDate(0, 0, series.Interval) {
		if e.done(series, len(out), occ) || len(out) > e.maxInstances {
			break
		}
		out = append(out, occ)
	}
	return out
}

func (e *Expander) expandWeekly(series RecurrenceSeries) []time.Time {
	weekdays := series.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{series.StartTime.Weekday()}
	}
	onWeekday := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		onWeekday[wd] = true
	}

	clock := series.StartTime.Sub(DateOf(series.StartTime))
	week0 := startOfWeek(series.StartTime)

	var out []time.Time
	for day := DateOf(series.StartTime); ; day = day.AddDate(0, 0, 1) {
		if !onWeekday[day.Weekday()] {
			continue
		}
		weeks := int(day.Sub(week0).Hours()) / (24 * 7)
		if weeks%series.Interval != 0 {
			continue
		}
		occ := day.Add(clock)
		if occ.Before(series.StartTime) {
			continue
		}
		if e.done(series, len(out), occ) || len(out) > e.maxInstances {
			break
		}
		out = append(out, occ)
	}
	return out
}

func (e *Expander) expandMonthly(series RecurrenceSeries) []time.Time {
	start := series.StartTime
	year, month, day := start.Date()
	clock := start.Sub(DateOf(start))

	var out []time.Time
	for m := 0; ; m += series.Interval {
		y, mo := addMonths(year, month, m)
		if daysInMonth(y, mo) < day {
			// months without this day-of-month are skipped, not shifted
			if series.Until != nil && time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC).After(*series.Until) {
				break
			}
			continue
		}
		occ := time.Date(y, mo, day, 0, 0, 0, 0, time.UTC).Add(clock)
		if e.done(series, len(out), occ) || len(out) > e.maxInstances {
			break
		}
		out = append(out, occ)
	}
	return out
}

// startOfWeek returns midnight UTC of the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	day := DateOf(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	m := int(month) - 1 + n
	return year + m/12, time.Month(m%12 + 1)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
