package core

import "time"

// PeriodWindow is one slot of a pool's schedule as produced by
// BuildPeriods, before it is persisted as a Period row.
type PeriodWindow struct {
	Number    int
	StartDate Date
	EndDate   Date
	Budget    Money
}

// BuildPeriods partitions the span starting at start into duration
// consecutive windows of the given unit, each carrying an equal share of
// the total. Windows are 1-indexed, chronologically ordered and
// non-overlapping:
//
//   - daily: window i covers the single day start+i.
//   - weekly: window i covers [start+7i, start+7i+6].
//   - monthly: window i starts at start with the month advanced by i
//     (day-of-month clamped to the target month's length) and ends the
//     day before window i+1 starts, so a first-of-month start yields
//     whole calendar months.
//
// A caller-supplied overall end date never participates here: windows are
// derived purely from start, unit and duration.
func BuildPeriods(start Date, unit PeriodUnit, duration int, total Money) ([]PeriodWindow, error) {
	if duration < 1 || duration > MaxDuration {
		return nil, ErrInvalidDuration
	}
	if !unit.Valid() {
		return nil, ErrInvalidPeriodUnit
	}
	if start.IsZero() {
		return nil, ErrInvalidDate
	}

	budget := SplitEven(total, duration)
	windows := make([]PeriodWindow, duration)
	for i := 0; i < duration; i++ {
		var ws, we Date
		switch unit {
		case Daily:
			ws = start.AddDays(i)
			we = ws
		case Weekly:
			ws = start.AddDays(7 * i)
			we = ws.AddDays(6)
		case Monthly:
			ws = addMonths(start, i)
			we = addMonths(start, i+1).AddDays(-1)
		}
		windows[i] = PeriodWindow{
			Number:    i + 1,
			StartDate: ws,
			EndDate:   we,
			Budget:    budget,
		}
	}
	return windows, nil
}

// addMonths advances the date by n months, clamping the day-of-month
// when the target month is shorter. A naive time.Date would normalize
// Jan 31 + 1 month into Mar 2/3 and invert the window.
func addMonths(d Date, n int) Date {
	y, m, day := d.Date()
	// day zero of the month after the target month is its last day
	last := time.Date(y, m+time.Month(n+1), 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return Date{Time: time.Date(y, m+time.Month(n), day, 0, 0, 0, 0, time.UTC)}
}

// DaysLate reports how many whole days past the period end a transaction
// date falls, rounding partial days up. Zero when the date is on or before
// the end.
func DaysLate(txDate, periodEnd Date) int {
	if !txDate.After(periodEnd.Time) {
		return 0
	}
	diff := txDate.Sub(periodEnd.Time)
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}
