// Package calendar does working-day arithmetic on ISO dates.
package calendar

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates
const DateLayout = "2006-01-02"

// MaxLeaveSpan bounds a single leave request
const MaxLeaveSpan = 366

var half = decimal.NewFromFloat(0.5)

// ParseDate parses a YYYY-MM-DD date as UTC midnight
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats t as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsWeekend reports whether t falls on Saturday or Sunday
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Range is an inclusive span of dates
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange parses and validates an inclusive date range
func ParseRange(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, err
	}
	if e.Before(s) {
		return Range{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return Range{Start: s, End: e}, nil
}

// Days returns the number of calendar days in the range
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// WorkingDays counts weekdays in r that are not holidays. A half-day request
// counts 0.5 and is only valid for a single working day.
func WorkingDays(r Range, holidays map[string]bool, halfDay bool) (decimal.Decimal, error) {
	if r.Days() > MaxLeaveSpan {
		return decimal.Zero, fmt.Errorf("range spans %d days, maximum is %d", r.Days(), MaxLeaveSpan)
	}
	if halfDay && !r.Start.Equal(r.End) {
		return decimal.Zero, fmt.Errorf("half day requests must start and end on the same date")
	}

	count := 0
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		if IsWeekend(d) || holidays[FormatDate(d)] {
			continue
		}
		count++
	}

	if halfDay && count == 1 {
		return half, nil
	}
	return decimal.NewFromInt(int64(count)), nil
}

// WeekStart is the first day of a timesheet week
type WeekStart string

const (
	WeekStartMonday WeekStart = "monday"
	WeekStartSunday WeekStart = "sunday"
)

// Week returns the seven-day range containing t
func Week(t time.Time, start WeekStart) Range {
	first := time.Monday
	if start == WeekStartSunday {
		first = time.Sunday
	}
	offset := (int(t.Weekday()) - int(first) + 7) % 7
	s := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return Range{Start: s, End: s.AddDate(0, 0, 6)}
}

// YearBounds returns the first and last date of a year
func YearBounds(year int) (string, string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year)
}
