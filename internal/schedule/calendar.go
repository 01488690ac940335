// Package schedule decides when outbound calls may run: a fixed weekly
// business calendar plus the per-outcome retry delay tables.
package schedule

import (
	"fmt"
	"time"
)

// DefaultTimezone is the civil timezone the calendar is evaluated in.
const DefaultTimezone = "Europe/Paris"

// Opening hours: Monday-Friday, 09:00-12:00 and 14:00-17:00.
const (
	morningOpen    = 9
	morningClose   = 12
	afternoonOpen  = 14
	afternoonClose = 17
)

// maxSearchSteps bounds the forward search to two weeks. Callers must not
// rely on correctness beyond this bound.
const maxSearchSteps = 14

// Calendar answers whether an instant falls inside the business window and
// computes the next serviceable instant. It is stateless and safe for
// concurrent use.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a calendar evaluated in the given IANA timezone.
func NewCalendar(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc}, nil
}

// MustCalendar is like NewCalendar but panics on error. For tests and
// known-good timezone names.
func MustCalendar(timezone string) *Calendar {
	c, err := NewCalendar(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether t falls inside the business window.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if !isWeekday(local.Weekday()) {
		return false
	}
	h := local.Hour()
	return (h >= morningOpen && h < morningClose) || (h >= afternoonOpen && h < afternoonClose)
}

// NextOpenTime returns the next instant at or after from+delay at which a
// call may be dispatched.
//
// With a zero delay an already-open instant is returned unchanged: a
// freshly queued item must not be pushed to the next slot merely because
// it arrived inside business hours. With a non-zero delay the result never
// lands in the window the delay was computed from, so a retry never fires
// in the same slot it just failed in.
func (c *Calendar) NextOpenTime(from time.Time, delay time.Duration) time.Time {
	target := from.In(c.loc)
	if delay > 0 {
		target = target.Add(delay)
	}

	if delay == 0 && c.IsOpen(target) {
		return target
	}

	for step := 0; step < maxSearchSteps; step++ {
		day := target.Weekday()
		hour := target.Hour()

		if !isWeekday(day) {
			// Saturday is two days from Monday, Sunday one.
			days := 1
			if day == time.Saturday {
				days = 2
			}
			return dayStart(target.AddDate(0, 0, days), c.loc)
		}

		switch {
		case hour < morningOpen:
			return dayStart(target, c.loc)
		case hour < morningClose:
			if delay == 0 {
				return target
			}
			// Delayed reschedule: skip the rest of the morning slot.
			return slotStart(target, afternoonOpen, c.loc)
		case hour < afternoonOpen:
			return slotStart(target, afternoonOpen, c.loc)
		case hour < afternoonClose:
			if delay == 0 {
				return target
			}
			// Skip to the next day and re-check, it may be a weekend.
			target = dayStart(target.AddDate(0, 0, 1), c.loc)
		default:
			target = dayStart(target.AddDate(0, 0, 1), c.loc)
		}
	}

	return target
}

func isWeekday(d time.Weekday) bool {
	return d >= time.Monday && d <= time.Friday
}

// dayStart returns 09:00 on t's day.
func dayStart(t time.Time, loc *time.Location) time.Time {
	return slotStart(t, morningOpen, loc)
}

func slotStart(t time.Time, hour int, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
}
