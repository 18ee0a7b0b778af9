// Package dates holds the timezone and range arithmetic shared by the
// recurrence expander, the catalog and the cleanup job.
package dates

import (
	"time"
)

// Microsecond is the resolution used for inclusive range ends
// (23:59:59.999999).
const Microsecond = time.Microsecond

// DefaultWindowDays is the number of days from this morning in which
// events are visible.
const DefaultWindowDays = 365 * 2

// ToUTC converts t to UTC. time.Time always carries a location, so values
// built without an explicit zone are already UTC and pass through.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// AsTimezone reinterprets the wall clock of t in loc, keeping year, month,
// day, hour, minute, second and nanosecond.
func AsTimezone(t time.Time, loc *time.Location) time.Time {
	return Localize(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// Localize builds a wall-clock time in loc. Wall times inside a DST gap are
// shifted forward past the gap; ambiguous wall times keep the offset
// time.Date picks. It never fails.
func Localize(year int, month time.Month, day, hour, min, sec, nsec int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, min, sec, nsec, loc)
	// time.Date does not guarantee which side of a gap it lands on.
	if t.Hour() < hour && t.Day() == day {
		_, off1 := t.Zone()
		_, off2 := t.Add(2 * time.Hour).Zone()
		if off2 > off1 {
			t = t.Add(time.Duration(off2-off1) * time.Second)
		}
	}
	return t
}

// Overlaps reports whether the closed ranges [start, end] and
// [otherStart, otherEnd] intersect. Touching ranges overlap.
func Overlaps(start, end, otherStart, otherEnd time.Time) bool {
	if !otherStart.After(start) && !start.After(otherEnd) {
		return true
	}
	if !start.After(otherStart) && !otherStart.After(end) {
		return true
	}
	return false
}

// Midnight returns 00:00 of t's calendar day in t's location.
func Midnight(t time.Time) time.Time {
	return Localize(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59.999999 of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	return Midnight(t).AddDate(0, 0, 1).Add(-Microsecond)
}

// SameDay reports whether a and b fall on the same calendar day in their
// own locations.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween counts the calendar days from start's day to end's day,
// both read in start's location. 0 means the same day.
func DaysBetween(start, end time.Time) int {
	s := Midnight(start)
	e := Midnight(end.In(start.Location()))
	days := 0
	for s.Before(e) {
		s = s.AddDate(0, 0, 1)
		days++
	}
	return days
}

// EventRange returns the window in which events are visible: from this
// morning (in now's location) for the given number of days.
func EventRange(now time.Time, days int) (time.Time, time.Time) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	morning := Midnight(now)
	return morning, morning.AddDate(0, 0, days)
}

// NextWeekday returns date if it falls on wd, otherwise the next date that does.
func NextWeekday(date time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(date.Weekday()) + 7) % 7
	return date.AddDate(0, 0, diff)
}

// ThisWeekend returns Friday 16:00 through Sunday 23:59:59.999999 of the
// week containing reference. Saturdays and Sundays belong to the weekend
// that already started.
func ThisWeekend(reference time.Time) (time.Time, time.Time) {
	morning := Midnight(reference)

	var friday time.Time
	switch morning.Weekday() {
	case time.Saturday:
		friday = morning.AddDate(0, 0, -1)
	case time.Sunday:
		friday = morning.AddDate(0, 0, -2)
	default:
		friday = NextWeekday(morning, time.Friday)
	}

	start := Localize(friday.Year(), friday.Month(), friday.Day(), 16, 0, 0, 0, friday.Location())
	end := friday.AddDate(0, 0, 3).Add(-Microsecond)
	return start, end
}

// ThisMonth returns the first and the last instant of reference's month.
func ThisMonth(reference time.Time) (time.Time, time.Time) {
	start := Localize(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, reference.Location())
	return start, start.AddDate(0, 1, 0).Add(-Microsecond)
}

// ThisYear returns the first and the last instant of reference's year.
func ThisYear(reference time.Time) (time.Time, time.Time) {
	start := Localize(reference.Year(), time.January, 1, 0, 0, 0, 0, reference.Location())
	return start, start.AddDate(1, 0, 0).Add(-Microsecond)
}
