package dates

import (
	"time"
)

// Ranges computes the named date ranges relative to a fixed "now".
type Ranges struct {
	Now         time.Time
	ThisMorning time.Time
	ThisEvening time.Time
}

// NewRanges anchors all named ranges at now, in now's location.
func NewRanges(now time.Time) Ranges {
	morning := Midnight(now)
	return Ranges{
		Now:         now,
		ThisMorning: morning,
		ThisEvening: morning.AddDate(0, 0, 1).Add(-Microsecond),
	}
}

func (r Ranges) Today() (time.Time, time.Time) {
	return r.ThisMorning, r.ThisEvening
}

func (r Ranges) Tomorrow() (time.Time, time.Time) {
	return r.ThisMorning.AddDate(0, 0, 1), r.ThisEvening.AddDate(0, 0, 1)
}

func (r Ranges) DayAfterTomorrow() (time.Time, time.Time) {
	return r.ThisMorning.AddDate(0, 0, 2), r.ThisEvening.AddDate(0, 0, 2)
}

func (r Ranges) ThisWeekend() (time.Time, time.Time) {
	return ThisWeekend(r.Now)
}

func (r Ranges) NextWeekend() (time.Time, time.Time) {
	start, end := ThisWeekend(r.Now)
	return start.AddDate(0, 0, 7), end.AddDate(0, 0, 7)
}

// ThisWeek runs from this morning through the Sunday evening at least two
// days away, so the range always spans more than two days.
func (r Ranges) ThisWeek() (time.Time, time.Time) {
	return r.ThisMorning, NextWeekday(r.ThisEvening.AddDate(0, 0, 2), time.Sunday)
}

// NextWeek starts the Monday after ThisWeek's Sunday and ends the Sunday after that.
func (r Ranges) NextWeek() (time.Time, time.Time) {
	sunday := NextWeekday(r.ThisMorning.AddDate(0, 0, 2), time.Sunday)
	start := Midnight(sunday.AddDate(0, 0, 1))
	end := NextWeekday(start, time.Sunday).AddDate(0, 0, 1).Add(-Microsecond)
	return start, end
}

func (r Ranges) ThisMonth() (time.Time, time.Time) {
	return ThisMonth(r.Now)
}

func (r Ranges) NextMonth() (time.Time, time.Time) {
	_, end := ThisMonth(r.Now)
	return ThisMonth(end.Add(Microsecond))
}

func (r Ranges) ThisYear() (time.Time, time.Time) {
	return ThisYear(r.Now)
}

func (r Ranges) NextYear() (time.Time, time.Time) {
	_, end := ThisYear(r.Now)
	return ThisYear(end.Add(Microsecond))
}

func (r Ranges) ThisAndNextYear() (time.Time, time.Time) {
	start, _ := r.ThisYear()
	_, end := r.NextYear()
	return start, end
}

// NamedRange is one entry of the static range table.
type NamedRange struct {
	Name  string
	Label string
	Range func(Ranges) (time.Time, time.Time)
}

// NamedRanges lists the selectable ranges in display order.
var NamedRanges = []NamedRange{
	{"today", "Today", Ranges.Today},
	{"tomorrow", "Tomorrow", Ranges.Tomorrow},
	{"day_after_tomorrow", "Day after Tomorrow", Ranges.DayAfterTomorrow},
	{"this_weekend", "This Weekend", Ranges.ThisWeekend},
	{"next_weekend", "Next Weekend", Ranges.NextWeekend},
	{"this_week", "This Week", Ranges.ThisWeek},
	{"next_week", "Next Week", Ranges.NextWeek},
	{"this_month", "This Month", Ranges.ThisMonth},
	{"next_month", "Next Month", Ranges.NextMonth},
	{"this_year", "This Year", Ranges.ThisYear},
	{"next_year", "Next Year", Ranges.NextYear},
	{"this_and_next_year", "This and next Year", Ranges.ThisAndNextYear},
}

var rangesByName = func() map[string]NamedRange {
	m := make(map[string]NamedRange, len(NamedRanges))
	for _, nr := range NamedRanges {
		m[nr.Name] = nr
	}
	return m
}()

// IsValidRange reports whether name is a known named range.
func IsValidRange(name string) bool {
	_, ok := rangesByName[name]
	return ok
}

// Range returns the bounds of the named range and whether it exists.
func (r Ranges) Range(name string) (time.Time, time.Time, bool) {
	nr, ok := rangesByName[name]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, end := nr.Range(r)
	return start, end, true
}

// Overlaps reports whether [start, end] overlaps the named range. Unknown
// names never overlap.
func (r Ranges) Overlaps(name string, start, end time.Time) bool {
	s, e, ok := r.Range(name)
	if !ok {
		return false
	}
	return Overlaps(s, e, start, end)
}

func (r Ranges) IsToday(start, end time.Time) bool      { return r.Overlaps("today", start, end) }
func (r Ranges) IsTomorrow(start, end time.Time) bool   { return r.Overlaps("tomorrow", start, end) }
func (r Ranges) IsThisWeek(start, end time.Time) bool   { return r.Overlaps("this_week", start, end) }
func (r Ranges) IsNextWeek(start, end time.Time) bool   { return r.Overlaps("next_week", start, end) }
func (r Ranges) IsThisMonth(start, end time.Time) bool  { return r.Overlaps("this_month", start, end) }
func (r Ranges) IsNextMonth(start, end time.Time) bool  { return r.Overlaps("next_month", start, end) }
func (r Ranges) IsThisYear(start, end time.Time) bool   { return r.Overlaps("this_year", start, end) }
func (r Ranges) IsNextYear(start, end time.Time) bool   { return r.Overlaps("next_year", start, end) }
func (r Ranges) IsThisWeekend(start, end time.Time) bool { return r.Overlaps("this_weekend", start, end) }
func (r Ranges) IsNextWeekend(start, end time.Time) bool { return r.Overlaps("next_weekend", start, end) }

func (r Ranges) IsDayAfterTomorrow(start, end time.Time) bool {
	return r.Overlaps("day_after_tomorrow", start, end)
}

// IsOver reports whether the range ended before now.
func (r Ranges) IsOver(_, end time.Time) bool {
	return end.Before(r.Now)
}
