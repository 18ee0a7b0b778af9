package dates

import (
	"time"
)

// HumanDate labels a date relative to now: "Today", "Tomorrow", or the
// weekday with the date, adding the year outside the current year.
func HumanDate(date, now time.Time) string {
	date = date.In(now.Location())
	today := Midnight(now)

	switch {
	case SameDay(date, today):
		return "Today"
	case SameDay(date, today.AddDate(0, 0, 1)):
		return "Tomorrow"
	case date.Year() == now.Year():
		return date.Weekday().String() + " " + date.Format("02.01")
	default:
		return date.Weekday().String() + " " + date.Format("02.01.2006")
	}
}

// HumanDateRange renders start and end as a compact label. Ranges shorter
// than a day only show the times.
func HumanDateRange(start, end, now time.Time) string {
	if end.Sub(start) < 24*time.Hour {
		return start.Format("15:04") + " - " + end.Format("15:04")
	}
	if now.Year() == start.Year() {
		return start.Format("02.01 15:04") + " - " + end.Format("02.01 15:04")
	}
	return start.Format("02.01.2006 15:04") + " - " + end.Format("02.01.2006 15:04")
}
