// Package recurrence expands stored events into concrete occurrences and
// splits occurrences that span several days.
package recurrence

import (
	"errors"
	"time"

	"eventdir/internal/dates"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
)

// maxOccurrencesPerEvent caps a single expansion. The query window bounds
// every expansion already; this catches rules like FREQ=MINUTELY.
const maxOccurrencesPerEvent = 5000

// Occurrences returns the occurrences of ev overlapping [from, to], ordered
// by start. Non-recurring events yield at most one occurrence.
func Occurrences(ev *model.Event, from, to time.Time) ([]model.Occurrence, error) {
	if to.Before(from) {
		return nil, nil
	}

	if !ev.IsRecurring() {
		if !dates.Overlaps(ev.Start, ev.End, from, to) {
			return nil, nil
		}
		return []model.Occurrence{model.NewOccurrence(ev, ev.Start, ev.End)}, nil
	}

	loc := ev.Loc()
	set, err := Compile(ev.Recurrence, ev.Start.In(loc))
	if err != nil {
		return nil, err
	}

	duration := ev.End.Sub(ev.Start)
	lower := from.Add(-duration)

	out := make([]model.Occurrence, 0)
	next := set.Iterator()
	for {
		start, ok := next()
		if !ok || start.After(to) {
			break
		}
		if start.Before(lower) {
			continue
		}
		end := start.Add(duration)
		if !dates.Overlaps(start, end, from, to) {
			continue
		}
		if len(out) == maxOccurrencesPerEvent {
			appLog.Error("recurrence: truncated occurrences", errors.New("max occurrences reached"),
				"event", ev.ID,
				"cap", maxOccurrencesPerEvent,
			)
			break
		}
		out = append(out, model.NewOccurrence(ev, start, end))
	}
	return out, nil
}

// Expand returns the occurrences of ev overlapping [from, to], split into
// days. Splits outside the window are dropped.
func Expand(ev *model.Event, from, to time.Time) ([]model.Occurrence, error) {
	occurrences, err := Occurrences(ev, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]model.Occurrence, 0, len(occurrences))
	for _, o := range occurrences {
		for _, split := range SplitDays(o) {
			if dates.Overlaps(split.Start, split.End, from, to) {
				out = append(out, split)
			}
		}
	}
	return out, nil
}

// PickOccurrence returns the occurrence of ev whose local start falls on
// the calendar date of day, or nil if there is none.
func PickOccurrence(ev *model.Event, day time.Time) (*model.Occurrence, error) {
	loc := ev.Loc()
	dayStart := dates.Localize(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dates.EndOfDay(dayStart)

	occurrences, err := Occurrences(ev, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	var picked *model.Occurrence
	for i := range occurrences {
		start := occurrences[i].Start
		if start.Before(dayStart) || start.After(dayEnd) {
			continue
		}
		if picked != nil {
			return nil, ErrAmbiguousDay
		}
		picked = &occurrences[i]
	}
	return picked, nil
}

// HasFutureOccurrences reports whether ev starts at or after reference,
// either itself or through one of its recurrences. Only the first
// matching instance is generated.
func HasFutureOccurrences(ev *model.Event, reference time.Time) (bool, error) {
	if !ev.IsRecurring() {
		return !ev.Start.Before(reference), nil
	}

	set, err := Compile(ev.Recurrence, ev.Start.In(ev.Loc()))
	if err != nil {
		return false, err
	}
	return !set.After(reference, true).IsZero(), nil
}

// SplitDays returns one occurrence per local calendar day touched by o.
// The first split keeps the true start and the last keeps the true end;
// the others span whole days. Every split carries the unsplit bounds.
// Occurrences within a single day, and splits, are returned unchanged.
func SplitDays(o model.Occurrence) []model.Occurrence {
	if o.IsSplit() {
		return []model.Occurrence{o}
	}

	start, end := o.LocalStart(), o.LocalEnd()
	if !dates.Midnight(start).AddDate(0, 0, 1).Before(end) {
		return []model.Occurrence{o}
	}

	out := make([]model.Occurrence, 0, dates.DaysBetween(start, end)+1)
	for s := start; ; {
		next := dates.Midnight(s).AddDate(0, 0, 1)
		last := !next.Before(end)

		e := end
		if !last {
			e = next.Add(-dates.Microsecond)
		}

		split := model.NewOccurrence(o.Event(), s, e)
		split.UnsplitStart = o.Start
		split.UnsplitEnd = o.End
		out = append(out, split)

		if last {
			return out
		}
		s = next
	}
}
