// Package ical converts between directory events and iCalendar data.
package ical

import (
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"eventdir/internal/model"
)

const productID = "-//eventdir//events directory//EN"

// Export renders occurrences as a published calendar. Every occurrence
// becomes its own VEVENT; recurrence has already been expanded.
func Export(name string, occurrences []model.Occurrence, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, o := range occurrences {
		ev := o.Event()
		if ev == nil {
			continue
		}

		vevent := cal.AddEvent(occurrenceUID(o))
		vevent.SetDtStampTime(now.UTC())
		if !ev.Modified.IsZero() {
			vevent.SetModifiedAt(ev.Modified.UTC())
		}

		if ev.WholeDay {
			start := o.LocalStart()
			vevent.SetAllDayStartAt(start)
			// DTEND of a whole day event is exclusive
			vevent.SetAllDayEndAt(o.LocalEnd().AddDate(0, 0, 1))
		} else {
			vevent.SetStartAt(o.Start)
			vevent.SetEndAt(o.End)
		}

		vevent.SetSummary(ev.Title)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vevent.SetLocation(ev.Location)
		}
		if cats := categories(ev); cats != "" {
			vevent.SetProperty(ics.ComponentPropertyCategories, cats)
		}
	}

	return cal.Serialize()
}

// occurrenceUID is stable for the same occurrence across exports.
func occurrenceUID(o model.Occurrence) string {
	return o.EventID() + "-" + o.Start.UTC().Format("20060102T1504Z") + "@eventdir"
}

func categories(ev *model.Event) string {
	var out []string
	for _, key := range []string{"cat1", "cat2"} {
		out = append(out, ev.Categories[key]...)
	}
	return strings.Join(out, ",")
}
