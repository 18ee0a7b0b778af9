package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	appLog "eventdir/internal/log"
	"eventdir/internal/model"
)

// Parse reads the VEVENTs of an iCalendar payload as external events.
// Times without a TZID are read in defaultTZ. Overrides of single
// instances (RECURRENCE-ID) are skipped. Events that fail to parse are
// logged and skipped.
func Parse(body []byte, defaultTZ string) ([]*model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ical: empty body")
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ical: parse: %w", err)
	}

	events := make([]*model.Event, 0)
	for _, ve := range cal.Events() {
		if ve.GetProperty("RECURRENCE-ID") != nil {
			appLog.Warn("ical: skipping instance override", "uid", value(ve, ics.ComponentPropertyUniqueId))
			continue
		}
		ev, err := parseVEvent(ve, defaultTZ)
		if err != nil {
			appLog.Error("ical: vevent parse failed", err, "uid", value(ve, ics.ComponentPropertyUniqueId))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ical: parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ics.VEvent, defaultTZ string) (*model.Event, error) {
	uid := value(ve, ics.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, errors.New("missing UID")
	}

	ev := &model.Event{
		SourceID:    uid,
		External:    true,
		Title:       value(ve, ics.ComponentPropertySummary),
		Description: value(ve, ics.ComponentPropertyDescription),
		Location:    value(ve, ics.ComponentPropertyLocation),
		Timezone:    defaultTZ,
	}

	dtstart := ve.GetProperty(ics.ComponentPropertyDtStart)
	if dtstart == nil {
		return nil, errors.New("missing DTSTART")
	}
	if tz := param(dtstart, "TZID"); tz != "" {
		ev.Timezone = tz
	}
	loc := model.LoadLocation(ev.Timezone)

	// VALUE=DATE or no time part means a whole day event
	ev.WholeDay = strings.EqualFold(param(dtstart, "VALUE"), "DATE") || !strings.Contains(dtstart.Value, "T")

	start, err := parseTime(dtstart.Value, loc)
	if err != nil {
		return nil, fmt.Errorf("DTSTART: %w", err)
	}

	var end time.Time
	if dtend := ve.GetProperty(ics.ComponentPropertyDtEnd); dtend != nil {
		if end, err = parseTime(dtend.Value, loc); err != nil {
			return nil, fmt.Errorf("DTEND: %w", err)
		}
	}

	if ev.WholeDay {
		// stored whole days end at 23:59:59 of their last day
		if end.IsZero() || !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		end = end.Add(-time.Second)
	} else if end.IsZero() {
		end = start
	}
	ev.Start, ev.End = start.UTC(), end.UTC()

	ev.Recurrence = recurrenceText(ve)

	if cats := value(ve, ics.ComponentPropertyCategories); cats != "" {
		ev.Categories = map[string][]string{"cat1": splitList(cats)}
	}
	return ev, nil
}

// recurrenceText joins RRULE, RDATE and EXDATE lines, keeping TZIDs.
func recurrenceText(ve *ics.VEvent) string {
	var lines []string
	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil && p.Value != "" {
		lines = append(lines, "RRULE:"+p.Value)
	}
	for _, name := range []ics.ComponentProperty{"RDATE", "EXDATE"} {
		for _, p := range ve.GetProperties(name) {
			if p.Value == "" {
				continue
			}
			line := string(name)
			if tz := param(p, "TZID"); tz != "" {
				line += ";TZID=" + tz
			}
			lines = append(lines, line+":"+p.Value)
		}
	}
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "RRULE:") && !hasRDate(lines) {
		return ""
	}
	return strings.Join(lines, "\n")
}

func hasRDate(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "RDATE") {
			return true
		}
	}
	return false
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

func value(ve *ics.VEvent, p ics.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func param(p *ics.IANAProperty, name string) string {
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
