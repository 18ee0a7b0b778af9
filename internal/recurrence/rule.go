package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"eventdir/internal/dates"
	"eventdir/internal/model"
)

// Error reports a recurrence text that could not be compiled.
type Error struct {
	Rule string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recurrence %q: %v", e.Rule, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAmbiguousDay is returned when an event produces more than one
// occurrence starting on the same calendar day.
var ErrAmbiguousDay = errors.New("recurrence: more than one occurrence on the same day")

// Compile builds the recurrence set of text anchored at dtstart. The
// text holds one RRULE line, optionally followed by EXDATE and RDATE
// lines. A bare "FREQ=..." line is read as an RRULE.
func Compile(text string, dtstart time.Time) (*rrule.Set, error) {
	set, err := compile(text, dtstart)
	if err != nil {
		return nil, &Error{Rule: text, Err: err}
	}
	return set, nil
}

func compile(text string, dtstart time.Time) (*rrule.Set, error) {
	loc := dtstart.Location()
	set := &rrule.Set{}

	var hasRule, hasDates bool
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			name, value = "RRULE", line
		}
		params := strings.Split(name, ";")
		key := strings.ToUpper(strings.TrimSpace(params[0]))

		lineLoc := loc
		for _, p := range params[1:] {
			k, v, ok := strings.Cut(p, "=")
			if ok && strings.EqualFold(k, "TZID") {
				lineLoc = model.LoadLocation(v)
			}
		}

		switch key {
		case "RRULE":
			if hasRule {
				return nil, errors.New("more than one RRULE")
			}
			opt, err := rrule.StrToROptionInLocation(value, loc)
			if err != nil {
				return nil, err
			}
			opt.Dtstart = dtstart
			r, err := rrule.NewRRule(*opt)
			if err != nil {
				return nil, err
			}
			set.RRule(r)
			hasRule = true
		case "EXDATE", "RDATE":
			for _, v := range strings.Split(value, ",") {
				t, err := parseDate(strings.TrimSpace(v), lineLoc, dtstart)
				if err != nil {
					return nil, err
				}
				if key == "EXDATE" {
					set.ExDate(t)
				} else {
					set.RDate(t)
					hasDates = true
				}
			}
		case "DTSTART":
			// the event's own start anchors the rule
		default:
			return nil, fmt.Errorf("unsupported property %q", key)
		}
	}

	switch {
	case hasRule:
	case hasDates:
		set.RDate(dtstart)
	default:
		return nil, errors.New("no RRULE or RDATE")
	}
	return set, nil
}

// parseDate reads an EXDATE/RDATE value. Date-only values take the
// wall clock of dtstart so they line up with generated instances.
func parseDate(v string, loc *time.Location, dtstart time.Time) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("20060102T150405", v, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("20060102", v, loc); err == nil {
		local := dtstart.In(loc)
		return dates.Localize(t.Year(), t.Month(), t.Day(), local.Hour(), local.Minute(), local.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

// Validate compiles text against a fixed anchor and reports any error.
func Validate(text string) error {
	if text == "" {
		return nil
	}
	_, err := Compile(text, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	return err
}

// OccurrencesOverLimit reports whether text produces more than limit
// instances from start. Iteration stops at limit+1, so unbounded rules
// return true quickly.
func OccurrencesOverLimit(text string, start time.Time, limit int) (bool, error) {
	set, err := Compile(text, start)
	if err != nil {
		return false, err
	}

	next := set.Iterator()
	count := 0
	for {
		if _, ok := next(); !ok {
			return false, nil
		}
		count++
		if count > limit {
			return true, nil
		}
	}
}
