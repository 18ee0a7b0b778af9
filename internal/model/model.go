package model

import (
	"sync"
	"time"
)

// State is the workflow state of an event.
type State string

const (
	StatePreview             State = "preview"
	StateSubmitted           State = "submitted"
	StatePublished           State = "published"
	StateArchived            State = "archived"
	StateArchivedPermanently State = "archived_permanently"
	StateHidden              State = "hidden"
)

// Valid reports whether s is a known workflow state.
func (s State) Valid() bool {
	switch s {
	case StatePreview, StateSubmitted, StatePublished, StateArchived, StateArchivedPermanently, StateHidden:
		return true
	}
	return false
}

// Event is a stored directory item before recurrence expansion.
// Start and End are absolute instants; Timezone names the zone the
// event was entered in and is used for recurrence and day splitting.
type Event struct {
	ID          string
	Title       string `validate:"required"`
	Description string
	Location    string

	// Categories maps a category key (cat1, cat2) to its values.
	Categories map[string][]string

	Start    time.Time `validate:"required"`
	End      time.Time `validate:"required,gtefield=Start"`
	Timezone string
	WholeDay bool

	// Recurrence is an RFC 5545 rule such as "RRULE:FREQ=DAILY;COUNT=4",
	// optionally followed by EXDATE/RDATE lines. Empty for single events.
	Recurrence string

	State State `validate:"omitempty,oneof=preview submitted published archived archived_permanently hidden"`

	// External marks imported events; SourceID is their id at the source.
	External bool
	SourceID string

	Modified time.Time
}

// IsRecurring reports whether the event carries a recurrence rule.
func (e Event) IsRecurring() bool {
	return e.Recurrence != ""
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.Categories != nil {
		c.Categories = make(map[string][]string, len(e.Categories))
		for k, v := range e.Categories {
			c.Categories[k] = append([]string(nil), v...)
		}
	}
	return &c
}

var locations sync.Map

// Loc resolves the event's timezone, falling back to UTC for empty
// or unknown zone names.
func (e Event) Loc() *time.Location {
	return LoadLocation(e.Timezone)
}

// LoadLocation is time.LoadLocation with a process-wide cache and a UTC
// fallback for empty or unknown names.
func LoadLocation(name string) *time.Location {
	if name == "" || name == "UTC" || name == "utc" {
		return time.UTC
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// Occurrence is a single concrete instance of an event, after recurrence
// expansion and optional day splitting. Start and End are UTC.
type Occurrence struct {
	event *Event

	Start time.Time
	End   time.Time

	// UnsplitStart / UnsplitEnd hold the bounds before day splitting and
	// are zero for occurrences that were not split.
	UnsplitStart time.Time
	UnsplitEnd   time.Time
}

// NewOccurrence binds an occurrence to its owning event.
func NewOccurrence(ev *Event, start, end time.Time) Occurrence {
	return Occurrence{event: ev, Start: start.UTC(), End: end.UTC()}
}

// Event returns the owning event.
func (o Occurrence) Event() *Event { return o.event }

// EventID returns the owning event's id.
func (o Occurrence) EventID() string {
	if o.event == nil {
		return ""
	}
	return o.event.ID
}

// IsSplit reports whether the occurrence is one day of a longer occurrence.
func (o Occurrence) IsSplit() bool {
	return !o.UnsplitStart.IsZero()
}

// LocalStart returns the start in the event's timezone.
func (o Occurrence) LocalStart() time.Time { return o.Start.In(o.loc()) }

// LocalEnd returns the end in the event's timezone.
func (o Occurrence) LocalEnd() time.Time { return o.End.In(o.loc()) }

// DisplayBounds returns the bounds used for labels: the unsplit bounds
// for a split occurrence, the own bounds otherwise, both in local time.
func (o Occurrence) DisplayBounds() (time.Time, time.Time) {
	if o.IsSplit() {
		return o.UnsplitStart.In(o.loc()), o.UnsplitEnd.In(o.loc())
	}
	return o.LocalStart(), o.LocalEnd()
}

func (o Occurrence) loc() *time.Location {
	if o.event == nil {
		return time.UTC
	}
	return o.event.Loc()
}
