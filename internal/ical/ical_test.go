package ical

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "time/tzdata"

	"eventdir/internal/model"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.org\r\n" +
	"SUMMARY:Choir\r\n" +
	"LOCATION:Hall\r\n" +
	"CATEGORIES:music,evening\r\n" +
	"DTSTART;TZID=Europe/Zurich:20120301T190000\r\n" +
	"DTEND;TZID=Europe/Zurich:20120301T210000\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE;TZID=Europe/Zurich:20120308T190000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:fair@example.org\r\n" +
	"SUMMARY:Fair\r\n" +
	"DTSTART;VALUE=DATE:20120610\r\n" +
	"DTEND;VALUE=DATE:20120612\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.org\r\n" +
	"RECURRENCE-ID;TZID=Europe/Zurich:20120315T190000\r\n" +
	"SUMMARY:Choir (moved)\r\n" +
	"DTSTART;TZID=Europe/Zurich:20120315T200000\r\n" +
	"DTEND;TZID=Europe/Zurich:20120315T220000\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	events, err := Parse([]byte(sample), "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (override skipped)", len(events))
	}

	choir := events[0]
	if choir.SourceID != "weekly@example.org" || !choir.External {
		t.Fatalf("unexpected source fields: %+v", choir)
	}
	if choir.Timezone != "Europe/Zurich" {
		t.Fatalf("timezone = %q", choir.Timezone)
	}
	if want := time.Date(2012, 3, 1, 18, 0, 0, 0, time.UTC); !choir.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", choir.Start, want)
	}
	if !strings.HasPrefix(choir.Recurrence, "RRULE:FREQ=WEEKLY;COUNT=4") {
		t.Fatalf("recurrence = %q", choir.Recurrence)
	}
	if !strings.Contains(choir.Recurrence, "EXDATE;TZID=Europe/Zurich:20120308T190000") {
		t.Fatalf("exdate lost: %q", choir.Recurrence)
	}
	if got := choir.Categories["cat1"]; len(got) != 2 || got[0] != "music" {
		t.Fatalf("categories = %v", got)
	}

	fair := events[1]
	if !fair.WholeDay {
		t.Fatal("fair should be a whole day event")
	}
	if want := time.Date(2012, 6, 11, 23, 59, 59, 0, time.UTC); !fair.End.Equal(want) {
		t.Fatalf("fair end = %v, want %v", fair.End, want)
	}
	if fair.Recurrence != "" {
		t.Fatalf("fair recurrence = %q", fair.Recurrence)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(nil, "UTC"); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestExport(t *testing.T) {
	ev := &model.Event{
		ID:         "e1",
		Title:      "Choir",
		Location:   "Hall",
		Timezone:   "Europe/Zurich",
		Categories: map[string][]string{"cat1": {"music"}},
	}
	start := time.Date(2012, 3, 1, 18, 0, 0, 0, time.UTC)
	occ := []model.Occurrence{
		model.NewOccurrence(ev, start, start.Add(2*time.Hour)),
		model.NewOccurrence(ev, start.AddDate(0, 0, 7), start.AddDate(0, 0, 7).Add(2*time.Hour)),
	}

	out := Export("Events", occ, start)
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 2 {
		t.Fatalf("got %d VEVENTs, want 2", n)
	}
	for _, want := range []string{"SUMMARY:Choir", "LOCATION:Hall", "CATEGORIES:music", "e1-20120301T1800Z@eventdir", "X-WR-CALNAME:Events"} {
		if !strings.Contains(out, want) {
			t.Fatalf("export lacks %q:\n%s", want, out)
		}
	}

	// the export parses back into single events
	events, err := Parse([]byte(out), "UTC")
	if err != nil {
		t.Fatalf("Parse(export): %v", err)
	}
	if len(events) != 2 || events[0].Recurrence != "" {
		t.Fatalf("round trip: %+v", events)
	}
	if !events[0].Start.Equal(start) {
		t.Fatalf("start = %v, want %v", events[0].Start, start)
	}
}

func TestLoaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	events, err := NewLoader(nil).Load(context.Background(), path, "UTC")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
}

func TestLoaderHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cal.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	l := NewLoader(srv.Client())
	events, err := l.Load(context.Background(), srv.URL+"/cal.ics", "UTC")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}

	if _, err := l.Load(context.Background(), srv.URL+"/missing", "UTC"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestLoaderTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		limit  int64
		tooBig bool
	}{
		{"exact fit", int64(len(sample)), false},
		{"one byte over", int64(len(sample)) - 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(srv.Client())
			l.maxBody = tt.limit
			_, err := l.Load(context.Background(), srv.URL, "UTC")
			if got := errors.Is(err, ErrTooLarge); got != tt.tooBig {
				t.Fatalf("ErrTooLarge = %v, want %v (err %v)", got, tt.tooBig, err)
			}
			if !tt.tooBig && err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/private.ics?token=x": "https://example.com/...(redacted)",
		"http://host":                             "http://host/...(redacted)",
		"nonsense":                                "ical://...(redacted)",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
