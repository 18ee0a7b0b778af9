package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventdir/internal/catalog"
	"eventdir/internal/cleanup"
	"eventdir/internal/config"
	"eventdir/internal/directory"
	"eventdir/internal/model"
	"eventdir/internal/store"
)

var testNow = time.Date(2012, 6, 1, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func newTestServer(t *testing.T, cfg *config.Config, sched bool) (*Server, *directory.Directory) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Timezone = "UTC"
	}
	s := store.NewMemory()
	c := catalog.New(s, catalog.Options{Now: clock})
	d := directory.New(s, c, directory.Options{Name: "Events", Now: clock})

	opts := Options{Config: cfg, Now: clock}
	if sched {
		opts.Cleanup = cleanup.New(d, func() bool { return true })
	}
	return NewServer(d, opts), d
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

// publish creates an event through the API and walks it to published.
func publish(t *testing.T, h http.Handler, rule string) eventDTO {
	t.Helper()
	start := time.Date(2012, 6, 2, 10, 0, 0, 0, time.UTC)
	rec := do(t, h, http.MethodPost, "/api/events", eventDTO{
		Title:      "Choir",
		Location:   "Hall",
		Start:      start,
		End:        start.Add(2 * time.Hour),
		Recurrence: rule,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	ev := decode[eventDTO](t, rec)

	for _, action := range []string{"submit", "publish"} {
		rec = do(t, h, http.MethodPost, "/api/events/"+ev.ID+"/"+action, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", action, rec.Code, rec.Body.String())
		}
	}
	return decode[eventDTO](t, rec)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	ev := publish(t, h, "RRULE:FREQ=DAILY;COUNT=3")
	if ev.State != "published" {
		t.Fatalf("state = %q", ev.State)
	}
	if ev.Timezone != "UTC" {
		t.Fatalf("timezone should default to config, got %q", ev.Timezone)
	}

	rec := do(t, h, http.MethodGet, "/api/count?state=published", nil)
	if got := decode[map[string]any](t, rec)["count"]; got != float64(3) {
		t.Fatalf("published count = %v, want 3", got)
	}

	rec = do(t, h, http.MethodGet, "/api/events?start=2012-06-02&end=2012-06-03", nil)
	list := decode[eventsResponse](t, rec)
	if list.Total != 2 || len(list.Occurrences) != 2 {
		t.Fatalf("bounded list: total %d, items %d", list.Total, len(list.Occurrences))
	}
	first := list.Occurrences[0]
	if first.EventID != ev.ID || first.DateLabel != "Tomorrow" || first.TimeLabel != "10:00 - 12:00" {
		t.Fatalf("first occurrence: %+v", first)
	}
	if !strings.HasPrefix(first.ID, "2012.06.02-10:00;") {
		t.Fatalf("identity = %q", first.ID)
	}

	rec = do(t, h, http.MethodGet, "/api/events?range=bogus&offset=1&limit=1", nil)
	list = decode[eventsResponse](t, rec)
	if list.Range != "this_month" || list.Total != 3 || len(list.Occurrences) != 1 {
		t.Fatalf("fallback range: %+v", list)
	}
	if want := time.Date(2012, 6, 3, 10, 0, 0, 0, time.UTC); !list.Occurrences[0].Start.Equal(want) {
		t.Fatalf("offset 1 start = %v, want %v", list.Occurrences[0].Start, want)
	}

	rec = do(t, h, http.MethodGet, "/api/events?date=2012-06-03", nil)
	list = decode[eventsResponse](t, rec)
	if list.Offset != 1 || len(list.Occurrences) != 2 {
		t.Fatalf("date jump: offset %d, items %d", list.Offset, len(list.Occurrences))
	}

	rec = do(t, h, http.MethodPost, "/api/events/"+ev.ID+"/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/count?state=published", nil)
	if got := decode[map[string]any](t, rec)["count"]; got != float64(0) {
		t.Fatalf("count after archive = %v", got)
	}

	rec = do(t, h, http.MethodDelete, "/api/events/"+ev.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/events/"+ev.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"untracked state", http.MethodGet, "/api/events?state=preview", nil, http.StatusBadRequest},
		{"untracked count", http.MethodGet, "/api/count?state=hidden", nil, http.StatusBadRequest},
		{"bad start", http.MethodGet, "/api/events?start=yesterday&end=2012-06-03", nil, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/events", "{", http.StatusBadRequest},
		{"missing title", http.MethodPost, "/api/events", eventDTO{Start: testNow, End: testNow}, http.StatusBadRequest},
		{"blank title", http.MethodPost, "/api/events", eventDTO{Title: "  ", Start: testNow, End: testNow}, http.StatusBadRequest},
		{"end before start", http.MethodPost, "/api/events", eventDTO{Title: "x", Start: testNow, End: testNow.Add(-time.Hour)}, http.StatusBadRequest},
		{"unknown state", http.MethodPost, "/api/events", eventDTO{Title: "x", Start: testNow, End: testNow, State: "deleted"}, http.StatusBadRequest},
		{"bad end alone", http.MethodGet, "/api/events?end=soon", nil, http.StatusBadRequest},
		{"unknown event", http.MethodPost, "/api/events/nope/publish", nil, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/events/nope", nil, http.StatusNotFound},
		{"cleanup disabled", http.MethodPost, "/api/cleanup", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestValidationMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	rec := do(t, srv.Handler(), http.MethodPost, "/api/events", eventDTO{Title: "x", Start: testNow})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "end is a required field") {
		t.Fatalf("message should name the field: %s", body)
	}
}

func TestSingleBound(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()
	publish(t, h, "RRULE:FREQ=DAILY;COUNT=3")

	tests := []struct {
		query string
		total int
	}{
		{"start=2012-06-03", 2},
		{"end=2012-06-02", 1},
		{"start=2012-06-05", 0},
		{"start=2012-06-02&end=2012-06-04", 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/events?"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			list := decode[eventsResponse](t, rec)
			if list.Total != tt.total {
				t.Fatalf("total = %d, want %d", list.Total, tt.total)
			}
			if list.RangeStart == nil || list.RangeEnd == nil {
				t.Fatal("effective bounds should be reported")
			}
		})
	}
}

func TestTransitionConflict(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	ev := publish(t, h, "")
	rec := do(t, h, http.MethodPost, "/api/events/"+ev.ID+"/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("submit published: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/events/"+ev.ID+"/hide", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("hide non-imported: %d", rec.Code)
	}
}

func TestExport(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()
	publish(t, h, "RRULE:FREQ=WEEKLY;COUNT=2")

	rec := do(t, h, http.MethodGet, "/api/export.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if n := strings.Count(body, "BEGIN:VEVENT"); n != 2 {
		t.Fatalf("got %d VEVENTs, want 2", n)
	}

	rec = do(t, h, http.MethodGet, "/api/export.ics?search=nomatch", nil)
	if strings.Contains(rec.Body.String(), "BEGIN:VEVENT") {
		t.Fatal("search should filter every event")
	}
}

func TestCleanupDryRun(t *testing.T) {
	srv, d := newTestServer(t, nil, true)
	h := srv.Handler()

	stale, err := d.Create(context.Background(), draftEvent())
	if err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodPost, "/api/cleanup?force=1", nil)
	resp := decode[cleanupResponse](t, rec)
	if !resp.Ran || resp.Report == nil || !resp.Report.DryRun {
		t.Fatalf("forced dry run: %+v", resp)
	}
	if resp.NextRun.IsZero() {
		t.Fatal("next run should be scheduled")
	}
	if _, err := d.Get(context.Background(), stale.ID); err != nil {
		t.Fatalf("dry run removed the event: %v", err)
	}
}

func draftEvent() *model.Event {
	return &model.Event{
		Title:    "Draft",
		Start:    testNow.Add(-72 * time.Hour),
		End:      testNow.Add(-71 * time.Hour),
		Timezone: "UTC",
	}
}

func TestRanges(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/ranges", nil)
	ranges := decode[[]rangeDTO](t, rec)
	if len(ranges) == 0 || ranges[0].Name != "today" {
		t.Fatalf("ranges = %+v", ranges)
	}
	if !ranges[0].Start.Before(ranges[0].End) {
		t.Fatalf("today range is empty: %+v", ranges[0])
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv, _ := newTestServer(t, cfg, false)
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should bypass auth: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/count", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing credentials: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/count", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid credentials: %d", rec.Code)
	}
}
