package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"eventdir/internal/catalog"
	"eventdir/internal/cleanup"
	"eventdir/internal/config"
	"eventdir/internal/dates"
	"eventdir/internal/directory"
	"eventdir/internal/ical"
	"eventdir/internal/index"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
	"eventdir/internal/store"
	"eventdir/internal/validation"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	defaultRange = "this_month"
)

// Server provides the HTTP API of one directory.
type Server struct {
	cfg     *config.Config
	dir     *directory.Directory
	cleanup *cleanup.Scheduler
	loc     *time.Location
	now     func() time.Time
	mux     *chi.Mux
}

// Options configure a Server. A nil Cleanup disables /api/cleanup.
type Options struct {
	Config  *config.Config
	Cleanup *cleanup.Scheduler
	Now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(dir *directory.Directory, opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:     cfg,
		dir:     dir,
		cleanup: opts.Cleanup,
		loc:     model.LoadLocation(cfg.Timezone),
		now:     opts.Now,
		mux:     chi.NewRouter(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.mux)
	}
	return s.mux
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	// empty credentials disable auth
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventdir", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.Use(chimw.RequestID, chimw.Recoverer)

	s.mux.Get("/health", s.handleHealth)
	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Post("/events", s.handleCreate)
		r.Get("/events/{id}", s.handleEvent)
		r.Delete("/events/{id}", s.handleDelete)
		r.Post("/events/{id}/{action}", s.handleAction)
		r.Get("/count", s.handleCount)
		r.Get("/ranges", s.handleRanges)
		r.Get("/export.ics", s.handleExport)
		r.Post("/cleanup", s.handleCleanup)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	State       model.State     `json:"state"`
	Range       string          `json:"range,omitempty"`
	RangeStart  *time.Time      `json:"range_start,omitempty"`
	RangeEnd    *time.Time      `json:"range_end,omitempty"`
	Total       int             `json:"total"`
	Offset      int             `json:"offset"`
	Limit       int             `json:"limit"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// occurrenceDTO is a JSON-friendly view of an indexed occurrence.
type occurrenceDTO struct {
	ID         string              `json:"id"`
	EventID    string              `json:"event_id"`
	Title      string              `json:"title" validate:"required"`
	Location   string              `json:"location,omitempty"`
	Categories map[string][]string `json:"categories,omitempty"`
	WholeDay   bool                `json:"whole_day"`
	Recurring  bool                `json:"recurring"`
	Split      bool                `json:"split"`
	Start      time.Time           `json:"start" validate:"required"`
	End        time.Time           `json:"end" validate:"required,gtefield=Start"`

	DateLabel      string   `json:"date_label"`
	TimeLabel      string   `json:"time_label"`
	DateCategories []string `json:"date_categories"`
}

// eventDTO is the stored event as exchanged over the API.
type eventDTO struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Location    string              `json:"location,omitempty"`
	Categories  map[string][]string `json:"categories,omitempty"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	Timezone    string              `json:"timezone,omitempty"`
	WholeDay    bool                `json:"whole_day"`
	Recurrence  string              `json:"recurrence,omitempty"`
	State       model.State         `json:"state,omitempty" validate:"omitempty,oneof=preview submitted published archived archived_permanently hidden"`
	External    bool                `json:"external"`
	Modified    time.Time           `json:"modified"`
	Actions     []directory.Action  `json:"actions,omitempty"`
}

func toEventDTO(ev *model.Event) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Categories:  ev.Categories,
		Start:       ev.Start,
		End:         ev.End,
		Timezone:    ev.Timezone,
		WholeDay:    ev.WholeDay,
		Recurrence:  ev.Recurrence,
		State:       ev.State,
		External:    ev.External,
		Modified:    ev.Modified,
		Actions:     directory.Actions(ev),
	}
}

func (d eventDTO) toModel() *model.Event {
	return &model.Event{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		Categories:  d.Categories,
		Start:       d.Start,
		End:         d.End,
		Timezone:    d.Timezone,
		WholeDay:    d.WholeDay,
		Recurrence:  d.Recurrence,
		State:       d.State,
	}
}

func (s *Server) toOccurrenceDTO(o model.Occurrence, ranges dates.Ranges) occurrenceDTO {
	ev := o.Event()
	start, end := o.DisplayBounds()
	now := ranges.Now

	dto := occurrenceDTO{
		ID:             string(index.IdentityOf(o)),
		EventID:        ev.ID,
		Title:          ev.Title,
		Location:       ev.Location,
		Categories:     ev.Categories,
		WholeDay:       ev.WholeDay,
		Recurring:      ev.IsRecurring(),
		Split:          o.IsSplit(),
		Start:          o.Start,
		End:            o.End,
		DateLabel:      dates.HumanDate(o.LocalStart(), now.In(o.LocalStart().Location())),
		TimeLabel:      dates.HumanDateRange(start, end, now.In(start.Location())),
		DateCategories: ranges.DateCategories(nil, o.Start, o.End),
	}
	if ev.WholeDay {
		dto.TimeLabel = ""
	}
	if dto.DateCategories == nil {
		dto.DateCategories = []string{}
	}
	return dto
}

// handleEvents lists indexed occurrences of one state.
//
// GET /api/events?state=published&range=this_week&offset=0&limit=50
//   - state: tracked workflow state (default published)
//   - range: named date range, unknown names fall back to this_month
//   - start/end: explicit bounds (RFC 3339 or YYYY-MM-DD), override range
//   - date: without range or offset, start the page at the first
//     occurrence on that day
//
// Without range or bounds all indexed occurrences are listed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	state := stateParam(q.Get("state"))
	ranges := dates.NewRanges(s.now().In(s.loc))

	resp := eventsResponse{State: state}

	var start, end time.Time
	switch {
	case q.Get("start") != "" || q.Get("end") != "":
		// a missing bound falls back to the edge of the indexed window
		start, end = s.dir.Catalog().Window()
		var err error
		if v := q.Get("start"); v != "" {
			if start, err = s.parseTime(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid start")
				return
			}
		}
		if v := q.Get("end"); v != "" {
			if end, err = s.parseTime(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid end")
				return
			}
			if isDate(v) {
				end = dates.EndOfDay(end)
			}
		}
	case q.Get("range") != "":
		name := q.Get("range")
		if !dates.IsValidRange(name) {
			name = defaultRange
		}
		start, end, _ = ranges.Range(name)
		resp.Range = name
	}
	if !start.IsZero() && !end.IsZero() {
		resp.RangeStart, resp.RangeEnd = &start, &end
	}

	offset := parseIntDefault(q.Get("offset"), 0)
	if day := q.Get("date"); day != "" && q.Get("offset") == "" && start.IsZero() {
		t, err := s.parseTime(day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		if offset, err = s.dir.Catalog().OffsetOf(state, t); err != nil {
			s.writeCatalogError(w, err)
			return
		}
	}
	if offset < 0 {
		offset = 0
	}
	limit := parseIntDefault(q.Get("limit"), defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	resp.Offset, resp.Limit = offset, limit

	list, err := s.dir.Catalog().List(ctx, state, start, end)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	resp.Total = list.Len()

	occurrences, err := list.Slice(offset, offset+limit)
	if err != nil {
		appLog.Error("api events: resolve failed", err, "state", state)
		writeError(w, http.StatusInternalServerError, "failed to resolve events")
		return
	}

	resp.Occurrences = make([]occurrenceDTO, 0, len(occurrences))
	for _, o := range occurrences {
		resp.Occurrences = append(resp.Occurrences, s.toOccurrenceDTO(o, ranges))
	}

	appLog.Debug("api events request",
		"state", state,
		"range", resp.Range,
		"total", resp.Total,
		"offset", offset,
		"limit", limit,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	state := stateParam(r.URL.Query().Get("state"))
	if !s.dir.Catalog().Tracked(state) {
		s.writeCatalogError(w, catalog.ErrUntracked)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": state,
		"count": s.dir.Catalog().Count(state),
	})
}

type rangeDTO struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) handleRanges(w http.ResponseWriter, _ *http.Request) {
	ranges := dates.NewRanges(s.now().In(s.loc))
	out := make([]rangeDTO, 0, len(dates.NamedRanges))
	for _, nr := range dates.NamedRanges {
		start, end := nr.Range(ranges)
		out = append(out, rangeDTO{Name: nr.Name, Label: nr.Label, Start: start, End: end})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExport renders matching events as text/calendar.
//
// GET /api/export.ics?state=published&search=choir&cat1=music&cat1=dance
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := store.Query{Search: q.Get("search")}
	if st := q.Get("state"); st != "" {
		query.States = []model.State{model.State(st)}
	}
	for _, key := range []string{"cat1", "cat2"} {
		if vs := q[key]; len(vs) > 0 {
			if query.Categories == nil {
				query.Categories = make(map[string][]string)
			}
			query.Categories[key] = vs
		}
	}

	occurrences, err := s.dir.Catalog().Export(r.Context(), query)
	if err != nil {
		appLog.Error("api export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ical.Export(s.dir.Name(), occurrences, s.now())))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.dir.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req eventDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := req.toModel()
	if ev.Timezone == "" {
		ev.Timezone = s.cfg.Timezone
	}

	created, err := s.dir.Create(r.Context(), ev)
	if err != nil {
		s.writeDirectoryError(w, err)
		return
	}
	appLog.Info("api event created", "id", created.ID, "state", created.State)
	writeJSON(w, http.StatusCreated, toEventDTO(created))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := directory.Action(chi.URLParam(r, "action"))

	ev, err := s.dir.Do(r.Context(), id, action)
	if err != nil {
		s.writeDirectoryError(w, err)
		return
	}
	appLog.Info("api event transition", "id", id, "action", action, "state", ev.State)
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.dir.Get(r.Context(), id); err != nil {
		s.writeDirectoryError(w, err)
		return
	}
	if err := s.dir.Delete(r.Context(), id); err != nil {
		s.writeDirectoryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cleanupResponse struct {
	Ran     bool            `json:"ran"`
	NextRun time.Time       `json:"next_run"`
	Report  *cleanup.Report `json:"report,omitempty"`
}

// handleCleanup triggers a cleanup pass. Without run=1 it is a dry run;
// force=1 ignores the schedule.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup is not enabled on this instance")
		return
	}
	q := r.URL.Query()
	dryRun := q.Get("run") != "1"
	force := q.Get("force") == "1"

	report, ran := s.cleanup.Run(r.Context(), s.now().In(s.loc), dryRun, force)
	resp := cleanupResponse{Ran: ran, NextRun: s.cleanup.Scheduled()}
	if ran {
		resp.Report = &report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrUntracked) {
		writeError(w, http.StatusBadRequest, "state is not tracked")
		return
	}
	appLog.Error("api catalog error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeDirectoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, directory.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("api directory error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func stateParam(s string) model.State {
	if s == "" {
		return model.StatePublished
	}
	return model.State(s)
}

func isDate(s string) bool {
	return len(s) == len("2006-01-02") && !strings.Contains(s, "T")
}

func (s *Server) parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time")
	}
	if isDate(v) {
		return time.ParseInLocation("2006-01-02", v, s.loc)
	}
	return time.Parse(time.RFC3339, v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
