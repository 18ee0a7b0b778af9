// Package cleanup archives and removes events once they are over. It runs
// at most once a night and only on the instance allowed to clean up.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventdir/internal/dates"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
	"eventdir/internal/recurrence"
	"eventdir/internal/store"
)

const (
	// events count as past once they have been over for two days, so
	// they are over in every timezone
	pastAfter     = 2 * 24 * time.Hour
	staleAfter    = 2 * 24 * time.Hour
	archivedAfter = 30 * 24 * time.Hour
)

// Directory is what the cleanup job needs from the event directory.
type Directory interface {
	Query(ctx context.Context, q store.Query) ([]*model.Event, error)
	Delete(ctx context.Context, ids ...string) error
	Archive(ctx context.Context, ev *model.Event) error
}

// Report lists the ids affected by each step of one pass. In a dry run
// nothing was changed.
type Report struct {
	DryRun          bool              `json:"dry_run"`
	StalePreviews   []string          `json:"stale_previews"`
	Archived        []string          `json:"archived"`
	RemovedArchived []string          `json:"removed_archived"`
	RemovedImported []string          `json:"removed_imported"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Scheduler decides when the cleanup pass runs and runs it.
type Scheduler struct {
	dir     Directory
	capable func() bool

	// mu is held for a whole pass
	mu sync.Mutex

	nextMu  sync.Mutex
	nextRun time.Time
}

// New returns a scheduler for dir. capable reports whether this process
// is the one allowed to clean up; nil means never.
func New(dir Directory, capable func() bool) *Scheduler {
	if capable == nil {
		capable = func() bool { return false }
	}
	return &Scheduler{dir: dir, capable: capable}
}

// NextRun returns 00:30 of the day of now if now is before 00:30, and
// 00:30 of the following day otherwise.
func NextRun(now time.Time) time.Time {
	days := 1
	if now.Hour() < 1 && now.Minute() < 30 {
		days = 0
	}
	return dates.Localize(now.Year(), now.Month(), now.Day()+days, 0, 30, 0, 0, now.Location())
}

// Scheduled returns the time of the next pass, zero before the first Run.
func (s *Scheduler) Scheduled() time.Time {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	return s.nextRun
}

// due initializes the schedule on first use and, if a pass is due,
// advances it. It reports whether the pass should run.
func (s *Scheduler) due(now time.Time, force bool) bool {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	if s.nextRun.IsZero() {
		s.nextRun = NextRun(now)
	}
	if !now.After(s.nextRun) && !force {
		return false
	}
	s.nextRun = NextRun(now)
	return true
}

// Run executes a cleanup pass when it is due or force is set. The first
// call only schedules the next pass. Concurrent calls return at once
// without running. It reports whether a pass ran.
func (s *Scheduler) Run(ctx context.Context, now time.Time, dryRun, force bool) (Report, bool) {
	if !s.mu.TryLock() {
		return Report{}, false
	}
	defer s.mu.Unlock()

	if !s.capable() {
		return Report{}, false
	}

	if !s.due(now, force) {
		return Report{}, false
	}

	report := s.Cleanup(ctx, now, dryRun)
	appLog.Info("cleanup: next run scheduled", "next_run", s.Scheduled().Format(time.RFC3339))
	return report, true
}

// Cleanup runs every step in order. A failing step is logged and
// recorded; the remaining steps still run.
func (s *Scheduler) Cleanup(ctx context.Context, now time.Time, dryRun bool) Report {
	mode := "real"
	if dryRun {
		mode = "dry run"
	}
	appLog.Info("cleanup: starting", "mode", mode)

	report := Report{DryRun: dryRun, Errors: map[string]string{}}
	steps := []struct {
		name string
		run  func(context.Context, time.Time, bool) ([]string, error)
		ids  *[]string
	}{
		{"remove_stale_previews", s.RemoveStalePreviews, &report.StalePreviews},
		{"archive_past_events", s.ArchivePastEvents, &report.Archived},
		{"remove_archived_events", s.RemoveArchivedEvents, &report.RemovedArchived},
		{"remove_past_imported_events", s.RemovePastImportedEvents, &report.RemovedImported},
	}
	for _, step := range steps {
		ids, err := step.run(ctx, now, dryRun)
		*step.ids = ids
		if err != nil {
			appLog.Error("cleanup: step failed", err, "step", step.name)
			report.Errors[step.name] = err.Error()
		}
	}

	appLog.Info("cleanup: finished", "mode", mode, "failed_steps", len(report.Errors))
	return report
}

// RemoveStalePreviews deletes previews not modified for two days.
func (s *Scheduler) RemoveStalePreviews(ctx context.Context, now time.Time, dryRun bool) ([]string, error) {
	events, err := s.dir.Query(ctx, store.Query{
		States:         []model.State{model.StatePreview},
		ModifiedBefore: now.Add(-staleAfter),
	})
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, "stale previews", ids(events), dryRun)
}

// ArchivePastEvents archives native published events that have been over
// for two days and have no later occurrence.
func (s *Scheduler) ArchivePastEvents(ctx context.Context, now time.Time, dryRun bool) ([]string, error) {
	past := now.Add(-pastAfter)
	events, err := s.dir.Query(ctx, store.Query{
		States:    []model.State{model.StatePublished},
		External:  store.Bool(false),
		EndBefore: past,
	})
	if err != nil {
		return nil, err
	}

	events = withoutFuture(events, past)
	found := ids(events)
	if len(found) == 0 {
		appLog.Info("cleanup: no past events found")
		return nil, nil
	}
	appLog.Info("cleanup: archiving past events", "ids", found, "dry_run", dryRun)
	if dryRun {
		return found, nil
	}

	var (
		archived []string
		errs     []error
	)
	for _, ev := range events {
		if err := s.dir.Archive(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", ev.ID, err))
			continue
		}
		archived = append(archived, ev.ID)
	}
	return archived, errors.Join(errs...)
}

// RemoveArchivedEvents deletes native archived events that have been over
// for thirty days. Permanently archived events are kept.
func (s *Scheduler) RemoveArchivedEvents(ctx context.Context, now time.Time, dryRun bool) ([]string, error) {
	events, err := s.dir.Query(ctx, store.Query{
		States:    []model.State{model.StateArchived},
		External:  store.Bool(false),
		EndBefore: now.Add(-archivedAfter),
	})
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, "archived events", ids(events), dryRun)
}

// RemovePastImportedEvents deletes imported events in any state that have
// been over for two days and have no later occurrence.
func (s *Scheduler) RemovePastImportedEvents(ctx context.Context, now time.Time, dryRun bool) ([]string, error) {
	past := now.Add(-pastAfter)
	events, err := s.dir.Query(ctx, store.Query{
		External:  store.Bool(true),
		EndBefore: past,
	})
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, "past imported events", ids(withoutFuture(events, past)), dryRun)
}

func (s *Scheduler) remove(ctx context.Context, what string, found []string, dryRun bool) ([]string, error) {
	if len(found) == 0 {
		appLog.Info("cleanup: nothing to remove", "what", what)
		return nil, nil
	}
	appLog.Info("cleanup: removing", "what", what, "ids", found, "dry_run", dryRun)
	if dryRun {
		return found, nil
	}
	if err := s.dir.Delete(ctx, found...); err != nil {
		return nil, err
	}
	return found, nil
}

// withoutFuture drops recurring events with an occurrence at or after
// reference. Events with a broken rule are kept out of the result.
func withoutFuture(events []*model.Event, reference time.Time) []*model.Event {
	out := events[:0]
	for _, ev := range events {
		future, err := recurrence.HasFutureOccurrences(ev, reference)
		if err != nil {
			appLog.Error("cleanup: skipping event", err, "event", ev.ID)
			continue
		}
		if !future {
			out = append(out, ev)
		}
	}
	return out
}

func ids(events []*model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}
