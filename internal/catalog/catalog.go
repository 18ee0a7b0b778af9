// Package catalog maintains one ordered identity index per tracked
// workflow state and keeps them in step with event changes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventdir/internal/dates"
	"eventdir/internal/index"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
	"eventdir/internal/recurrence"
	"eventdir/internal/store"
)

// DefaultStates are indexed unless configured otherwise.
var DefaultStates = []model.State{model.StateSubmitted, model.StatePublished}

// ErrUntracked is returned for queries on a state without an index.
var ErrUntracked = errors.New("catalog: state is not tracked")

// ErrStale is returned when an identity no longer matches its event.
var ErrStale = errors.New("catalog: identity does not resolve to an occurrence")

// Options configure a Catalog. Zero values select the defaults.
type Options struct {
	States     []model.State
	WindowDays int
	Location   *time.Location
	Now        func() time.Time
}

// Catalog owns the per-state indices of one directory.
type Catalog struct {
	store      store.Store
	states     []model.State
	indices    map[model.State]*index.Index
	windowDays int
	loc        *time.Location
	now        func() time.Time

	reindexMu sync.Mutex
}

// New creates a catalog with empty indices.
func New(s store.Store, opts Options) *Catalog {
	states := opts.States
	if len(states) == 0 {
		states = DefaultStates
	}
	c := &Catalog{
		store:      s,
		states:     append([]model.State(nil), states...),
		indices:    make(map[model.State]*index.Index, len(states)),
		windowDays: opts.WindowDays,
		loc:        opts.Location,
		now:        opts.Now,
	}
	if c.windowDays <= 0 {
		c.windowDays = dates.DefaultWindowDays
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	for _, st := range c.states {
		c.indices[st] = index.New(string(st))
	}
	return c
}

// States returns the tracked states.
func (c *Catalog) States() []model.State {
	return append([]model.State(nil), c.states...)
}

// Tracked reports whether state has an index.
func (c *Catalog) Tracked(state model.State) bool {
	_, ok := c.indices[state]
	return ok
}

// Index returns the index of state, or nil if it is not tracked.
func (c *Catalog) Index(state model.State) *index.Index {
	return c.indices[state]
}

// Window returns the span in which occurrences are indexed: from this
// morning for the configured number of days.
func (c *Catalog) Window() (time.Time, time.Time) {
	return dates.EventRange(c.now().In(c.loc), c.windowDays)
}

// Identities expands ev within the window and returns the identity of
// every day split.
func (c *Catalog) Identities(ev *model.Event) ([]index.Identity, error) {
	from, to := c.Window()
	occurrences, err := recurrence.Expand(ev, from, to)
	if err != nil {
		return nil, err
	}
	ids := make([]index.Identity, 0, len(occurrences))
	for _, o := range occurrences {
		ids = append(ids, index.IdentityOf(o))
	}
	return ids, nil
}

// ReindexAll rebuilds every index from the store. Unless force is set it
// does nothing when any index already holds identities. Events whose
// recurrence cannot be expanded are logged and skipped. It reports
// whether a rebuild took place.
func (c *Catalog) ReindexAll(ctx context.Context, force bool) (bool, error) {
	c.reindexMu.Lock()
	defer c.reindexMu.Unlock()

	if !force {
		for _, x := range c.indices {
			if x.Count() > 0 {
				return false, nil
			}
		}
	}

	events, err := c.store.Query(ctx, store.Query{States: c.states})
	if err != nil {
		return false, fmt.Errorf("catalog: reindex: %w", err)
	}

	fresh := make(map[model.State][]index.Identity, len(c.indices))
	skipped := 0
	for _, ev := range events {
		ids, err := c.Identities(ev)
		if err != nil {
			appLog.Error("catalog: skipping event during reindex", err, "event", ev.ID, "state", ev.State)
			skipped++
			continue
		}
		fresh[ev.State] = append(fresh[ev.State], ids...)
	}

	for st, x := range c.indices {
		x.Clear()
		x.Insert(fresh[st]...)
	}

	appLog.Info("catalog: reindexed",
		"events", len(events),
		"skipped", skipped,
		"force", force,
	)
	return true, nil
}

// OnEventIndexed replaces the identities of ev in the index of its
// current state. It is called after an event is created or its dates
// or recurrence changed.
func (c *Catalog) OnEventIndexed(ev *model.Event) error {
	x := c.indices[ev.State]
	if x == nil {
		return nil
	}
	if _, err := x.RemoveEvent(ev.ID); err != nil {
		return err
	}
	return c.insert(x, ev)
}

// OnEventTransition moves the identities of ev from the index of from
// to the index of to. Untracked states are skipped.
func (c *Catalog) OnEventTransition(ev *model.Event, from, to model.State) error {
	if x := c.indices[from]; x != nil {
		if _, err := x.RemoveEvent(ev.ID); err != nil {
			return err
		}
	}
	if x := c.indices[to]; x != nil {
		return c.insert(x, ev)
	}
	return nil
}

// OnEventRemoved drops the identities of ev from every index.
func (c *Catalog) OnEventRemoved(ev *model.Event) error {
	for _, x := range c.indices {
		if _, err := x.RemoveEvent(ev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) insert(x *index.Index, ev *model.Event) error {
	ids, err := c.Identities(ev)
	if err != nil {
		appLog.Error("catalog: event not indexed", err, "event", ev.ID, "state", ev.State)
		return err
	}
	x.Insert(ids...)
	return nil
}

// Count returns the number of indexed occurrences of state.
func (c *Catalog) Count(state model.State) int {
	x := c.indices[state]
	if x == nil {
		return 0
	}
	return x.Count()
}

// OffsetOf returns the position of the first occurrence of state on or
// after the day of t in the catalog's location.
func (c *Catalog) OffsetOf(state model.State, t time.Time) (int, error) {
	x := c.indices[state]
	if x == nil {
		return 0, ErrUntracked
	}
	return x.OffsetOf(dates.Midnight(t.In(c.loc))), nil
}

// Items returns all occurrences of state in index order.
func (c *Catalog) Items(ctx context.Context, state model.State) ([]model.Occurrence, error) {
	x := c.indices[state]
	if x == nil {
		return nil, ErrUntracked
	}
	return c.resolveAll(ctx, x.Items())
}

// ByRange returns the occurrences of state starting within [start, end].
func (c *Catalog) ByRange(ctx context.Context, state model.State, start, end time.Time) ([]model.Occurrence, error) {
	x := c.indices[state]
	if x == nil {
		return nil, ErrUntracked
	}
	return c.resolveAll(ctx, x.ByRange(start, end))
}

// List returns a lazily resolved view of the occurrences of state,
// optionally bounded to [start, end] when both are set.
func (c *Catalog) List(ctx context.Context, state model.State, start, end time.Time) (*LazyList, error) {
	x := c.indices[state]
	if x == nil {
		return nil, ErrUntracked
	}

	var ids []index.Identity
	if start.IsZero() || end.IsZero() {
		ids = x.Items()
	} else {
		ids = x.ByRange(start, end)
	}
	return NewLazyList(len(ids), func(i int) (model.Occurrence, error) {
		return c.Resolve(ctx, ids[i])
	}), nil
}

// Resolve returns the occurrence an identity stands for.
func (c *Catalog) Resolve(ctx context.Context, id index.Identity) (model.Occurrence, error) {
	start, eventID, err := id.Parse()
	if err != nil {
		return model.Occurrence{}, err
	}
	ev, err := c.store.Get(ctx, eventID)
	if err != nil {
		return model.Occurrence{}, err
	}
	return resolveIn(ev, start)
}

func resolveIn(ev *model.Event, start time.Time) (model.Occurrence, error) {
	occurrences, err := recurrence.Expand(ev, start, start.Add(time.Minute-time.Nanosecond))
	if err != nil {
		return model.Occurrence{}, err
	}
	for _, o := range occurrences {
		if o.Start.Truncate(time.Minute).Equal(start) {
			return o, nil
		}
	}
	return model.Occurrence{}, fmt.Errorf("%w: %s at %s", ErrStale, ev.ID, start.Format(time.RFC3339))
}

// resolveAll resolves identities in order, loading and expanding every
// event once.
func (c *Catalog) resolveAll(ctx context.Context, ids []index.Identity) ([]model.Occurrence, error) {
	from, to := c.Window()
	// event id -> minute (unix) -> occurrence
	cache := make(map[string]map[int64]model.Occurrence)
	out := make([]model.Occurrence, 0, len(ids))

	for _, id := range ids {
		start, eventID, err := id.Parse()
		if err != nil {
			return nil, err
		}

		byStart, ok := cache[eventID]
		if !ok {
			ev, err := c.store.Get(ctx, eventID)
			if err != nil {
				return nil, fmt.Errorf("catalog: resolve %s: %w", id, err)
			}
			// identities outside the current window stay resolvable
			lo, hi := from, to
			if start.Before(lo) {
				lo = start
			}
			if start.After(hi) {
				hi = start.Add(time.Minute)
			}
			occurrences, err := recurrence.Expand(ev, lo, hi)
			if err != nil {
				return nil, err
			}
			byStart = make(map[int64]model.Occurrence, len(occurrences))
			for _, o := range occurrences {
				byStart[o.Start.Truncate(time.Minute).Unix()] = o
			}
			cache[eventID] = byStart
		}

		o, ok := byStart[start.Unix()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrStale, id)
		}
		out = append(out, o)
	}
	return out, nil
}

// Export returns the occurrences of the events matching q within the
// window, ordered by start. Without states in q only published events
// are exported. Occurrences are not split into days.
func (c *Catalog) Export(ctx context.Context, q store.Query) ([]model.Occurrence, error) {
	if len(q.States) == 0 {
		q.States = []model.State{model.StatePublished}
	}
	events, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: export: %w", err)
	}

	from, to := c.Window()
	out := make([]model.Occurrence, 0, len(events))
	for _, ev := range events {
		occurrences, err := recurrence.Occurrences(ev, from, to)
		if err != nil {
			appLog.Error("catalog: skipping event during export", err, "event", ev.ID)
			continue
		}
		out = append(out, occurrences...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].EventID() < out[j].EventID()
	})
	return out, nil
}
