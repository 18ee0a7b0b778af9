// Package directory owns the events of one directory: it runs the
// workflow, persists changes and keeps the catalog informed.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventdir/internal/catalog"
	"eventdir/internal/index"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
	"eventdir/internal/recurrence"
	"eventdir/internal/store"
	"eventdir/internal/validation"
)

// DefaultMaxOccurrences bounds the instances a recurrence may produce.
const DefaultMaxOccurrences = 365

// ErrInvalid wraps validation failures on create and update.
var ErrInvalid = errors.New("directory: invalid event")

// Options configure a Directory.
type Options struct {
	Name           string
	MaxOccurrences int
	Now            func() time.Time
}

// indexer receives every change written to the store.
type indexer interface {
	OnEventIndexed(ev *model.Event) error
	OnEventTransition(ev *model.Event, from, to model.State) error
	OnEventRemoved(ev *model.Event) error
}

// Directory is the directory-scoped owner of events and their catalog.
type Directory struct {
	name           string
	store          store.Store
	catalog        *catalog.Catalog
	notify         indexer
	maxOccurrences int
	now            func() time.Time

	// serializes store writes with the matching catalog notification
	mu sync.Mutex
}

func New(s store.Store, c *catalog.Catalog, opts Options) *Directory {
	d := &Directory{
		name:           opts.Name,
		store:          s,
		catalog:        c,
		notify:         c,
		maxOccurrences: opts.MaxOccurrences,
		now:            opts.Now,
	}
	if d.maxOccurrences <= 0 {
		d.maxOccurrences = DefaultMaxOccurrences
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

func (d *Directory) Name() string { return d.name }

// indexFailure logs a failed catalog notification. A diverged index is
// returned to the caller; other failures, such as a rule that no longer
// expands, leave the event stored but unlisted.
func (d *Directory) indexFailure(action string, ev *model.Event, err error) error {
	if err == nil {
		return nil
	}
	appLog.Error("directory: change not reflected in catalog", err,
		"event", ev.ID,
		"action", action,
		"state", ev.State,
	)
	var ce *index.ConsistencyError
	if errors.As(err, &ce) {
		return fmt.Errorf("directory: %s %s: %w", action, ev.ID, err)
	}
	return nil
}

// Catalog returns the catalog kept in step with this directory.
func (d *Directory) Catalog() *catalog.Catalog { return d.catalog }

func (d *Directory) Get(ctx context.Context, id string) (*model.Event, error) {
	return d.store.Get(ctx, id)
}

// Query passes through to the store.
func (d *Directory) Query(ctx context.Context, q store.Query) ([]*model.Event, error) {
	return d.store.Query(ctx, q)
}

// Validate checks the fields the index relies on. Local rules must stay
// within the occurrence limit. Imported rules only need to parse since
// the catalog expands them inside its window.
func (d *Directory) Validate(ev *model.Event) error {
	if err := validation.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !ev.IsRecurring() {
		return nil
	}
	if ev.External {
		if err := recurrence.Validate(ev.Recurrence); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil
	}
	over, err := recurrence.OccurrencesOverLimit(ev.Recurrence, ev.Start.In(ev.Loc()), d.maxOccurrences)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if over {
		return fmt.Errorf("%w: recurrence produces more than %d occurrences", ErrInvalid, d.maxOccurrences)
	}
	return nil
}

// Create stores a new event. Missing ids are generated and new events
// start in preview unless a state is given.
func (d *Directory) Create(ctx context.Context, ev *model.Event) (*model.Event, error) {
	ev = ev.Clone()
	ev.Title = strings.TrimSpace(ev.Title)
	if err := d.Validate(ev); err != nil {
		return nil, err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.State == "" {
		ev.State = model.StatePreview
	}
	ev.Start, ev.End = ev.Start.UTC(), ev.End.UTC()
	ev.Modified = d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.store.Get(ctx, ev.ID); err == nil {
		return nil, fmt.Errorf("%w: id %s exists", ErrInvalid, ev.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := d.store.Put(ctx, ev); err != nil {
		return nil, err
	}
	if err := d.indexFailure("create", ev, d.notify.OnEventIndexed(ev)); err != nil {
		return ev, err
	}
	return ev, nil
}

// Update replaces the content of an existing event. The workflow state
// cannot be changed this way.
func (d *Directory) Update(ctx context.Context, ev *model.Event) (*model.Event, error) {
	ev = ev.Clone()
	ev.Title = strings.TrimSpace(ev.Title)
	if err := d.Validate(ev); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old, err := d.store.Get(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	ev.State = old.State
	ev.Start, ev.End = ev.Start.UTC(), ev.End.UTC()
	ev.Modified = d.now()

	if err := d.store.Put(ctx, ev); err != nil {
		return nil, err
	}
	if err := d.indexFailure("update", ev, d.notify.OnEventIndexed(ev)); err != nil {
		return ev, err
	}
	return ev, nil
}

// Do applies a workflow action to the event with the given id.
func (d *Directory) Do(ctx context.Context, id string, action Action) (*model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.transition(ctx, ev, action); err != nil {
		var ce *index.ConsistencyError
		if errors.As(err, &ce) {
			return ev, err
		}
		return nil, err
	}
	return ev, nil
}

// Archive moves a published event to archived. It is the capability
// the cleanup job uses.
func (d *Directory) Archive(ctx context.Context, ev *model.Event) error {
	_, err := d.Do(ctx, ev.ID, ActionArchive)
	return err
}

func (d *Directory) transition(ctx context.Context, ev *model.Event, action Action) error {
	to, err := Target(ev, action)
	if err != nil {
		return err
	}

	from := ev.State
	ev.State = to
	ev.Modified = d.now()
	if err := d.store.Put(ctx, ev); err != nil {
		ev.State = from
		return err
	}

	if err := d.indexFailure(string(action), ev, d.notify.OnEventTransition(ev, from, to)); err != nil {
		return err
	}
	appLog.Debug("directory: transition", "event", ev.ID, "action", action, "from", from, "to", to)
	return nil
}

// Delete removes events and their index entries. Unknown ids are skipped.
func (d *Directory) Delete(ctx context.Context, ids ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		ev, err := d.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.store.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.notify.OnEventRemoved(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Import stores externally sourced events. Events are matched on their
// source id; known ones are updated in place, new ones are created as
// published.
func (d *Directory) Import(ctx context.Context, events []*model.Event) (created, updated int, err error) {
	existing, err := d.store.Query(ctx, store.Query{External: store.Bool(true)})
	if err != nil {
		return 0, 0, err
	}
	bySource := make(map[string]*model.Event, len(existing))
	for _, ev := range existing {
		bySource[ev.SourceID] = ev
	}

	for _, ev := range events {
		ev = ev.Clone()
		ev.External = true

		if old, ok := bySource[ev.SourceID]; ok && ev.SourceID != "" {
			ev.ID = old.ID
			if _, err := d.Update(ctx, ev); err != nil {
				appLog.Error("directory: import update failed", err, "source_id", ev.SourceID)
				continue
			}
			updated++
			continue
		}

		ev.ID = ""
		if ev.State == "" {
			ev.State = model.StatePublished
		}
		if _, err := d.Create(ctx, ev); err != nil {
			appLog.Error("directory: import create failed", err, "source_id", ev.SourceID)
			continue
		}
		created++
	}

	appLog.Info("directory: import finished", "directory", d.name, "created", created, "updated", updated, "total", len(events))
	return created, updated, nil
}
