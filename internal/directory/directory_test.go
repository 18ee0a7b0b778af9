package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventdir/internal/catalog"
	"eventdir/internal/index"
	"eventdir/internal/model"
	"eventdir/internal/store"
)

var testNow = time.Date(2012, 6, 1, 8, 0, 0, 0, time.UTC)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	clock := func() time.Time { return testNow }
	s := store.NewMemory()
	c := catalog.New(s, catalog.Options{Now: clock})
	return New(s, c, Options{Name: "events", Now: clock})
}

func draft(rule string) *model.Event {
	start := time.Date(2012, 6, 2, 10, 0, 0, 0, time.UTC)
	return &model.Event{
		Title:      "Concert",
		Start:      start,
		End:        start.Add(2 * time.Hour),
		Timezone:   "Europe/Zurich",
		Recurrence: rule,
	}
}

func TestWorkflowCounts(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	c := d.Catalog()

	ev, err := d.Create(ctx, draft("RRULE:FREQ=DAILY;COUNT=10"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == "" || ev.State != model.StatePreview {
		t.Fatalf("new event should get an id and start in preview: %+v", ev)
	}

	steps := []struct {
		action   Action
		sub, pub int
	}{
		{ActionSubmit, 10, 0},
		{ActionPublish, 0, 10},
		{ActionArchive, 0, 0},
		{ActionPublish, 0, 10},
	}
	for _, step := range steps {
		if _, err := d.Do(ctx, ev.ID, step.action); err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
		sub, pub := c.Count(model.StateSubmitted), c.Count(model.StatePublished)
		if sub != step.sub || pub != step.pub {
			t.Fatalf("after %s: submitted=%d published=%d, want %d/%d", step.action, sub, pub, step.sub, step.pub)
		}
	}

	ev.Recurrence = ""
	if _, err := d.Update(ctx, ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if pub := c.Count(model.StatePublished); pub != 1 {
		t.Fatalf("expected 1 published occurrence, got %d", pub)
	}

	if err := d.Delete(ctx, ev.ID, "unknown"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if pub := c.Count(model.StatePublished); pub != 0 {
		t.Fatalf("expected empty index after delete, got %d", pub)
	}
}

func TestTransitionRules(t *testing.T) {
	cases := []struct {
		state    model.State
		external bool
		action   Action
		want     model.State
	}{
		{model.StatePreview, false, ActionSubmit, model.StateSubmitted},
		{model.StateSubmitted, false, ActionDeny, model.StateArchived},
		{model.StateSubmitted, false, ActionPublish, model.StatePublished},
		{model.StateHidden, true, ActionPublish, model.StatePublished},
		{model.StateArchivedPermanently, false, ActionPublish, model.StatePublished},
		{model.StatePublished, false, ActionArchive, model.StateArchived},
		{model.StateArchived, false, ActionArchivePermanently, model.StateArchivedPermanently},
		{model.StatePublished, true, ActionHide, model.StateHidden},

		{model.StatePublished, false, ActionHide, ""},
		{model.StatePreview, false, ActionPublish, ""},
		{model.StatePublished, false, ActionSubmit, ""},
		{model.StateArchivedPermanently, false, ActionArchive, ""},
		{model.StatePublished, false, Action("explode"), ""},
	}
	for _, c := range cases {
		ev := &model.Event{State: c.state, External: c.external}
		got, err := Target(ev, c.action)
		if c.want == "" {
			if !errors.Is(err, ErrTransition) {
				t.Fatalf("%s from %s: expected ErrTransition, got %v", c.action, c.state, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%s from %s = %s (%v), want %s", c.action, c.state, got, err, c.want)
		}
	}

	actions := Actions(&model.Event{State: model.StatePublished, External: true})
	if len(actions) != 2 || actions[0] != ActionArchive || actions[1] != ActionHide {
		t.Fatalf("unexpected actions %v", actions)
	}
}

func TestRejectedTransitionLeavesEvent(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	ev, err := d.Create(ctx, draft(""))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := d.Do(ctx, ev.ID, ActionPublish); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
	stored, _ := d.Get(ctx, ev.ID)
	if stored.State != model.StatePreview {
		t.Fatalf("state changed to %s", stored.State)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	cases := map[string]*model.Event{
		"unbounded rule": draft("RRULE:FREQ=DAILY"),
		"too many":       draft("RRULE:FREQ=DAILY;COUNT=366"),
		"bad rule":       draft("RRULE:FREQ=FORTNIGHTLY"),
	}
	noTitle := draft("")
	noTitle.Title = " "
	cases["no title"] = noTitle
	backwards := draft("")
	backwards.End = backwards.Start.Add(-time.Hour)
	cases["end before start"] = backwards
	noStart := draft("")
	noStart.Start = time.Time{}
	cases["no start"] = noStart
	badState := draft("")
	badState.State = "deleted"
	cases["unknown state"] = badState

	for name, ev := range cases {
		if _, err := d.Create(ctx, ev); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}

	if _, err := d.Create(ctx, draft("RRULE:FREQ=DAILY;COUNT=365")); err != nil {
		t.Fatalf("365 occurrences are allowed: %v", err)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	a := draft("")
	a.SourceID = "src-a"
	b := draft("RRULE:FREQ=DAILY;COUNT=3")
	b.SourceID = "src-b"

	created, updated, err := d.Import(ctx, []*model.Event{a, b})
	if err != nil || created != 2 || updated != 0 {
		t.Fatalf("first import: created=%d updated=%d err=%v", created, updated, err)
	}
	if pub := d.Catalog().Count(model.StatePublished); pub != 4 {
		t.Fatalf("imported events are published, got %d occurrences", pub)
	}

	b.Recurrence = ""
	created, updated, err = d.Import(ctx, []*model.Event{b})
	if err != nil || created != 0 || updated != 1 {
		t.Fatalf("second import: created=%d updated=%d err=%v", created, updated, err)
	}
	if pub := d.Catalog().Count(model.StatePublished); pub != 2 {
		t.Fatalf("update should reindex, got %d occurrences", pub)
	}

	external, _ := d.Query(ctx, store.Query{External: store.Bool(true)})
	if len(external) != 2 {
		t.Fatalf("expected 2 external events, got %d", len(external))
	}

	weekly := draft("RRULE:FREQ=WEEKLY")
	weekly.SourceID = "src-weekly"
	broken := draft("RRULE:FREQ=FORTNIGHTLY")
	broken.SourceID = "src-broken"
	created, _, err = d.Import(ctx, []*model.Event{weekly, broken})
	if err != nil || created != 1 {
		t.Fatalf("open-ended import: created=%d err=%v", created, err)
	}
	if pub := d.Catalog().Count(model.StatePublished); pub <= 2 {
		t.Fatalf("open-ended rule should be expanded in the window, got %d occurrences", pub)
	}
	if _, err := d.Create(ctx, draft("RRULE:FREQ=WEEKLY")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("local open-ended rule: expected ErrInvalid, got %v", err)
	}
}

// failingIndexer reports a diverged index for every change.
type failingIndexer struct{}

func (failingIndexer) OnEventIndexed(ev *model.Event) error {
	return &index.ConsistencyError{Index: "published", Identity: index.Identity(ev.ID), Reason: "drifted"}
}

func (failingIndexer) OnEventTransition(ev *model.Event, _, _ model.State) error {
	return &index.ConsistencyError{Index: "published", Identity: index.Identity(ev.ID), Reason: "drifted"}
}

func (failingIndexer) OnEventRemoved(*model.Event) error { return nil }

func TestIndexDivergenceReturned(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	ev, err := d.Create(ctx, draft(""))
	if err != nil {
		t.Fatal(err)
	}
	d.notify = failingIndexer{}

	got, err := d.Do(ctx, ev.ID, ActionSubmit)
	var ce *index.ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *index.ConsistencyError, got %v", err)
	}
	if got == nil || got.State != model.StateSubmitted {
		t.Fatalf("event should be returned in its new state: %+v", got)
	}
	stored, err := d.Get(ctx, ev.ID)
	if err != nil || stored.State != model.StateSubmitted {
		t.Fatalf("transition should be stored: %+v, %v", stored, err)
	}

	if _, err := d.Update(ctx, stored); !errors.As(err, &ce) {
		t.Fatalf("update: expected *index.ConsistencyError, got %v", err)
	}
}
