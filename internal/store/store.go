// Package store persists directory events. The index never owns events;
// it reads them through a Store.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"eventdir/internal/model"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("store: event not found")

// Store is the event persistence used by the directory, the catalog and
// the cleanup job. Implementations return copies; callers may modify them.
type Store interface {
	Get(ctx context.Context, id string) (*model.Event, error)
	Put(ctx context.Context, ev *model.Event) error
	Delete(ctx context.Context, ids ...string) error
	Query(ctx context.Context, q Query) ([]*model.Event, error)
	Close() error
}

// Query selects events. Zero fields match everything.
type Query struct {
	States   []model.State
	External *bool

	// Search is matched case-insensitively against title, description
	// and location. Every whitespace separated term must match.
	Search string

	// Categories requires, per key, one of the listed values.
	Categories map[string][]string

	// ModifiedBefore keeps events last modified before this instant.
	ModifiedBefore time.Time

	// EndBefore keeps events that started and ended before this instant.
	// For recurring events these are the bounds of the first occurrence.
	EndBefore time.Time
}

// Match reports whether ev satisfies q.
func (q Query) Match(ev *model.Event) bool {
	if len(q.States) > 0 && !hasState(q.States, ev.State) {
		return false
	}
	if q.External != nil && *q.External != ev.External {
		return false
	}
	if !q.ModifiedBefore.IsZero() && !ev.Modified.Before(q.ModifiedBefore) {
		return false
	}
	if !q.EndBefore.IsZero() && !(ev.Start.Before(q.EndBefore) && ev.End.Before(q.EndBefore)) {
		return false
	}
	if !q.matchCategories(ev) {
		return false
	}
	return q.matchSearch(ev)
}

func (q Query) matchCategories(ev *model.Event) bool {
	for key, wanted := range q.Categories {
		if len(wanted) == 0 {
			continue
		}
		found := false
		for _, v := range ev.Categories[key] {
			for _, w := range wanted {
				if strings.EqualFold(v, w) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (q Query) matchSearch(ev *model.Event) bool {
	terms := strings.Fields(strings.ToLower(q.Search))
	if len(terms) == 0 {
		return true
	}
	text := strings.ToLower(ev.Title + "\n" + ev.Description + "\n" + ev.Location)
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func hasState(states []model.State, s model.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// Bool returns a pointer to b, for Query.External.
func Bool(b bool) *bool { return &b }
