// Package index keeps the ordered occurrence identities of one workflow
// state, answering counts and date range queries without expanding events.
package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
)

const (
	btreeDegree    = 32
	metadataLayout = "2006-01-02"
)

// ConsistencyError means the index drifted from the events it was built
// from, e.g. an identity expected to be present was not.
type ConsistencyError struct {
	Index    string
	Identity Identity
	Reason   string
}

func (e *ConsistencyError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("index %s: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("index %s: %s: %s", e.Index, e.Reason, e.Identity)
}

// Index is a sorted, duplicate-free set of identities. It is safe for
// concurrent use; writers are serialized and readers share the lock.
type Index struct {
	name string

	mu      sync.RWMutex
	tree    *btree.BTreeG[Identity]
	byEvent map[string]map[Identity]struct{}

	metadata map[string]int
	dirty    bool
}

// New returns an empty index. name is only used in errors and logs.
func New(name string) *Index {
	return &Index{
		name:    name,
		tree:    btree.NewG(btreeDegree, func(a, b Identity) bool { return a < b }),
		byEvent: make(map[string]map[Identity]struct{}),
		dirty:   true,
	}
}

// Name returns the name the index was created with.
func (x *Index) Name() string { return x.name }

// Insert adds identities. Identities already present are left alone.
func (x *Index) Insert(ids ...Identity) {
	if len(ids) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		if _, replaced := x.tree.ReplaceOrInsert(id); replaced {
			continue
		}
		ev := id.EventID()
		set, ok := x.byEvent[ev]
		if !ok {
			set = make(map[Identity]struct{})
			x.byEvent[ev] = set
		}
		set[id] = struct{}{}
		x.dirty = true
	}
}

// Remove deletes identities. If any of them is missing nothing is
// removed and a *ConsistencyError is returned.
func (x *Index) Remove(ids ...Identity) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		if !x.tree.Has(id) {
			return &ConsistencyError{Index: x.name, Identity: id, Reason: "remove of missing identity"}
		}
	}
	for _, id := range ids {
		if err := x.remove(id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEvent deletes every identity of the event and returns them.
func (x *Index) RemoveEvent(eventID string) ([]Identity, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set := x.byEvent[eventID]
	removed := make([]Identity, 0, len(set))
	for id := range set {
		removed = append(removed, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })

	for _, id := range removed {
		if err := x.remove(id); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (x *Index) remove(id Identity) error {
	if _, ok := x.tree.Delete(id); !ok {
		return &ConsistencyError{Index: x.name, Identity: id, Reason: "event map points to missing identity"}
	}
	ev := id.EventID()
	set := x.byEvent[ev]
	if _, ok := set[id]; !ok {
		return &ConsistencyError{Index: x.name, Identity: id, Reason: "identity missing from event map"}
	}
	delete(set, id)
	if len(set) == 0 {
		delete(x.byEvent, ev)
	}
	x.dirty = true
	return nil
}

// Clear drops all identities.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.tree.Clear(false)
	x.byEvent = make(map[string]map[Identity]struct{})
	x.dirty = true
}

// Has reports whether id is present.
func (x *Index) Has(id Identity) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Has(id)
}

// Contains reports whether the event has any identity in the index.
func (x *Index) Contains(eventID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byEvent[eventID]) > 0
}

// Count returns the number of identities.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Events returns the number of distinct events in the index.
func (x *Index) Events() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byEvent)
}

// Identities returns the sorted identities of one event.
func (x *Index) Identities(eventID string) []Identity {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Identity, 0, len(x.byEvent[eventID]))
	for id := range x.byEvent[eventID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Items returns all identities in order.
func (x *Index) Items() []Identity {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Identity, 0, x.tree.Len())
	x.tree.Ascend(func(id Identity) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Slice returns up to limit identities starting at offset. A limit <= 0
// means no limit.
func (x *Index) Slice(offset, limit int) []Identity {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []Identity
	pos := 0
	x.tree.Ascend(func(id Identity) bool {
		if pos >= offset {
			out = append(out, id)
		}
		pos++
		return limit <= 0 || len(out) < limit
	})
	return out
}

// ByRange returns the identities whose start lies in [start, end], at
// minute precision.
func (x *Index) ByRange(start, end time.Time) []Identity {
	if end.Before(start) {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	upper := upperBound(end)
	var out []Identity
	x.tree.AscendGreaterOrEqual(lowerBound(start), func(id Identity) bool {
		if id > upper {
			return false
		}
		out = append(out, id)
		return true
	})
	return out
}

// OffsetOf returns the number of identities starting before t, at
// minute precision. The metadata entry of t's UTC day gives the offset
// of that day; identities between the day start and t are counted.
func (x *Index) OffsetOf(t time.Time) int {
	t = t.UTC()
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	x.refresh()

	x.mu.RLock()
	defer x.mu.RUnlock()
	offset, ok := x.metadata[dayStart.Format(metadataLayout)]
	if !ok {
		first, ok := x.tree.Min()
		if !ok || lowerBound(t) <= first {
			return 0
		}
		return x.tree.Len()
	}
	x.tree.AscendRange(lowerBound(dayStart), lowerBound(t), func(Identity) bool {
		offset++
		return true
	})
	return offset
}

// Metadata maps every day between the first and the last indexed day
// ("2006-01-02", UTC) to the offset of the first identity on or after
// that day. It is rebuilt on the first read after a mutation.
func (x *Index) Metadata() map[string]int {
	x.refresh()

	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int, len(x.metadata))
	for k, v := range x.metadata {
		out[k] = v
	}
	return out
}

func (x *Index) refresh() {
	x.mu.RLock()
	dirty := x.dirty
	x.mu.RUnlock()
	if !dirty {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dirty {
		x.metadata = x.generateMetadata()
		x.dirty = false
	}
}

func (x *Index) generateMetadata() map[string]int {
	meta := make(map[string]int)
	if x.tree.Len() == 0 {
		return meta
	}

	var cursor time.Time
	offset := 0
	x.tree.Ascend(func(id Identity) bool {
		start, _, err := id.Parse()
		if err != nil {
			offset++
			return true
		}
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		if cursor.IsZero() {
			cursor = day
		}
		for !cursor.After(day) {
			meta[cursor.Format(metadataLayout)] = offset
			cursor = cursor.AddDate(0, 0, 1)
		}
		offset++
		return true
	})
	return meta
}

// Check verifies that the tree and the per-event map agree.
func (x *Index) Check() error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	total := 0
	for ev, set := range x.byEvent {
		for id := range set {
			if id.EventID() != ev || !x.tree.Has(id) {
				return &ConsistencyError{Index: x.name, Identity: id, Reason: "event map out of sync"}
			}
		}
		total += len(set)
	}
	if total != x.tree.Len() {
		return &ConsistencyError{Index: x.name, Reason: fmt.Sprintf("tree holds %d identities, event map %d", x.tree.Len(), total)}
	}
	return nil
}
