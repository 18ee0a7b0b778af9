package catalog

import (
	"errors"
	"sync"

	"eventdir/internal/model"
)

// ErrOutOfRange is returned for positions outside a LazyList.
var ErrOutOfRange = errors.New("catalog: index out of range")

// LazyList resolves occurrences on first access and caches them. The
// length is known up front so pagination does not resolve the whole list.
type LazyList struct {
	length int
	get    func(int) (model.Occurrence, error)

	mu    sync.Mutex
	cache map[int]model.Occurrence
}

// NewLazyList returns a list of length items resolved through get.
func NewLazyList(length int, get func(int) (model.Occurrence, error)) *LazyList {
	return &LazyList{
		length: length,
		get:    get,
		cache:  make(map[int]model.Occurrence),
	}
}

func (l *LazyList) Len() int { return l.length }

// At returns the occurrence at position i.
func (l *LazyList) At(i int) (model.Occurrence, error) {
	if i < 0 || i >= l.length {
		return model.Occurrence{}, ErrOutOfRange
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if o, ok := l.cache[i]; ok {
		return o, nil
	}
	o, err := l.get(i)
	if err != nil {
		return model.Occurrence{}, err
	}
	l.cache[i] = o
	return o, nil
}

// Slice returns the occurrences in [from, to), clamped to the list.
func (l *LazyList) Slice(from, to int) ([]model.Occurrence, error) {
	if from < 0 {
		from = 0
	}
	if to > l.length {
		to = l.length
	}
	if from >= to {
		return nil, nil
	}

	out := make([]model.Occurrence, 0, to-from)
	for i := from; i < to; i++ {
		o, err := l.At(i)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// All resolves every item.
func (l *LazyList) All() ([]model.Occurrence, error) {
	return l.Slice(0, l.length)
}
