package realtime

import (
	"errors"
	"sync"
)

// ErrNoRow is returned by Table.Update when the key is absent.
var ErrNoRow = errors.New("realtime: no such row")

// Table is a keyed in-memory map guarded by a single RWMutex.
// Values are stored and returned by value, so T should be a plain struct:
// Snapshot then hands out copies rather than a live view.
type Table[T any] struct {
	mu   sync.RWMutex
	rows map[string]T
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{rows: make(map[string]T)}
}

// Get returns the row for key if it exists.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok
}

// Put stores v under key, replacing any previous row.
func (t *Table[T]) Put(key string, v T) (prev T, replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, replaced = t.rows[key]
	t.rows[key] = v
	return prev, replaced
}

// Insert stores v only if key is absent and reports whether it did.
func (t *Table[T]) Insert(key string, v T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; ok {
		return false
	}
	t.rows[key] = v
	return true
}

// Update applies fn to the row under the write lock, making read-modify-write
// atomic per key. If fn returns an error the row is left unchanged.
func (t *Table[T]) Update(key string, fn func(v T) (T, error)) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.rows[key]
	if !ok {
		var zero T
		return zero, ErrNoRow
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	t.rows[key] = next
	return next, nil
}

// Delete removes key and returns the removed row. Deleting a missing key is a no-op.
func (t *Table[T]) Delete(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.rows[key]
	if ok {
		delete(t.rows, key)
	}
	return v, ok
}

// DeleteFunc removes every row for which fn returns true and returns them.
// Removal and selection happen under one lock, so a row is returned at most once.
func (t *Table[T]) DeleteFunc(fn func(key string, v T) bool) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []T
	for k, v := range t.rows {
		if fn(k, v) {
			delete(t.rows, k)
			removed = append(removed, v)
		}
	}
	return removed
}

// Snapshot returns a point-in-time copy of the rows accepted by keep.
// A nil keep returns every row.
func (t *Table[T]) Snapshot(keep func(v T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.rows))
	for _, v := range t.rows {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
