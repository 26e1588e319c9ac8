// Package pending holds in-flight requests keyed by transaction id until
// their response arrives.
package pending

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateTransaction is returned by Put when the transaction id is
// already in flight.
var ErrDuplicateTransaction = errors.New("transaction id already pending")

type entry[V any] struct {
	seq   uint64
	value V
}

// Table maps transaction ids to in-flight values. Remove is atomic, so of
// several goroutines racing to resolve the same id exactly one wins.
type Table[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	nextSeq uint64
}

// NewTable creates an empty table
func NewTable[V any]() *Table[V] {
	return &Table[V]{entries: make(map[string]entry[V])}
}

// Put inserts value under tid. It never overwrites an existing entry.
func (t *Table[V]) Put(tid string, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[tid]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, tid)
	}
	t.nextSeq++
	t.entries[tid] = entry[V]{seq: t.nextSeq, value: value}
	return nil
}

// Remove deletes tid and returns its value if it was present
func (t *Table[V]) Remove(tid string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[tid]
	if ok {
		delete(t.entries, tid)
	}
	return e.value, ok
}

// Get returns the value for tid without removing it
func (t *Table[V]) Get(tid string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[tid]
	return e.value, ok
}

// Len returns the number of in-flight entries
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns the values in insertion order
func (t *Table[V]) Snapshot() []V {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ordered()
}

// Drain removes every entry and returns the values in insertion order
func (t *Table[V]) Drain() []V {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := t.ordered()
	t.entries = make(map[string]entry[V])
	return values
}

func (t *Table[V]) ordered() []V {
	list := make([]entry[V], 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	values := make([]V, len(list))
	for i, e := range list {
		values[i] = e.value
	}
	return values
}
