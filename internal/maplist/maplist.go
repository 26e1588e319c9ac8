// Package maplist provides a concurrency-safe map from a key to an ordered
// list of distinct values.
package maplist

import "sync"

// MapList maps keys to insertion-ordered lists of distinct values. Readers get
// copies, so callers may iterate while other goroutines add or remove values.
type MapList[K comparable, V comparable] struct {
	mu sync.RWMutex
	m  map[K][]V
}

// New creates an empty MapList
func New[K comparable, V comparable]() *MapList[K, V] {
	return &MapList[K, V]{m: make(map[K][]V)}
}

// AddIfNotExists appends value to key's list unless it is already present.
// It reports whether the value was added.
func (ml *MapList[K, V]) AddIfNotExists(key K, value V) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	for _, v := range ml.m[key] {
		if v == value {
			return false
		}
	}
	ml.m[key] = append(ml.m[key], value)
	return true
}

// RemoveIfExists removes value from key's list and reports whether it was
// present. A key whose list becomes empty is deleted.
func (ml *MapList[K, V]) RemoveIfExists(key K, value V) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	list, ok := ml.m[key]
	if !ok {
		return false
	}
	for i, v := range list {
		if v != value {
			continue
		}
		if len(list) == 1 {
			delete(ml.m, key)
		} else {
			ml.m[key] = append(list[:i:i], list[i+1:]...)
		}
		return true
	}
	return false
}

// Get returns a copy of key's values. An absent key yields an empty, non-nil
// slice.
func (ml *MapList[K, V]) Get(key K) []V {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	list := ml.m[key]
	out := make([]V, len(list))
	copy(out, list)
	return out
}

// Contains reports whether key currently has value
func (ml *MapList[K, V]) Contains(key K, value V) bool {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	for _, v := range ml.m[key] {
		if v == value {
			return true
		}
	}
	return false
}

// Keys returns the keys that have at least one value
func (ml *MapList[K, V]) Keys() []K {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	keys := make([]K, 0, len(ml.m))
	for k := range ml.m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of keys
func (ml *MapList[K, V]) Len() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.m)
}

// Clear removes every key
func (ml *MapList[K, V]) Clear() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.m = make(map[K][]V)
}
