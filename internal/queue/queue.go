// Package queue persists the persistable subset of in-flight requests so they
// survive a process restart, and replays them one at a time afterwards.
//
// The snapshot is a JSON array of {"n": eventName, "d": payload} objects.
// There is no version field; changing the shape is a breaking change.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/eventsock/internal/logger"
)

// ErrCorruptSnapshot is returned by LoadAndClear when the stored snapshot
// cannot be decoded. The snapshot is discarded either way.
var ErrCorruptSnapshot = errors.New("corrupt queue snapshot")

// Entry is a request stripped of its callback
type Entry struct {
	Name    string          `json:"n"`
	Payload json.RawMessage `json:"d"`
}

// Store is a single named blob with atomic overwrite
type Store interface {
	// Write replaces the blob
	Write(data []byte) error
	// Read returns the blob; found is false when nothing is stored
	Read() (data []byte, found bool, err error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete() error
	// Close releases the store
	Close() error
}

// Queue serializes snapshots to a Store. Persist and LoadAndClear are
// mutually exclusive, so a snapshot is never read half-written.
type Queue struct {
	mu    sync.Mutex
	store Store
	log   *logger.Logger
}

// New creates a queue backed by store
func New(store Store) *Queue {
	return &Queue{
		store: store,
		log:   logger.Global().WithPrefix("queue"),
	}
}

// Persist overwrites the stored snapshot with entries, in order
func (q *Queue) Persist(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode queue snapshot: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Write(data); err != nil {
		return fmt.Errorf("failed to write queue snapshot: %w", err)
	}
	q.log.Debug("persisted %d request(s)", len(entries))
	return nil
}

// LoadAndClear returns the stored entries and deletes the snapshot. Without a
// Persist in between, a second call returns an empty slice.
func (q *Queue) LoadAndClear() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, found, err := q.store.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue snapshot: %w", err)
	}
	if !found {
		return []Entry{}, nil
	}
	if err := q.store.Delete(); err != nil {
		return nil, fmt.Errorf("failed to clear queue snapshot: %w", err)
	}

	entries := []Entry{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			q.log.Error("discarding unreadable snapshot: %v", err)
			return []Entry{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}
	q.log.Info("loaded %d queued request(s)", len(entries))
	return entries, nil
}

// Close closes the underlying store
func (q *Queue) Close() error {
	return q.store.Close()
}
