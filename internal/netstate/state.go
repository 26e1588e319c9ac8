// Package netstate tracks the health of the transport connection and fans
// every transition out to registered listeners.
package netstate

import (
	"sync"
	"sync/atomic"
)

// State represents the current state of the transport connection
type State int32

const (
	// Disconnected indicates no connection is open
	Disconnected State = iota
	// Connecting indicates the first connection attempt is in progress
	Connecting
	// Connected indicates the transport is open
	Connected
	// Reconnecting indicates the transport is retrying after a drop
	Reconnecting
	// ConnectTimeout indicates a connection attempt timed out
	ConnectTimeout
	// ConnectError indicates a connection attempt failed
	ConnectError
	// ReconnectError indicates the transport gave up reconnecting. It is only
	// reported to listeners; the stored state becomes Disconnected.
	ReconnectError
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case ConnectTimeout:
		return "connect_timeout"
	case ConnectError:
		return "connect_error"
	case ReconnectError:
		return "reconnect_error"
	default:
		return "unknown"
	}
}

// Listener receives state transitions. err is the transport error behind the
// transition, if any.
type Listener func(state State, err error)

type listenerEntry struct {
	fn Listener
}

// Tracker holds the current State. Reads are lock-free; transitions are
// serialized so listeners observe them in the order they were applied.
type Tracker struct {
	state atomic.Int32

	notifyMu  sync.Mutex
	mu        sync.RWMutex
	listeners []*listenerEntry
}

// NewTracker returns a tracker in the Disconnected state
func NewTracker() *Tracker {
	t := &Tracker{}
	t.state.Store(int32(Disconnected))
	return t
}

// Get returns the current state. It is advisory and may be stale by the time
// the caller acts on it.
func (t *Tracker) Get() State {
	return State(t.state.Load())
}

// Set stores state and notifies every listener, including when the state did
// not change.
func (t *Tracker) Set(state State, err error) {
	t.apply(state, state, err)
}

// Report notifies listeners with reported while storing stored. It is used
// for ReconnectError, which listeners see but which is persisted as
// Disconnected.
func (t *Tracker) Report(reported, stored State, err error) {
	t.apply(reported, stored, err)
}

func (t *Tracker) apply(reported, stored State, err error) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.state.Store(int32(stored))
	for _, l := range t.snapshot() {
		l.fn(reported, err)
	}
}

// Listen registers fn and returns a function that removes it. Listeners run
// synchronously on the goroutine that applied the transition and must not
// call Set or Report.
func (t *Tracker) Listen(fn Listener) (remove func()) {
	entry := &listenerEntry{fn: fn}

	t.mu.Lock()
	t.listeners = append(t.listeners, entry)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, l := range t.listeners {
				if l == entry {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *Tracker) snapshot() []*listenerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*listenerEntry(nil), t.listeners...)
}
