package router

import (
	"github.com/google/uuid"

	"github.com/codefionn/eventsock/internal/queue"
)

// SendEntry re-submits a queued entry under a fresh transaction id. done is
// called once the response, of whatever kind, has been handled.
func (r *Router) SendEntry(entry queue.Entry, done func(err error)) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	r.popBacklog()

	req := &replayRequest{
		tid:     uuid.NewString(),
		event:   entry.Name,
		payload: entry.Payload,
	}
	return r.SendRequest(req, func(res Result) {
		if res.Err != nil {
			done(res.Err)
			return
		}
		done(nil)
	})
}

// ReplayDurable sends the queued requests left by a previous run one at a
// time, each after the previous one resolved. onAllFlushed runs after the
// last one, or immediately when nothing was queued. It runs at most once per
// router; later calls return ErrAlreadyReplayed.
//
// Entries not yet re-sent stay in the durable queue, so a crash or Shutdown
// during replay does not lose them.
func (r *Router) ReplayDurable(onAllFlushed func()) error {
	if r.queue == nil {
		return ErrNoQueue
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}
	if !r.replayed.CompareAndSwap(false, true) {
		return ErrAlreadyReplayed
	}

	r.persistMu.Lock()
	err := r.loadPreviousLocked()
	entries := append([]queue.Entry(nil), r.backlog...)
	r.persistLocked()
	r.persistMu.Unlock()
	if err != nil {
		return err
	}

	r.log.Info("replaying %d queued request(s)", len(entries))
	queue.Replay(entries, r, onAllFlushed)
	return nil
}

// loadPreviousLocked moves the snapshot left by a previous run into the
// backlog. Only the first call reads the store; after that the snapshot
// holds this router's own writes. persistMu must be held.
func (r *Router) loadPreviousLocked() error {
	if r.loaded {
		return nil
	}
	r.loaded = true

	entries, err := r.queue.LoadAndClear()
	r.backlog = append(r.backlog, entries...)
	return err
}

func (r *Router) popBacklog() {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if len(r.backlog) > 0 {
		r.backlog = r.backlog[1:]
	}
}
