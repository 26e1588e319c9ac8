package queue

import (
	"sync"

	"github.com/codefionn/eventsock/internal/logger"
)

// Sender re-submits a queued entry. done must be called exactly once when
// the entry's response (success or error) has been processed.
type Sender interface {
	SendEntry(entry Entry, done func(err error)) error
}

// Replay sends entries one at a time, starting the next only after the
// previous one resolved, then calls onAllFlushed. A failed entry counts as
// resolved. An empty slice calls onAllFlushed immediately.
func Replay(entries []Entry, sender Sender, onAllFlushed func()) {
	log := logger.Global().WithPrefix("queue")

	var step func(i int)
	step = func(i int) {
		if i >= len(entries) {
			log.Debug("replay flushed %d request(s)", len(entries))
			if onAllFlushed != nil {
				onAllFlushed()
			}
			return
		}

		entry := entries[i]
		var once sync.Once
		next := func(err error) {
			once.Do(func() {
				if err != nil {
					log.Warn("replayed %s resolved with error: %v", entry.Name, err)
				}
				step(i + 1)
			})
		}

		log.Debug("replaying %s (%d/%d)", entry.Name, i+1, len(entries))
		if err := sender.SendEntry(entry, next); err != nil {
			next(err)
		}
	}
	step(0)
}
