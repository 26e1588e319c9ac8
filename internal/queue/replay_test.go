package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records sends and lets the test resolve them later
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	pending []func(error)
	failOn  string
}

func (s *fakeSender) SendEntry(e Entry, done func(error)) error {
	if e.Name == s.failOn {
		return errors.New("rejected")
	}
	s.mu.Lock()
	s.sent = append(s.sent, e.Name)
	s.pending = append(s.pending, done)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) resolveNext(err error) {
	s.mu.Lock()
	done := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	done(err)
}

func (s *fakeSender) sentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func names(ns ...string) []Entry {
	out := make([]Entry, len(ns))
	for i, n := range ns {
		out[i] = Entry{Name: n, Payload: []byte(`{}`)}
	}
	return out
}

func TestReplayIsSequential(t *testing.T) {
	sender := &fakeSender{}
	flushed := false

	Replay(names("A", "B", "C"), sender, func() { flushed = true })

	assert.Equal(t, []string{"A"}, sender.sentNames())

	sender.resolveNext(nil)
	assert.Equal(t, []string{"A", "B"}, sender.sentNames())

	// An error response also counts as done.
	sender.resolveNext(errors.New("unexpected event"))
	assert.Equal(t, []string{"A", "B", "C"}, sender.sentNames())
	assert.False(t, flushed)

	sender.resolveNext(nil)
	assert.True(t, flushed)
}

func TestReplayEmptyFlushesImmediately(t *testing.T) {
	flushed := false
	Replay(nil, &fakeSender{}, func() { flushed = true })
	assert.True(t, flushed)
}

func TestReplaySkipsEntriesThatFailToSend(t *testing.T) {
	sender := &fakeSender{failOn: "B"}
	flushed := make(chan struct{})

	Replay(names("A", "B", "C"), sender, func() { close(flushed) })

	sender.resolveNext(nil)
	require.Equal(t, []string{"A", "C"}, sender.sentNames())
	sender.resolveNext(nil)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("replay did not flush")
	}
}

func TestReplayIgnoresDoubleDone(t *testing.T) {
	sender := &fakeSender{}
	count := 0

	Replay(names("A", "B"), sender, func() { count++ })

	sender.mu.Lock()
	first := sender.pending[0]
	sender.mu.Unlock()
	first(nil)
	first(nil)

	assert.Equal(t, []string{"A", "B"}, sender.sentNames())
	sender.resolveNext(nil) // A's stale entry
	sender.resolveNext(nil) // B
	assert.Equal(t, 1, count)
}
