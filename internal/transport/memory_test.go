package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecordsEmits(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.Emit("text", nil), ErrClosed)

	require.NoError(t, m.Connect(Options{URL: "ws://test"}, Handlers{}))
	assert.ErrorIs(t, m.Connect(Options{}, Handlers{}), ErrAlreadyConnected)
	assert.Equal(t, "ws://test", m.Options().URL)

	require.NoError(t, m.Emit("text", json.RawMessage(`{"tid":"a"}`)))
	assert.ErrorIs(t, m.Emit("text", json.RawMessage(`{bad`)), ErrInvalidFrame)

	emitted := m.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, "text", emitted[0].Event)
	assert.JSONEq(t, `{"tid":"a"}`, string(emitted[0].Payload))
}

func TestMemorySignalsReachHandlers(t *testing.T) {
	var events []string
	var frames []Frame
	m := NewMemory()
	require.NoError(t, m.Connect(Options{}, Handlers{
		OnConnect:          func() { events = append(events, "connect") },
		OnDisconnect:       func(error) { events = append(events, "disconnect") },
		OnReconnectAttempt: func(n int, _ time.Duration) { events = append(events, "attempt") },
		OnReconnectFailed:  func(error) { events = append(events, "failed") },
		OnFrame:            func(ev string, p json.RawMessage) { frames = append(frames, Frame{ev, p}) },
	}))

	m.SignalConnect()
	assert.True(t, m.Connected())
	m.Deliver("member:joined", json.RawMessage(`{"cid":"c"}`))
	require.NoError(t, m.DeliverRaw([]byte(`["session:terminated"]`)))
	assert.Error(t, m.DeliverRaw([]byte(`{}`)))
	m.SignalDisconnect(errors.New("gone"))
	assert.False(t, m.Connected())
	m.SignalReconnectAttempt(1, time.Second)
	m.SignalReconnectFailed(errors.New("gave up"))
	// handlers without a callback are skipped
	m.SignalConnectError(errors.New("refused"))
	m.SignalConnectTimeout(errors.New("slow"))

	assert.Equal(t, []string{"connect", "disconnect", "attempt", "failed"}, events)
	require.Len(t, frames, 2)
	assert.Equal(t, "session:terminated", frames[1].Event)
	assert.JSONEq(t, `{}`, string(frames[1].Payload))
}

func TestMemoryDisconnectDropsHandlers(t *testing.T) {
	called := false
	m := NewMemory()
	require.NoError(t, m.Connect(Options{}, Handlers{OnFrame: func(string, json.RawMessage) { called = true }}))
	require.NoError(t, m.Disconnect())
	assert.False(t, m.Running())

	m.Deliver("x", nil)
	assert.False(t, called)
}

func TestMemoryRejectConnect(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.RejectConnect(boom)
	assert.ErrorIs(t, m.Connect(Options{}, Handlers{}), boom)

	m.RejectConnect(nil)
	assert.NoError(t, m.Connect(Options{}, Handlers{}))
}

func TestMemoryOnEmitHookMayDeliver(t *testing.T) {
	var got []string
	m := NewMemory()
	require.NoError(t, m.Connect(Options{}, Handlers{
		OnFrame: func(ev string, _ json.RawMessage) { got = append(got, ev) },
	}))
	m.OnEmit(func(f Frame) { m.Deliver(f.Event+":success", nil) })

	require.NoError(t, m.Emit("text", nil))
	assert.Equal(t, []string{"text:success"}, got)
}
