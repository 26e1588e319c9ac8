package transport

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every [event, {"tid": x}] with [event+":success", {"rid": x}].
// With dropFirst set the first connection is closed after one reply.
type echoServer struct {
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	conns     int
	dropFirst bool
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	drop := s.dropFirst && s.conns == 1
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			continue
		}
		var in struct {
			TID string `json:"tid"`
		}
		_ = json.Unmarshal(f.Payload, &in)
		out, _ := EncodeFrame(f.Event+":success", json.RawMessage(`{"rid":"`+in.TID+`"}`))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
		if drop {
			return
		}
	}
}

func (s *echoServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

type recorder struct {
	mu     sync.Mutex
	events []string
	frames chan Frame
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan Frame, 16)}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnect:          func() { r.add("connect") },
		OnDisconnect:       func(error) { r.add("disconnect") },
		OnReconnectAttempt: func(int, time.Duration) { r.add("reconnect_attempt") },
		OnReconnectFailed:  func(error) { r.add("reconnect_failed") },
		OnConnectError:     func(error) { r.add("connect_error") },
		OnConnectTimeout:   func(error) { r.add("connect_timeout") },
		OnFrame:            func(ev string, p json.RawMessage) { r.frames <- Frame{Event: ev, Payload: p} },
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func running(w *WebSocket) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2, RandomizationFactor: 0.1}
}

func TestWebSocketEmitBeforeConnectIsFlushed(t *testing.T) {
	srv := httptest.NewServer(&echoServer{})
	defer srv.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{URL: wsURL(srv), ConnectTimeout: time.Second}, rec.handlers()))
	defer ws.Disconnect()

	require.NoError(t, ws.Emit("text", json.RawMessage(`{"tid":"t1"}`)))

	select {
	case f := <-rec.frames:
		assert.Equal(t, "text:success", f.Event)
		assert.JSONEq(t, `{"rid":"t1"}`, string(f.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no response frame")
	}
	assert.Equal(t, []string{"connect"}, rec.snapshot())
}

func TestWebSocketReconnectsAfterDrop(t *testing.T) {
	server := &echoServer{dropFirst: true}
	srv := httptest.NewServer(server)
	defer srv.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{
		URL:            wsURL(srv),
		ConnectTimeout: time.Second,
		AutoReconnect:  true,
		Backoff:        fastBackoff(),
	}, rec.handlers()))
	defer ws.Disconnect()

	require.NoError(t, ws.Emit("text", json.RawMessage(`{"tid":"t1"}`)))
	<-rec.frames

	require.Eventually(t, func() bool { return server.connections() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) >= 4 && ev[len(ev)-1] == "connect"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"connect", "disconnect", "reconnect_attempt", "connect"}, rec.snapshot())
}

func TestWebSocketConnectErrorWithoutReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{URL: "ws://" + addr, ConnectTimeout: time.Second}, rec.handlers()))
	defer ws.Disconnect()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"connect_error"}, rec.snapshot())
}

func TestWebSocketGivesUpAfterMaxAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{
		URL:                  "ws://" + addr,
		ConnectTimeout:       time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 2,
		Backoff:              fastBackoff(),
	}, rec.handlers()))
	defer ws.Disconnect()

	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) > 0 && ev[len(ev)-1] == "reconnect_failed"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"connect_error", "reconnect_attempt", "reconnect_attempt", "reconnect_failed"}, rec.snapshot())
}

func TestWebSocketConnectValidation(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{})

	assert.ErrorIs(t, ws.Connect(Options{URL: "http://host"}, Handlers{}), ErrInvalidAddress)
	assert.ErrorIs(t, ws.Connect(Options{URL: "not a url"}, Handlers{}), ErrInvalidAddress)
	assert.ErrorIs(t, ws.Emit("text", nil), ErrClosed)
}

func TestWebSocketDisconnectStopsLoop(t *testing.T) {
	srv := httptest.NewServer(&echoServer{})
	defer srv.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{URL: wsURL(srv), AutoReconnect: true, Backoff: fastBackoff()}, rec.handlers()))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Disconnect())
	require.NoError(t, ws.Disconnect())

	assert.ErrorIs(t, ws.Emit("text", nil), ErrClosed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"connect"}, rec.snapshot())
	require.NoError(t, ws.Connect(Options{URL: wsURL(srv)}, Handlers{}))
	require.NoError(t, ws.Disconnect())
}

func TestWebSocketConnectAgainAfterLoopExits(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rec := newRecorder()
	ws := NewWebSocket(WebSocketConfig{})
	require.NoError(t, ws.Connect(Options{URL: "ws://" + addr, ConnectTimeout: time.Second}, rec.handlers()))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !running(ws) }, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ws.Emit("text", json.RawMessage(`{}`)), ErrClosed)

	srv := httptest.NewServer(&echoServer{})
	defer srv.Close()

	require.NoError(t, ws.Connect(Options{URL: wsURL(srv), ConnectTimeout: time.Second}, rec.handlers()))
	defer ws.Disconnect()
	require.NoError(t, ws.Emit("text", json.RawMessage(`{"tid":"t2"}`)))

	select {
	case f := <-rec.frames:
		assert.Equal(t, "text:success", f.Event)
		assert.JSONEq(t, `{"rid":"t2"}`, string(f.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no response frame")
	}
	assert.Equal(t, []string{"connect_error", "connect"}, rec.snapshot())
}
