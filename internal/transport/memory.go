package transport

import (
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process Transport driven by hand. It records emitted
// frames and lets the owner inject inbound frames and connection signals,
// which makes it the transport of choice for tests and offline tooling.
type Memory struct {
	mu         sync.Mutex
	handlers   Handlers
	opts       Options
	running    bool
	connected  bool
	emitted    []Frame
	onEmit     func(Frame)
	connectErr error
}

// NewMemory creates an idle in-memory transport
func NewMemory() *Memory {
	return &Memory{}
}

// RejectConnect makes the next Connect calls fail with err
func (m *Memory) RejectConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// OnEmit installs a hook called synchronously after every Emit, outside the
// transport's lock, so it may inject responses.
func (m *Memory) OnEmit(fn func(Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmit = fn
}

func (m *Memory) Connect(opts Options, h Handlers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	if m.running {
		return ErrAlreadyConnected
	}
	m.opts = opts
	m.handlers = h
	m.running = true
	return nil
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.connected = false
	m.handlers = Handlers{}
	return nil
}

func (m *Memory) Emit(event string, payload json.RawMessage) error {
	if _, err := EncodeFrame(event, payload); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrClosed
	}
	f := Frame{Event: event, Payload: append(json.RawMessage(nil), payload...)}
	m.emitted = append(m.emitted, f)
	hook := m.onEmit
	m.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

// Options returns the options of the last successful Connect
func (m *Memory) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Running reports whether Connect was called without a later Disconnect
func (m *Memory) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Connected reports whether the last signal left the transport connected
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Emitted returns a copy of every frame emitted so far
func (m *Memory) Emitted() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.emitted...)
}

// Deliver injects an inbound frame
func (m *Memory) Deliver(event string, payload json.RawMessage) {
	m.current().frame(event, payload)
}

// DeliverRaw decodes data as a wire frame and injects it
func (m *Memory) DeliverRaw(data []byte) error {
	f, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	m.Deliver(f.Event, f.Payload)
	return nil
}

// SignalConnect reports a successful connection
func (m *Memory) SignalConnect() {
	m.setConnected(true)
	m.current().connect()
}

// SignalDisconnect reports a dropped connection
func (m *Memory) SignalDisconnect(err error) {
	m.setConnected(false)
	m.current().disconnect(err)
}

// SignalReconnectAttempt reports a scheduled reconnect
func (m *Memory) SignalReconnectAttempt(attempt int, delay time.Duration) {
	m.current().reconnectAttempt(attempt, delay)
}

// SignalReconnectFailed reports that reconnecting was abandoned
func (m *Memory) SignalReconnectFailed(err error) {
	m.setConnected(false)
	m.current().reconnectFailed(err)
}

// SignalConnectError reports a failed connection attempt
func (m *Memory) SignalConnectError(err error) {
	m.current().connectError(err)
}

// SignalConnectTimeout reports a timed out connection attempt
func (m *Memory) SignalConnectTimeout(err error) {
	m.current().connectTimeout(err)
}

func (m *Memory) current() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *Memory) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}
