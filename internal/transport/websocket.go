package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/eventsock/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 1 << 20

	defaultSendBuffer = 256

	defaultConnectTimeout = 20 * time.Second
)

// WebSocketConfig tunes the websocket transport. Zero values use defaults.
type WebSocketConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	Logger         *slog.Logger
}

// WebSocket is a Transport over gorilla/websocket. Each frame is one text
// message. It reconnects on its own when Options.AutoReconnect is set.
type WebSocket struct {
	cfg WebSocketConfig
	log *slog.Logger

	mu      sync.Mutex
	send    chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewWebSocket creates an idle websocket transport
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Slog(logger.Global().WithPrefix("transport"))
	}

	return &WebSocket{
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

// Connect validates opts and starts the connection loop
func (w *WebSocket) Connect(opts Options, h Handlers) error {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, opts.URL)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative, got %d", opts.MaxReconnectAttempts)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(ctx, w.done, opts, h)
	return nil
}

// Disconnect stops the connection loop and waits for it to exit. Handlers
// are not called after Disconnect returns.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Emit buffers one frame for the write loop. It fails with ErrClosed when no
// loop is running.
func (w *WebSocket) Emit(event string, payload json.RawMessage) error {
	data, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrClosed
	}

	select {
	case w.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// run owns the connection lifecycle: dial, serve, and reconnect with backoff.
// When it stops on its own the transport is idle again and can be
// reconnected.
func (w *WebSocket) run(ctx context.Context, done chan struct{}, opts Options, h Handlers) {
	defer func() {
		w.mu.Lock()
		if w.done == done && w.running {
			w.running = false
			w.cancel()
		}
		w.mu.Unlock()
		close(done)
	}()

	log := w.log.With("url", opts.URL)
	b := opts.Backoff.NewBackOff()
	attempt := 0

	for {
		conn, err := w.dial(ctx, opts)
		if err == nil {
			b.Reset()
			attempt = 0
			log.Info("connected")
			h.connect()

			err = w.serve(ctx, conn, h)
			if ctx.Err() != nil {
				return
			}
			log.Warn("connection lost", "error", err)
			h.disconnect(err)
		} else {
			if ctx.Err() != nil {
				return
			}
			if attempt == 0 {
				if IsTimeout(err) {
					h.connectTimeout(err)
				} else {
					h.connectError(err)
				}
			}
			log.Warn("dial failed", "attempt", attempt, "error", err)
		}

		if !opts.AutoReconnect {
			return
		}
		if opts.MaxReconnectAttempts > 0 && attempt >= opts.MaxReconnectAttempts {
			log.Error("giving up reconnecting", "attempts", attempt)
			h.reconnectFailed(err)
			return
		}
		if IsNoNetwork(err) {
			b.Reset()
		}

		delay := b.NextBackOff()
		attempt++
		h.reconnectAttempt(attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *WebSocket) dial(ctx context.Context, opts Options) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(dialCtx, opts.URL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// serve pumps frames until the connection fails or ctx is cancelled
func (w *WebSocket) serve(ctx context.Context, conn *websocket.Conn, h Handlers) error {
	readErr := make(chan error, 1)
	readDone := false
	go func() {
		readErr <- w.readPump(conn, h)
	}()
	defer func() {
		conn.Close()
		if !readDone {
			<-readErr
		}
	}()

	ticker := time.NewTicker(w.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.cfg.WriteWait))
			return ctx.Err()

		case err := <-readErr:
			readDone = true
			return err

		case data := <-w.send:
			_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func (w *WebSocket) readPump(conn *websocket.Conn, h Handlers) error {
	conn.SetReadLimit(w.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.Join(ErrClosed, err)
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			w.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		h.frame(frame.Event, frame.Payload)
	}
}
