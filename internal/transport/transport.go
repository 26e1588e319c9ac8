// Package transport carries [event, payload] frames over a persistent
// connection and reports connection health through callbacks.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrClosed is returned by Emit when the transport is not running
	ErrClosed = errors.New("transport is closed")
	// ErrAlreadyConnected is returned by Connect on a running transport
	ErrAlreadyConnected = errors.New("transport already connected")
	// ErrBufferFull is returned by Emit when the outbound buffer is full
	ErrBufferFull = errors.New("transport send buffer is full")
	// ErrInvalidAddress is returned for addresses that cannot be dialed
	ErrInvalidAddress = errors.New("invalid address")
)

// Transport is a bidirectional frame channel. Implementations must be safe
// for concurrent use; handlers are invoked from the transport's own
// goroutines.
type Transport interface {
	// Connect starts the connection in the background. It returns an error
	// only when opts are rejected; connection outcomes arrive via h.
	Connect(opts Options, h Handlers) error
	// Disconnect closes the connection, stops reconnecting and drops h.
	Disconnect() error
	// Emit queues one frame. Frames emitted while a connection is being
	// established are buffered and flushed once it is up.
	Emit(event string, payload json.RawMessage) error
}

// Handlers receives transport signals. Nil fields are ignored.
type Handlers struct {
	OnConnect          func()
	OnDisconnect       func(err error)
	OnReconnectAttempt func(attempt int, delay time.Duration)
	OnReconnectFailed  func(err error)
	OnConnectError     func(err error)
	OnConnectTimeout   func(err error)
	OnFrame            func(event string, payload json.RawMessage)
}

func (h Handlers) connect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Handlers) disconnect(err error) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func (h Handlers) reconnectAttempt(attempt int, delay time.Duration) {
	if h.OnReconnectAttempt != nil {
		h.OnReconnectAttempt(attempt, delay)
	}
}

func (h Handlers) reconnectFailed(err error) {
	if h.OnReconnectFailed != nil {
		h.OnReconnectFailed(err)
	}
}

func (h Handlers) connectError(err error) {
	if h.OnConnectError != nil {
		h.OnConnectError(err)
	}
}

func (h Handlers) connectTimeout(err error) {
	if h.OnConnectTimeout != nil {
		h.OnConnectTimeout(err)
	}
}

func (h Handlers) frame(event string, payload json.RawMessage) {
	if h.OnFrame != nil {
		h.OnFrame(event, payload)
	}
}

// Options configures one Connect call
type Options struct {
	// URL is the full ws:// or wss:// endpoint, see ResolveURL
	URL string
	// Header is sent with the handshake (auth tokens, user agent)
	Header http.Header
	// AutoReconnect retries after failures and drops
	AutoReconnect bool
	// ConnectTimeout bounds each dial including the handshake
	ConnectTimeout time.Duration
	// MaxReconnectAttempts stops retrying after this many consecutive
	// failed attempts; zero retries forever
	MaxReconnectAttempts int
	// Backoff spaces reconnect attempts
	Backoff BackoffPolicy
}

// BackoffPolicy is an exponential delay with jitter
type BackoffPolicy struct {
	Initial             time.Duration
	Max                 time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultBackoff starts at 10s, doubles with ±20% jitter and caps at 120s
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:             10 * time.Second,
		Max:                 120 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// NewBackOff builds a backoff that never gives up on its own; attempt
// limits are enforced by the caller.
func (p BackoffPolicy) NewBackOff() *backoff.ExponentialBackOff {
	def := DefaultBackoff()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor >= 1 {
		p.RandomizationFactor = def.RandomizationFactor
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ResolveURL joins address and path into a websocket URL. http and https
// addresses are mapped to ws and wss.
func ResolveURL(address, path string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, address)
	}

	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return u.String(), nil
}

// IsTimeout reports whether err is a dial or handshake timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNoNetwork reports whether err means the host has no usable network, as
// opposed to the server refusing us. Such failures restart the backoff at
// its initial delay instead of escalating it.
func IsNoNetwork(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsNotFound {
		return true
	}
	return errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN)
}
