// Package router turns a fire-and-forget event transport into a
// request/response API. It correlates responses with pending requests by
// transaction id, fans unsolicited events out to subscribers, tracks the
// connection state and keeps persistable requests in a durable queue.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codefionn/eventsock/internal/logger"
	"github.com/codefionn/eventsock/internal/maplist"
	"github.com/codefionn/eventsock/internal/netstate"
	"github.com/codefionn/eventsock/internal/pending"
	"github.com/codefionn/eventsock/internal/queue"
	"github.com/codefionn/eventsock/internal/transport"
)

// Config holds router dependencies and tuning
type Config struct {
	// Transport carries frames. Required.
	Transport transport.Transport
	// Queue stores persistable requests. Optional; without it persistable
	// requests behave like ordinary ones.
	Queue *queue.Queue
	// RequestTimeout fails a request whose response has not arrived in time.
	// Zero waits forever.
	RequestTimeout time.Duration
	// Logger defaults to the global logger with a "router" prefix
	Logger *logger.Logger
}

// ConnectOptions describes the endpoint and reconnect behaviour
type ConnectOptions struct {
	// Address is the server base URL (ws, wss, http or https)
	Address string
	// Path is appended to Address
	Path string
	// AutoReconnect retries after drops and failed attempts
	AutoReconnect bool
	// ConnectTimeout bounds each connection attempt
	ConnectTimeout time.Duration
	// MaxReconnectAttempts gives up after this many consecutive failures;
	// zero retries forever
	MaxReconnectAttempts int
	// Backoff spaces reconnect attempts; zero fields use the defaults
	Backoff transport.BackoffPolicy
	// Token is sent as a bearer Authorization header when set
	Token string
	// Header is sent with the handshake
	Header http.Header
}

type pendingRequest struct {
	req     Request
	cb      Callback
	payload json.RawMessage
	timer   atomic.Pointer[time.Timer]
}

func (p *pendingRequest) stopTimer() {
	if t := p.timer.Load(); t != nil {
		t.Stop()
	}
}

// Subscription is a registered event listener
type Subscription struct {
	r     *Router
	event string
	fn    EventListener
}

// Event returns the subscribed event name
func (s *Subscription) Event() string {
	return s.event
}

// Unsubscribe removes the listener. It reports whether it was still
// registered.
func (s *Subscription) Unsubscribe() bool {
	return s.r.subs.RemoveIfExists(s.event, s)
}

// Router is the single entry point for sending requests and receiving
// events over one transport connection.
//
// Callbacks, event listeners and state listeners run on the transport's
// delivery goroutine. They must not call Shutdown.
type Router struct {
	transport transport.Transport
	queue     *queue.Queue
	timeout   time.Duration
	log       *logger.Logger

	state   *netstate.Tracker
	pending *pending.Table[*pendingRequest]
	subs    *maplist.MapList[string, *Subscription]

	// persistMu keeps snapshot and write together so an older snapshot
	// never lands after a newer one. It also guards backlog.
	persistMu sync.Mutex
	// backlog holds entries from a previous run not yet re-submitted
	backlog []queue.Entry
	// loaded is set once the previous run's snapshot was moved to backlog
	loaded bool

	replayed atomic.Bool
	closed   atomic.Bool
}

// New creates a router. It does not connect.
func New(cfg Config) (*Router, error) {
	if cfg.Transport == nil {
		return nil, errors.New("router requires a transport")
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request timeout must not be negative, got %s", cfg.RequestTimeout)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithPrefix("router")
	}

	return &Router{
		transport: cfg.Transport,
		queue:     cfg.Queue,
		timeout:   cfg.RequestTimeout,
		log:       log,
		state:     netstate.NewTracker(),
		pending:   pending.NewTable[*pendingRequest](),
		subs:      maplist.New[string, *Subscription](),
	}, nil
}

// Connect opens the transport. It fails with *ConnectionError when the
// address is malformed or the transport rejects the options; connection
// outcomes after that are reported through OnStateChange.
func (r *Router) Connect(opts ConnectOptions) error {
	if r.closed.Load() {
		return &ConnectionError{Address: opts.Address, Err: ErrRouterClosed}
	}

	url, err := transport.ResolveURL(opts.Address, opts.Path)
	if err != nil {
		return &ConnectionError{Address: opts.Address, Err: err}
	}

	header := opts.Header.Clone()
	if opts.Token != "" {
		if header == nil {
			header = http.Header{}
		}
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	r.state.Set(netstate.Connecting, nil)
	r.log.Info("connecting to %s", url)

	err = r.transport.Connect(transport.Options{
		URL:                  url,
		Header:               header,
		AutoReconnect:        opts.AutoReconnect,
		ConnectTimeout:       opts.ConnectTimeout,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		Backoff:              opts.Backoff,
	}, r.handlers())
	if err != nil {
		r.state.Set(netstate.ConnectError, err)
		return &ConnectionError{Address: opts.Address, Err: err}
	}
	return nil
}

func (r *Router) handlers() transport.Handlers {
	return transport.Handlers{
		OnConnect: func() {
			r.log.Info("connected")
			r.setState(netstate.Connected, nil)
		},
		OnDisconnect: func(err error) {
			r.log.Warn("disconnected: %v", err)
			r.setState(netstate.Disconnected, err)
		},
		OnReconnectAttempt: func(attempt int, delay time.Duration) {
			r.log.Info("reconnect attempt %d in %s", attempt, delay)
			r.setState(netstate.Reconnecting, nil)
		},
		OnReconnectFailed: func(err error) {
			r.log.Error("gave up reconnecting: %v", err)
			if !r.closed.Load() {
				r.state.Report(netstate.ReconnectError, netstate.Disconnected, err)
			}
		},
		OnConnectError: func(err error) {
			r.log.Warn("connect error: %v", err)
			r.setState(netstate.ConnectError, err)
		},
		OnConnectTimeout: func(err error) {
			r.log.Warn("connect timeout: %v", err)
			r.setState(netstate.ConnectTimeout, err)
		},
		OnFrame: r.dispatch,
	}
}

func (r *Router) setState(s netstate.State, err error) {
	if r.closed.Load() {
		return
	}
	r.state.Set(s, err)
}

// State returns the current connection state
func (r *Router) State() netstate.State {
	return r.state.Get()
}

// OnStateChange registers fn for every connection transition, including
// repeats. A panicking listener is logged and does not affect others.
func (r *Router) OnStateChange(fn netstate.Listener) (remove func()) {
	return r.state.Listen(func(s netstate.State, err error) {
		defer r.recoverPanic("state listener")
		fn(s, err)
	})
}

// PendingCount returns the number of requests awaiting a response
func (r *Router) PendingCount() int {
	return r.pending.Len()
}

// SendRequest records req and emits it. Malformed requests are rejected
// with an error and cb is never called for them. Otherwise cb is called
// exactly once, from the goroutine that resolves the request.
func (r *Router) SendRequest(req Request, cb Callback) error {
	if req == nil {
		return ErrNilRequest
	}
	if cb == nil {
		return ErrNilCallback
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}

	event, tid := req.RequestEventName(), req.TransactionID()
	if event == "" {
		return ErrEmptyEvent
	}
	if tid == "" {
		return fmt.Errorf("%w: %s", ErrEmptyTransactionID, event)
	}

	payload, err := r.buildPayload(req)
	if err != nil {
		return err
	}

	p := &pendingRequest{req: req, cb: cb, payload: payload}
	if err := r.pending.Put(tid, p); err != nil {
		return err
	}
	// Shutdown may have started after the check above. If its Drain already
	// took the entry, the callback gets ErrConnectionClosed from there.
	if r.closed.Load() {
		if _, ok := r.pending.Remove(tid); ok {
			return ErrRouterClosed
		}
		return nil
	}
	if r.timeout > 0 {
		p.timer.Store(time.AfterFunc(r.timeout, func() { r.expire(tid) }))
	}
	if req.Persistable() {
		r.persist()
	}

	if err := r.transport.Emit(event, payload); err != nil {
		// the entry stays pending; a timeout or Shutdown resolves it
		r.log.Warn("emit %s (%s) failed: %v", event, tid, err)
	} else {
		r.log.Debug("sent %s (%s)", event, tid)
	}
	return nil
}

// buildPayload renders the request payload with its transaction id stamped
// in as "tid"
func (r *Router) buildPayload(req Request) (json.RawMessage, error) {
	raw, err := req.Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s payload: %w", req.RequestEventName(), err)
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, req.RequestEventName())
	}

	stamped, err := sjson.SetBytes(raw, "tid", req.TransactionID())
	if err != nil {
		return nil, fmt.Errorf("failed to stamp transaction id: %w", err)
	}
	return stamped, nil
}

// On subscribes fn to every inbound frame named event, whether or not the
// frame also answers a request
func (r *Router) On(event string, fn EventListener) *Subscription {
	s := &Subscription{r: r, event: event, fn: fn}
	if fn != nil && !r.closed.Load() {
		r.subs.AddIfNotExists(event, s)
	}
	return s
}

// dispatch handles one inbound frame
func (r *Router) dispatch(event string, payload json.RawMessage) {
	ids := gjson.GetManyBytes(payload, "rid", "cid")
	rid, cid := ids[0].String(), ids[1].String()

	if rid != "" {
		r.dispatchResponse(event, rid, cid, payload)
	}

	for _, s := range r.subs.Get(event) {
		r.notify(s, event, payload)
	}
}

func (r *Router) notify(s *Subscription, event string, payload json.RawMessage) {
	defer r.recoverPanic("listener for " + event)
	s.fn(event, payload)
}

// dispatchResponse resolves the pending request tid. Of any number of
// concurrent resolutions for one tid exactly one proceeds.
func (r *Router) dispatchResponse(event, tid, cid string, payload json.RawMessage) {
	p, ok := r.pending.Remove(tid)
	if !ok {
		r.log.Debug("dropping %s for unknown transaction %s", event, tid)
		return
	}
	p.stopTimer()

	var res Result
	if event != p.req.SuccessEventName() {
		res.Err = decodeErrorResponse(event, tid, cid, payload)
	} else {
		value, err := r.parse(p.req, payload)
		if err != nil {
			res.Err = &ErrorInfo{
				Event:          event,
				TransactionID:  tid,
				ConversationID: cid,
				Code:           CodeUnexpectedResponse,
				Message:        err.Error(),
				Payload:        payload,
				Cause:          errors.Join(ErrUnexpectedResponse, err),
			}
		} else {
			res.Value = value
		}
	}

	if p.req.Persistable() {
		r.persist()
	}
	r.resolve(p, res)
}

func (r *Router) parse(req Request, payload json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parser panicked: %v", rec)
		}
	}()
	return req.Parse(payload)
}

func (r *Router) resolve(p *pendingRequest, res Result) {
	defer r.recoverPanic("callback for " + p.req.TransactionID())
	if res.Err != nil {
		r.log.Debug("%s (%s) failed: %v", p.req.RequestEventName(), p.req.TransactionID(), res.Err)
	}
	p.cb(res)
}

// expire fails tid with a timeout unless it was resolved meanwhile
func (r *Router) expire(tid string) {
	p, ok := r.pending.Remove(tid)
	if !ok {
		return
	}
	r.log.Warn("%s (%s) timed out after %s", p.req.RequestEventName(), tid, r.timeout)
	if p.req.Persistable() {
		r.persist()
	}
	r.resolve(p, Result{Err: localError(p.req, CodeTimeout, ErrRequestTimeout)})
}

// persist writes the persistable pending requests. Entries from an earlier
// run come first, in flight before backlog, followed by this run's requests
// in submission order.
func (r *Router) persist() {
	if r.queue == nil {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	r.persistLocked()
}

// persistLocked is persist with persistMu held
func (r *Router) persistLocked() {
	if err := r.loadPreviousLocked(); err != nil {
		r.log.Error("failed to load previous request queue: %v", err)
	}

	var replayed, current []queue.Entry
	for _, p := range r.pending.Snapshot() {
		if !p.req.Persistable() {
			continue
		}
		e := queue.Entry{Name: p.req.RequestEventName(), Payload: p.payload}
		if _, ok := p.req.(*replayRequest); ok {
			replayed = append(replayed, e)
		} else {
			current = append(current, e)
		}
	}

	entries := make([]queue.Entry, 0, len(replayed)+len(r.backlog)+len(current))
	entries = append(entries, replayed...)
	entries = append(entries, r.backlog...)
	entries = append(entries, current...)
	if err := r.queue.Persist(entries); err != nil {
		r.log.Error("failed to persist request queue: %v", err)
	}
}

// Shutdown disconnects the transport, drops every subscription and fails
// each pending request once with ErrConnectionClosed. The durable queue is
// left as it is, so persistable requests are replayed on the next start.
// Calling it again is a no-op.
func (r *Router) Shutdown() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.log.Info("shutting down with %d pending request(s)", r.pending.Len())

	err := r.transport.Disconnect()
	r.subs.Clear()
	r.state.Set(netstate.Disconnected, nil)

	for _, p := range r.pending.Drain() {
		p.stopTimer()
		r.resolve(p, Result{Err: localError(p.req, CodeConnectionClosed, ErrConnectionClosed)})
	}

	if err != nil {
		return fmt.Errorf("failed to disconnect transport: %w", err)
	}
	return nil
}

func (r *Router) recoverPanic(what string) {
	if rec := recover(); rec != nil {
		r.log.Error("%s panicked: %v\n%s", what, rec, debug.Stack())
	}
}
