package router

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SuccessSuffix is appended to a request event to form its default success
// event, e.g. "text" answers with "text:success".
const SuccessSuffix = ":success"

// Request is one logical call. Implementations must be immutable once handed
// to the Router.
type Request interface {
	// TransactionID correlates the request with its response
	TransactionID() string
	// RequestEventName is the event the request is emitted under
	RequestEventName() string
	// SuccessEventName is the only response event treated as success
	SuccessEventName() string
	// Persistable requests are written to the durable queue while pending
	Persistable() bool
	// Payload builds the outbound JSON object
	Payload() (json.RawMessage, error)
	// Parse decodes a success payload into the callback's result value
	Parse(payload json.RawMessage) (any, error)
}

// ParseFunc decodes a success payload
type ParseFunc func(payload json.RawMessage) (any, error)

// RequestOption customizes a request built by NewRequest
type RequestOption func(*basicRequest)

// Persistent marks the request for the durable queue
func Persistent() RequestOption {
	return func(r *basicRequest) {
		r.persistable = true
	}
}

// WithParser sets the success payload decoder. Without one the raw payload
// is returned as the result.
func WithParser(fn ParseFunc) RequestOption {
	return func(r *basicRequest) {
		r.parse = fn
	}
}

// WithTransactionID overrides the generated transaction id
func WithTransactionID(tid string) RequestOption {
	return func(r *basicRequest) {
		r.tid = tid
	}
}

type basicRequest struct {
	tid          string
	event        string
	successEvent string
	payload      any
	persistable  bool
	parse        ParseFunc
}

// NewRequest builds a request with a fresh transaction id. payload may be a
// json.RawMessage, a []byte holding JSON, or any value encoding/json can
// marshal into an object. An empty successEvent defaults to event+":success".
func NewRequest(event, successEvent string, payload any, opts ...RequestOption) Request {
	if successEvent == "" && event != "" {
		successEvent = event + SuccessSuffix
	}
	r := &basicRequest{
		tid:          uuid.NewString(),
		event:        event,
		successEvent: successEvent,
		payload:      payload,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *basicRequest) TransactionID() string    { return r.tid }
func (r *basicRequest) RequestEventName() string { return r.event }
func (r *basicRequest) SuccessEventName() string { return r.successEvent }
func (r *basicRequest) Persistable() bool        { return r.persistable }

func (r *basicRequest) Payload() (json.RawMessage, error) {
	switch p := r.payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", r.event, err)
		}
		return data, nil
	}
}

func (r *basicRequest) Parse(payload json.RawMessage) (any, error) {
	if r.parse == nil {
		return payload, nil
	}
	return r.parse(payload)
}

// DecodeInto returns a ParseFunc that unmarshals the payload into a new T
func DecodeInto[T any]() ParseFunc {
	return func(payload json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// replayRequest re-emits a queued payload. Its outcome only matters to the
// replay sequencer, so the response is not decoded.
type replayRequest struct {
	tid     string
	event   string
	payload json.RawMessage
}

func (r *replayRequest) TransactionID() string             { return r.tid }
func (r *replayRequest) RequestEventName() string          { return r.event }
func (r *replayRequest) SuccessEventName() string          { return r.event + SuccessSuffix }
func (r *replayRequest) Persistable() bool                 { return true }
func (r *replayRequest) Payload() (json.RawMessage, error) { return r.payload, nil }
func (r *replayRequest) Parse(json.RawMessage) (any, error) {
	return nil, nil
}
