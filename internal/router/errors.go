package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNilRequest is returned by SendRequest for a nil request
	ErrNilRequest = errors.New("request is nil")
	// ErrNilCallback is returned by SendRequest for a nil callback
	ErrNilCallback = errors.New("callback is nil")
	// ErrEmptyEvent is returned for a request without an event name
	ErrEmptyEvent = errors.New("request event name is empty")
	// ErrEmptyTransactionID is returned for a request without a transaction id
	ErrEmptyTransactionID = errors.New("transaction id is empty")
	// ErrInvalidPayload is returned when a payload is not a JSON object
	ErrInvalidPayload = errors.New("request payload must be a JSON object")
	// ErrRouterClosed is returned by calls made after Shutdown
	ErrRouterClosed = errors.New("router is shut down")
	// ErrNoQueue is returned by ReplayDurable on a router without a queue
	ErrNoQueue = errors.New("router has no durable queue")
	// ErrAlreadyReplayed is returned by a second ReplayDurable on one router
	ErrAlreadyReplayed = errors.New("durable queue already replayed")

	// ErrConnectionClosed is the cause handed to pending callbacks at Shutdown
	ErrConnectionClosed = errors.New("connection closed")
	// ErrRequestTimeout is the cause handed to callbacks whose response did
	// not arrive within the configured request timeout
	ErrRequestTimeout = errors.New("request timed out")
	// ErrUnexpectedResponse is the cause when a success payload fails to parse
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrProtocol is the cause when the server answered with an event other
	// than the request's success event
	ErrProtocol = errors.New("error response")
)

// Error codes set on ErrorInfo by the router itself. Server error responses
// carry whatever code the server sent.
const (
	CodeConnectionClosed   = "connection_closed"
	CodeTimeout            = "timeout"
	CodeUnexpectedResponse = "unexpected_response"
)

// ErrorInfo describes a failed request. It is what the error side of a
// Callback receives.
type ErrorInfo struct {
	// Event is the response event, or empty for locally generated failures
	Event          string
	TransactionID  string
	ConversationID string
	Code           string
	Message        string
	// Payload is the raw response payload, if there was one
	Payload json.RawMessage
	Cause   error
}

func (e *ErrorInfo) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	switch {
	case e.Event != "" && e.Code != "":
		return fmt.Sprintf("%s [%s]: %s", e.Event, e.Code, msg)
	case e.Event != "":
		return fmt.Sprintf("%s: %s", e.Event, msg)
	case e.Code != "":
		return fmt.Sprintf("[%s] %s", e.Code, msg)
	default:
		return msg
	}
}

func (e *ErrorInfo) Unwrap() error {
	return e.Cause
}

// ConnectionError is returned by Connect when the address is malformed or
// the transport rejects its options.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %q: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var (
	errorCodePaths    = []string{"code", "error.code", "body.code", "body.error.code"}
	errorMessagePaths = []string{"description", "message", "error.message", "error.description", "body.description", "body.message"}
)

// decodeErrorResponse builds the ErrorInfo for a non-success response
func decodeErrorResponse(event, tid, cid string, payload json.RawMessage) *ErrorInfo {
	info := &ErrorInfo{
		Event:          event,
		TransactionID:  tid,
		ConversationID: cid,
		Payload:        payload,
		Cause:          ErrProtocol,
	}
	info.Code = firstString(payload, errorCodePaths)
	info.Message = firstString(payload, errorMessagePaths)
	if info.Message == "" {
		info.Message = "unexpected response event"
	}
	return info
}

func firstString(payload json.RawMessage, paths []string) string {
	for _, res := range gjson.GetManyBytes(payload, paths...) {
		if res.Exists() && res.Type != gjson.Null && res.String() != "" {
			return res.String()
		}
	}
	return ""
}

func localError(req Request, code string, cause error) *ErrorInfo {
	return &ErrorInfo{
		TransactionID: req.TransactionID(),
		Code:          code,
		Message:       cause.Error(),
		Cause:         cause,
	}
}
