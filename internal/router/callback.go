package router

import "encoding/json"

// Result is the outcome of one request: either Value is set and Err is nil,
// or Err describes the failure.
type Result struct {
	Value any
	Err   *ErrorInfo
}

// OK reports whether the request succeeded
func (r Result) OK() bool {
	return r.Err == nil
}

// Callback receives the Result of a request exactly once
type Callback func(Result)

// Callbacks adapts a success/error pair into a Callback. Either may be nil.
func Callbacks(onSuccess func(any), onError func(*ErrorInfo)) Callback {
	return func(r Result) {
		if r.Err != nil {
			if onError != nil {
				onError(r.Err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(r.Value)
		}
	}
}

// Discard is a Callback that ignores the result
func Discard(Result) {}

// EventListener receives unsolicited frames for a subscribed event
type EventListener func(event string, payload json.RawMessage)
