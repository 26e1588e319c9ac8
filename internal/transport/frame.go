package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidFrame is returned for data that is not an [event, payload] array
var ErrInvalidFrame = errors.New("invalid frame")

var emptyObject = json.RawMessage(`{}`)

// Frame is one [event, payload] message
type Frame struct {
	Event   string
	Payload json.RawMessage
}

// EncodeFrame renders event and payload as a JSON array. A nil payload is
// sent as an empty object.
func EncodeFrame(event string, payload json.RawMessage) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: empty event name", ErrInvalidFrame)
	}
	if len(payload) == 0 {
		payload = emptyObject
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload for %s is not valid JSON", ErrInvalidFrame, event)
	}
	return json.Marshal([]json.RawMessage{mustQuote(event), payload})
}

// DecodeFrame parses a JSON [event, payload] array. A missing payload
// decodes as an empty object.
func DecodeFrame(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(parts) == 0 {
		return Frame{}, fmt.Errorf("%w: empty array", ErrInvalidFrame)
	}

	var f Frame
	if err := json.Unmarshal(parts[0], &f.Event); err != nil || f.Event == "" {
		return Frame{}, fmt.Errorf("%w: first element must be a non-empty event name", ErrInvalidFrame)
	}
	if len(parts) > 1 && string(parts[1]) != "null" {
		f.Payload = parts[1]
	} else {
		f.Payload = emptyObject
	}
	return f, nil
}

func mustQuote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
