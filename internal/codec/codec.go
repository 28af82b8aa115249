// Package codec encodes and decodes wire-level messages as UTF-8 JSON.
package codec

import (
	"encoding/json"
	"errors"

	realtime "github.com/NemoZon/real-time-framework"
)

var (
	// ErrInvalidJSON reports a payload that is not a JSON object.
	ErrInvalidJSON = errors.New(realtime.ErrInvalidMessage)

	// ErrMissingType reports a message without a routing key.
	ErrMissingType = errors.New(realtime.ErrMissingType)
)

// Decode parses data into a Message. It fails on malformed JSON and on
// messages with an empty type.
func Decode(data []byte) (*realtime.Message, error) {
	var msg realtime.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidJSON
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

// Encode serializes a message to JSON.
func Encode(msg *realtime.Message) ([]byte, error) {
	return json.Marshal(msg)
}
