// Package meshnet implements the peer-mesh transport: a TCP listener plus
// outbound dialers, a line-delimited JSON envelope protocol, a nodeId hello
// handshake with duplicate-connection resolution, and fixed-interval
// reconnects for configured peers.
package meshnet

import (
	"encoding/json"

	realtime "github.com/NemoZon/real-time-framework"
)

// Envelope kinds on the wire. Each line is one JSON envelope terminated by
// '\n'; there is no other framing.
const (
	kindHello   = "hello"
	kindMessage = "message"
)

type envelope struct {
	Kind    string            `json:"kind"`
	NodeID  string            `json:"nodeId,omitempty"`
	Message *realtime.Message `json:"message,omitempty"`
}

func encodeEnvelope(env envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decodeEnvelope(line []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(line, &env)
	return env, err
}
