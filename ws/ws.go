// Package ws exposes the public constructor for the WebSocket transport.
package ws

import (
	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/wsserver"
)

type Config = wsserver.Config
type RateLimitConfig = wsserver.RateLimitConfig

// Server is the concrete WebSocket transport, exposed for callers that need
// the bound address (e.g. when listening on port 0).
type Server = wsserver.Server

// New creates a WebSocket transport.
//
// Defaults: host 0.0.0.0, port 7070, heartbeat 30s, no path filter, no rate
// limiting.
//
// Example:
//
//	t := ws.New(ws.Config{Port: 7070, Path: "/ws"})
//	k.UseTransport(t)
func New(cfg Config) *Server {
	return wsserver.New(cfg)
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return wsserver.DefaultRateLimitConfig()
}

var _ realtime.Transport = (*Server)(nil)
