// Package mesh exposes the public constructor for the peer-mesh transport.
package mesh

import (
	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/meshnet"
)

type Config = meshnet.Config

// Transport is the concrete peer-mesh transport, exposed for callers that
// need the node id, the bound address or the peer broadcast helper.
type Transport = meshnet.Transport

// New creates a peer-mesh transport.
//
// Defaults: host 0.0.0.0, port 9090, reconnect interval 5s, fresh UUID node
// id.
//
// Example:
//
//	t := mesh.New(mesh.Config{Port: 9090, Peers: []string{"10.0.0.2:9090"}})
//	k.UseTransport(t)
func New(cfg Config) *Transport {
	return meshnet.New(cfg)
}

var _ realtime.Transport = (*Transport)(nil)
