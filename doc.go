// Package realtime provides an embeddable real-time messaging kernel for backend services.
//
// The kernel accepts client connections over pluggable transports, routes typed
// messages to registered handlers, maintains room membership and presence, and
// federates events between backend nodes over a direct peer-to-peer TCP mesh.
//
// # Architecture
//
// Messages are JSON objects with a "type" field used as the routing key.
// Handlers are registered per type (plus an optional wildcard) and are invoked
// sequentially for each inbound message with a per-invocation Toolkit bound to
// the originating client. All outbound traffic flows through the Hub, which
// owns the client registry, the room manager, and the presence store.
//
// # Quick Start
//
//	import (
//	    "github.com/NemoZon/real-time-framework/kernel"
//	    "github.com/NemoZon/real-time-framework/ws"
//	)
//
//	k := kernel.New(kernel.Config{LogLevel: "info"})
//	k.UseTransport(ws.New(ws.Config{Port: 7070}))
//
//	k.On("chat:message", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
//	    tk.Rooms().Broadcast(msg.Room, msg, realtime.RoomBroadcastOptions{ExceptSelf: true})
//	    return nil
//	})
//
//	k.Start(ctx)
//
// # Transports
//
// Two transports ship with the framework:
//
//   - ws: a WebSocket server speaking RFC 6455 text frames. Payloads are UTF-8
//     JSON messages. The framing layer is implemented directly on the hijacked
//     TCP connection.
//   - mesh: a TCP peer-to-peer transport for federating events between sibling
//     backend nodes. Each remote node is surfaced locally as one synthetic
//     client with id "mesh:<nodeId>".
//
// Transports hold a reference to the Hub only; they never reach into the
// Kernel.
//
// # Acknowledgements
//
// A message carrying an "ack" token receives exactly one "system:ack" reply
// after every handler for it has completed. Handler failures are isolated:
// the originator receives a "system:error" and the remaining handlers still
// run.
//
// # Delivery semantics
//
// Best effort only. No guaranteed delivery, no ordered delivery across
// transports, no durable storage of messages or presence. Per connection,
// messages are processed in wire order.
package realtime
