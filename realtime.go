package realtime

import "context"

// Message is the wire-level unit routed by the kernel.
//
// Type is the routing key and must be non-empty. Payload carries an arbitrary
// structured value. Room and Ack are optional; Ack is a sender-supplied
// correlation token echoed back as "system:ack" once every handler for the
// message has completed.
//
// Target is accepted at the envelope level for forward compatibility but is
// not consumed by any core routing path; only the webrtc bridge inspects a
// target inside the payload.
//
// Timestamp is stamped by the Hub (milliseconds since epoch) on every
// outbound message and should be left zero by senders.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Target    any    `json:"target,omitempty"`
	Room      string `json:"room,omitempty"`
	Ack       any    `json:"ack,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ClientContext represents a connected endpoint registered with the Hub.
//
// Every endpoint — a WebSocket client or a remote mesh peer — is one
// ClientContext. The owning transport creates it on connection accept and
// provides the two capabilities: SendFunc writes a message to the underlying
// socket, CloseFunc terminates it with an optional reason.
//
// Rooms always reflects the room manager state after the last join/leave; the
// Hub keeps it in sync.
type ClientContext struct {
	// ID is unique within the process: a UUID for local clients,
	// "mesh:<nodeId>" for remote mesh peers.
	ID string

	// Transport tags the origin, e.g. "websocket" or "mesh".
	Transport string

	// Metadata is an open string-keyed map. Updated via presence updates.
	Metadata map[string]any

	// ConnectedAt is the registration time in milliseconds since epoch.
	ConnectedAt int64

	// Rooms lists the rooms the client currently belongs to.
	Rooms []string

	SendFunc  func(msg *Message) error
	CloseFunc func(reason string) error
}

// Send writes a message to the client's underlying connection.
func (c *ClientContext) Send(msg *Message) error {
	if c.SendFunc == nil {
		return nil
	}
	return c.SendFunc(msg)
}

// Close terminates the client's underlying connection.
func (c *ClientContext) Close(reason string) error {
	if c.CloseFunc == nil {
		return nil
	}
	return c.CloseFunc(reason)
}

// Snapshot is the presence mirror of a connected client.
//
// Snapshots are value copies: mutating a returned snapshot does not affect
// the presence store.
type Snapshot struct {
	ID          string         `json:"id"`
	Transport   string         `json:"transport"`
	Metadata    map[string]any `json:"metadata"`
	ConnectedAt int64          `json:"connectedAt"`
	Rooms       []string       `json:"rooms"`
}

// BroadcastOptions scopes a Hub broadcast.
//
// If Room is non-empty the targets are the room's members, otherwise every
// registered client. Ids in Except are subtracted from the target set.
type BroadcastOptions struct {
	Room   string
	Except []string
}

// Hub owns the authoritative client registry and all membership state.
//
// All mutating operations are serialized internally; transports may call in
// from any goroutine. Transports hold a reference to the Hub only and never
// reach into the Kernel.
type Hub interface {
	// RegisterClient inserts the client into the registry, takes the initial
	// presence snapshot and emits the connected event.
	RegisterClient(c *ClientContext)

	// UnregisterClient removes the client, its room memberships and its
	// presence entry, then emits the disconnected event. Unknown ids are a
	// no-op. The Hub enforces exactly one disconnect per client lifetime.
	UnregisterClient(id string, reason string)

	// Receive pushes an inbound message from a transport. Messages from
	// unknown clients are dropped silently (the client may have just
	// disconnected).
	Receive(msg *Message, clientID string)

	// JoinRoom adds the client to a room and refreshes its rooms field and
	// presence entry. Room names are case-insensitive; empty names are a
	// no-op.
	JoinRoom(clientID, room string)

	// LeaveRoom removes the client from a room; empty rooms are dropped.
	LeaveRoom(clientID, room string)

	// Send stamps a timestamp and forwards the message to the client's send
	// capability. It reports whether delivery was attempted.
	Send(clientID string, msg *Message) bool

	// Broadcast stamps a timestamp once and dispatches the message to every
	// target selected by opts. Target enumeration order is unspecified.
	Broadcast(msg *Message, opts BroadcastOptions)

	// Presence exposes the presence store.
	Presence() PresenceView

	// Rooms exposes the room manager.
	Rooms() RoomView

	// OnClientConnected, OnClientDisconnected and OnMessage install the
	// event consumers. The kernel is the only intended consumer.
	OnClientConnected(fn func(c *ClientContext))
	OnClientDisconnected(fn func(c *ClientContext, reason string))
	OnMessage(fn func(msg *Message, c *ClientContext))
}

// PresenceView is a read view of the presence store.
type PresenceView interface {
	// List returns a snapshot of every connected client.
	List() []Snapshot

	// Get returns the snapshot for one client id.
	Get(id string) (Snapshot, bool)

	// Update shallow-merges metadata into the client's snapshot. Unknown ids
	// are a no-op and never recreate a snapshot.
	Update(id string, metadata map[string]any)
}

// RoomView is a read view of the room manager.
type RoomView interface {
	// List returns the client ids in a room, empty if the room is unknown.
	List(room string) []string

	// RoomsFor returns the rooms a client is in.
	RoomsFor(clientID string) []string
}

// Transport is a pluggable connection source driven by the kernel.
//
// Start must not block beyond initial setup; a start failure is fatal and
// propagates out of the kernel's Start. Stop closes every connection owned by
// the transport, which unregisters each of its clients from the Hub.
type Transport interface {
	// Name identifies the transport, e.g. "websocket" or "mesh".
	Name() string

	Start(ctx context.Context, hub Hub) error
	Stop(ctx context.Context) error
}

// Handler processes one inbound message.
//
// Handlers for the same message run sequentially; a returned error (or a
// panic) is isolated, reported to the originator as "system:error", and does
// not stop the remaining handlers.
type Handler func(ctx context.Context, msg *Message, tk Toolkit) error

// Toolkit is the per-invocation capability bundle passed to handlers, bound
// to the originating client.
type Toolkit interface {
	// Client returns the presence snapshot of the originating client, taken
	// when dispatch started.
	Client() Snapshot

	// Reply sends a message back to the originating client.
	Reply(msg *Message)

	// ReplyText is shorthand for replying with
	// {type: "system:reply", payload: {message: text}}.
	ReplyText(text string)

	// Send unicasts to a target client id through the Hub.
	Send(targetID string, msg *Message) bool

	// Broadcast fans the message out. With a nil filter it is a Hub
	// broadcast with no room scope; otherwise the presence list is iterated
	// and the message is sent to every client the filter accepts.
	Broadcast(msg *Message, filter func(Snapshot) bool)

	// Rooms exposes room actions bound to the originating client.
	Rooms() RoomActions

	// Presence exposes presence actions bound to the originating client.
	Presence() PresenceActions

	// Log writes a debug log line scoped to the originating client.
	Log(args ...any)
}

// RoomBroadcastOptions scopes a room broadcast from a handler.
type RoomBroadcastOptions struct {
	// ExceptSelf excludes the originating client.
	ExceptSelf bool

	// Except lists additional client ids to exclude.
	Except []string
}

// RoomActions are the room operations available to a handler.
type RoomActions interface {
	// Join adds the originating client to a room.
	Join(room string)

	// Leave removes the originating client from a room.
	Leave(room string)

	// List returns the client ids in a room.
	List(room string) []string

	// Broadcast sends to a room. An empty room falls back to the triggering
	// message's room; if no room resolves the call is a no-op.
	Broadcast(room string, msg *Message, opts RoomBroadcastOptions)
}

// PresenceActions are the presence operations available to a handler.
type PresenceActions interface {
	List() []Snapshot
	Get(id string) (Snapshot, bool)

	// Update shallow-merges metadata into the originating client's snapshot.
	Update(metadata map[string]any)
}

// Kernel is the public surface of the dispatch kernel.
//
// Example usage:
//
//	k := kernel.New(kernel.Config{LogLevel: "debug"})
//	k.UseTransport(ws.New(ws.Config{Port: 7070}))
//	k.On("chat:join", joinHandler)
//	k.On("*", auditHandler)
//	if err := k.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Kernel interface {
	// UseTransport adds a transport. Adding a transport after Start starts
	// it immediately against the kernel's Hub.
	UseTransport(t Transport) error

	// On registers a handler for a message type. The wildcard type "*"
	// matches every message and runs after the typed handlers. Reserved
	// "system:" types cannot be registered.
	On(eventType string, h Handler) error

	// OnTemplate registers a handler for an event template with bracketed
	// placeholders, e.g. "chat:join:[roomId]". Placeholders are substituted
	// in order with params; the count must match or registration fails.
	OnTemplate(template string, params []string, h Handler) error

	// Start starts every transport in parallel. It is idempotent.
	Start(ctx context.Context) error

	// Stop stops every transport and the dispatch worker. The kernel is
	// stopped only once all transports have stopped.
	Stop(ctx context.Context) error

	// Presence exposes a read-only presence view.
	Presence() PresenceView

	// Rooms exposes a read-only room view.
	Rooms() RoomView
}
