// Package hub implements the connection hub: the authoritative client
// registry, room membership, presence and broadcast fan-out.
package hub

import (
	"sync"
	"time"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/logger"
	"github.com/NemoZon/real-time-framework/internal/presence"
	"github.com/NemoZon/real-time-framework/internal/rooms"
)

// Hub owns the client registry and emits connect/disconnect/message events.
//
// All registry, room and presence mutations are serialized behind one
// RWMutex; transports may call in from any goroutine. Event callbacks are
// invoked outside the lock so consumers can call back into the Hub.
type Hub struct {
	log      *logger.Logger
	rooms    *rooms.Manager
	presence *presence.Store

	mu      sync.RWMutex
	clients map[string]*realtime.ClientContext

	onConnect    func(c *realtime.ClientContext)
	onDisconnect func(c *realtime.ClientContext, reason string)
	onMessage    func(msg *realtime.Message, c *realtime.ClientContext)
}

// New returns an empty Hub.
func New(log *logger.Logger) *Hub {
	return &Hub{
		log:      log.Named("hub"),
		rooms:    rooms.NewManager(),
		presence: presence.NewStore(),
		clients:  make(map[string]*realtime.ClientContext),
	}
}

// OnClientConnected installs the connected event consumer.
func (h *Hub) OnClientConnected(fn func(c *realtime.ClientContext)) {
	h.onConnect = fn
}

// OnClientDisconnected installs the disconnected event consumer.
func (h *Hub) OnClientDisconnected(fn func(c *realtime.ClientContext, reason string)) {
	h.onDisconnect = fn
}

// OnMessage installs the message event consumer.
func (h *Hub) OnMessage(fn func(msg *realtime.Message, c *realtime.ClientContext)) {
	h.onMessage = fn
}

// RegisterClient inserts the client, takes the initial presence snapshot and
// emits the connected event. Registering an already-known id replaces the
// previous record without a disconnect event.
func (h *Hub) RegisterClient(c *realtime.ClientContext) {
	if c == nil || c.ID == "" {
		return
	}

	h.mu.Lock()
	if c.ConnectedAt == 0 {
		c.ConnectedAt = time.Now().UnixMilli()
	}
	h.clients[c.ID] = c
	h.presence.Connect(h.snapshotLocked(c))
	h.mu.Unlock()

	h.log.Debugf("client connected id=%s transport=%s", c.ID, c.Transport)
	if h.onConnect != nil {
		h.onConnect(c)
	}
}

// UnregisterClient removes the client. Room memberships are removed first,
// while the presence entry is still consistent, then the presence entry and
// the registry entry are deleted. Unknown ids are a no-op, which guarantees
// one disconnect event per client lifetime.
func (h *Hub) UnregisterClient(id string, reason string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.rooms.LeaveAll(id)
	c.Rooms = nil
	h.presence.Disconnect(id)
	delete(h.clients, id)
	h.mu.Unlock()

	h.log.Debugf("client disconnected id=%s reason=%q", id, reason)
	if h.onDisconnect != nil {
		h.onDisconnect(c, reason)
	}
}

// Receive pushes an inbound message from a transport. Unknown clients are
// dropped silently: they may have disconnected while the message was in
// flight.
func (h *Hub) Receive(msg *realtime.Message, clientID string) {
	if msg == nil {
		return
	}

	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debugf("dropping message from unknown client id=%s type=%s", clientID, msg.Type)
		return
	}
	if h.onMessage != nil {
		h.onMessage(msg, c)
	}
}

// JoinRoom adds the client to a room, then refreshes the client's rooms field
// and presence entry.
func (h *Hub) JoinRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	h.rooms.Join(room, clientID)
	c.Rooms = h.rooms.RoomsFor(clientID)
	h.presence.SyncRooms(clientID, c.Rooms)
}

// LeaveRoom removes the client from a room, then refreshes the client's rooms
// field and presence entry.
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	h.rooms.Leave(room, clientID)
	c.Rooms = h.rooms.RoomsFor(clientID)
	h.presence.SyncRooms(clientID, c.Rooms)
}

// Send stamps a timestamp and forwards the message to the client's send
// capability. It reports whether delivery was attempted.
func (h *Hub) Send(clientID string, msg *realtime.Message) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	out := stamp(msg)
	if err := c.Send(out); err != nil {
		h.log.Errorf("send failed id=%s type=%s: %v", clientID, out.Type, err)
	}
	return true
}

// Broadcast stamps a timestamp once and dispatches to every target: the
// room's members when opts.Room is set, otherwise all registered clients,
// minus opts.Except. Enumeration order is unspecified.
func (h *Hub) Broadcast(msg *realtime.Message, opts realtime.BroadcastOptions) {
	except := make(map[string]struct{}, len(opts.Except))
	for _, id := range opts.Except {
		except[id] = struct{}{}
	}

	h.mu.RLock()
	var targets []*realtime.ClientContext
	if opts.Room != "" {
		for _, id := range h.rooms.List(opts.Room) {
			if _, skip := except[id]; skip {
				continue
			}
			if c, ok := h.clients[id]; ok {
				targets = append(targets, c)
			}
		}
	} else {
		for id, c := range h.clients {
			if _, skip := except[id]; skip {
				continue
			}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	out := stamp(msg)
	for _, c := range targets {
		if err := c.Send(out); err != nil {
			h.log.Errorf("broadcast send failed id=%s type=%s: %v", c.ID, out.Type, err)
		}
	}
}

// Presence exposes the presence store.
func (h *Hub) Presence() realtime.PresenceView {
	return presenceView{h}
}

// Rooms exposes the room manager.
func (h *Hub) Rooms() realtime.RoomView {
	return roomView{h}
}

// snapshotLocked builds the presence snapshot for a registered client.
// Callers must hold h.mu.
func (h *Hub) snapshotLocked(c *realtime.ClientContext) realtime.Snapshot {
	return realtime.Snapshot{
		ID:          c.ID,
		Transport:   c.Transport,
		Metadata:    c.Metadata,
		ConnectedAt: c.ConnectedAt,
		Rooms:       c.Rooms,
	}
}

// stamp returns a copy of msg carrying the hub-assigned timestamp. The
// original is left untouched so a handler can reuse it.
func stamp(msg *realtime.Message) *realtime.Message {
	out := *msg
	out.Timestamp = time.Now().UnixMilli()
	return &out
}

type presenceView struct{ h *Hub }

func (v presenceView) List() []realtime.Snapshot            { return v.h.presence.List() }
func (v presenceView) Get(id string) (realtime.Snapshot, bool) { return v.h.presence.Get(id) }

// Update shallow-merges metadata into both the live client record and its
// presence snapshot.
func (v presenceView) Update(id string, metadata map[string]any) {
	v.h.mu.Lock()
	if c, ok := v.h.clients[id]; ok {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(metadata))
		}
		for k, val := range metadata {
			c.Metadata[k] = val
		}
	}
	v.h.mu.Unlock()
	v.h.presence.Update(id, metadata)
}

type roomView struct{ h *Hub }

func (v roomView) List(room string) []string         { return v.h.rooms.List(room) }
func (v roomView) RoomsFor(clientID string) []string { return v.h.rooms.RoomsFor(clientID) }

var _ realtime.Hub = (*Hub)(nil)
