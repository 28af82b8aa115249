// Package presence keeps the process-local directory of connected clients.
//
// The store mirrors each client's identity, metadata and room memberships;
// entries are refreshed on connect, disconnect, metadata update and room
// change.
package presence

import (
	"sync"

	realtime "github.com/NemoZon/real-time-framework"
)

// Store maps client ids to their snapshots. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]realtime.Snapshot
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]realtime.Snapshot)}
}

// Connect inserts or replaces the snapshot for a client.
func (s *Store) Connect(snapshot realtime.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.Metadata = cloneMetadata(snapshot.Metadata)
	snapshot.Rooms = cloneRooms(snapshot.Rooms)
	s.entries[snapshot.ID] = snapshot
}

// Disconnect removes the snapshot for a client.
func (s *Store) Disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Get returns a copy of the snapshot for one client.
func (s *Store) Get(id string) (realtime.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return realtime.Snapshot{}, false
	}
	return copySnapshot(entry), true
}

// List returns a copy of every snapshot. Order is unspecified.
func (s *Store) List() []realtime.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]realtime.Snapshot, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, copySnapshot(entry))
	}
	return out
}

// Update shallow-merges metadata into the client's snapshot. Unknown ids are
// a no-op; an entry is never recreated here.
func (s *Store) Update(id string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return
	}
	if entry.Metadata == nil {
		entry.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		entry.Metadata[k] = v
	}
	s.entries[id] = entry
}

// SyncRooms replaces the rooms list of the client's snapshot.
func (s *Store) SyncRooms(id string, rooms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return
	}
	entry.Rooms = cloneRooms(rooms)
	s.entries[id] = entry
}

func copySnapshot(entry realtime.Snapshot) realtime.Snapshot {
	entry.Metadata = cloneMetadata(entry.Metadata)
	entry.Rooms = cloneRooms(entry.Rooms)
	return entry
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func cloneRooms(rooms []string) []string {
	out := make([]string, len(rooms))
	copy(out, rooms)
	return out
}
