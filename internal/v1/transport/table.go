package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/robothub/transport-server/internal/v1/types"
)

// ErrParticipantExists is returned by Insert when the identifier is already
// live. Participant identifiers are unique across the whole table.
var ErrParticipantExists = errors.New("transport: participant id already connected")

// Metadata describes a live connection. Rooms reference participants by
// identifier only; the table is the single owner of channel handles.
type Metadata struct {
	WorkspaceID   types.WorkspaceIDType   `json:"workspace_id"`
	RoomID        types.RoomIDType        `json:"room_id"`
	ParticipantID types.ParticipantIDType `json:"participant_id"`
	Role          types.RoleType          `json:"role"`
	ConnectedAt   time.Time               `json:"connected_at"`
	LastActivity  time.Time               `json:"last_activity"`
	MessageCount  int64                   `json:"message_count"`
}

// Table is the connection table: participant id -> live channel + metadata.
// It has its own lock and is never acquired while a room lock is held.
type Table struct {
	mu      sync.RWMutex
	clients map[types.ParticipantIDType]*Client
	meta    map[types.ParticipantIDType]*Metadata
}

// NewTable creates an empty connection table.
func NewTable() *Table {
	return &Table{
		clients: make(map[types.ParticipantIDType]*Client),
		meta:    make(map[types.ParticipantIDType]*Metadata),
	}
}

// Insert registers a live connection. Fails when the identifier is already
// present, which enforces global identifier uniqueness while live.
func (t *Table) Insert(client *Client, workspaceID types.WorkspaceIDType, roomID types.RoomIDType, role types.RoleType) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.clients[client.ID]; exists {
		return ErrParticipantExists
	}

	now := time.Now().UTC()
	t.clients[client.ID] = client
	t.meta[client.ID] = &Metadata{
		WorkspaceID:   workspaceID,
		RoomID:        roomID,
		ParticipantID: client.ID,
		Role:          role,
		ConnectedAt:   now,
		LastActivity:  now,
	}
	return nil
}

// Remove drops the connection entry. Absent identifiers are a no-op.
func (t *Table) Remove(id types.ParticipantIDType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
	delete(t.meta, id)
}

// Contains reports whether the identifier is live.
func (t *Table) Contains(id types.ParticipantIDType) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.clients[id]
	return ok
}

// Get returns the live channel for the identifier.
func (t *Table) Get(id types.ParticipantIDType) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	client, ok := t.clients[id]
	return client, ok
}

// Metadata returns a copy of the connection metadata.
func (t *Table) Metadata(id types.ParticipantIDType) (Metadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.meta[id]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// Touch updates last activity and increments the message counter.
func (t *Table) Touch(id types.ParticipantIDType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.meta[id]; ok {
		m.LastActivity = time.Now().UTC()
		m.MessageCount++
	}
}

// Len reports the number of live connections.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// LatestActivity returns the most recent last-activity timestamp among the
// live connections of the given room, and whether any such connection exists.
// The sweeper combines this with the room's own timestamp.
func (t *Table) LatestActivity(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var latest time.Time
	found := false
	for _, m := range t.meta {
		if m.WorkspaceID != workspaceID || m.RoomID != roomID {
			continue
		}
		found = true
		if m.LastActivity.After(latest) {
			latest = m.LastActivity
		}
	}
	return latest, found
}

// Snapshot returns a copy of all connection metadata, for the status surface.
func (t *Table) Snapshot() []Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Metadata, 0, len(t.meta))
	for _, m := range t.meta {
		out = append(out, *m)
	}
	return out
}
