// Package robotics implements the robotics service: the workspace/room
// registry, the joint state-delta engine, and the WebSocket message router.
package robotics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robothub/transport-server/internal/v1/logging"
	"github.com/robothub/transport-server/internal/v1/metrics"
	"github.com/robothub/transport-server/internal/v1/transport"
	"github.com/robothub/transport-server/internal/v1/types"
)

// ServiceName labels this service in logs and metrics.
const ServiceName = "robotics"

// CommandSource marks joint updates injected through the REST surface.
const CommandSource = "api"

// Core is the robotics service singleton: the two-level workspace/room
// registry plus the connection table. The registry lock only guards the
// lookup maps; it is released before any room or table operation.
type Core struct {
	mu         sync.RWMutex
	workspaces map[types.WorkspaceIDType]map[types.RoomIDType]*Room

	table *transport.Table

	inactivityTimeout time.Duration
	sweepInterval     time.Duration

	wg sync.WaitGroup
}

// NewCore creates the robotics core with the given sweeper settings.
func NewCore(inactivityTimeout, sweepInterval time.Duration) *Core {
	return &Core{
		workspaces:        make(map[types.WorkspaceIDType]map[types.RoomIDType]*Room),
		table:             transport.NewTable(),
		inactivityTimeout: inactivityTimeout,
		sweepInterval:     sweepInterval,
	}
}

// Table exposes the connection table to the status surface.
func (c *Core) Table() *transport.Table {
	return c.table
}

// --- Room management ---

// CreateRoom registers a new room. Empty identifiers are filled with fresh
// UUIDs; creating a room in an unknown workspace implicitly creates the
// workspace.
func (c *Core) CreateRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) (types.WorkspaceIDType, types.RoomIDType, error) {
	if workspaceID == "" {
		workspaceID = types.WorkspaceIDType(uuid.NewString())
	}
	if roomID == "" {
		roomID = types.RoomIDType(uuid.NewString())
	}

	c.mu.Lock()
	rooms, ok := c.workspaces[workspaceID]
	if !ok {
		rooms = make(map[types.RoomIDType]*Room)
		c.workspaces[workspaceID] = rooms
	}
	if _, exists := rooms[roomID]; exists {
		c.mu.Unlock()
		return "", "", ErrRoomExists
	}
	rooms[roomID] = newRoom(workspaceID, roomID)
	c.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(ServiceName).Inc()
	logging.Info(context.Background(), "Created room",
		zap.String("workspaceId", string(workspaceID)), zap.String("roomId", string(roomID)))
	return workspaceID, roomID, nil
}

// ListRooms returns summaries of every room in the workspace. Unknown
// workspaces yield an empty list, not an error.
func (c *Core) ListRooms(workspaceID types.WorkspaceIDType) []RoomSummary {
	c.mu.RLock()
	rooms := make([]*Room, 0, len(c.workspaces[workspaceID]))
	for _, room := range c.workspaces[workspaceID] {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.summary())
	}
	return summaries
}

// RoomSummary returns the listing projection of one room.
func (c *Core) RoomSummary(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) (RoomSummary, error) {
	room := c.getRoom(workspaceID, roomID)
	if room == nil {
		return RoomSummary{}, ErrRoomNotFound
	}
	return room.summary(), nil
}

// RoomState returns the authoritative snapshot of one room.
func (c *Core) RoomState(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) (RoomState, error) {
	room := c.getRoom(workspaceID, roomID)
	if room == nil {
		return RoomState{}, ErrRoomNotFound
	}
	return room.state(), nil
}

// DeleteRoom detaches every participant, then removes the room. Participants
// are closed without waiting for acknowledgment.
func (c *Core) DeleteRoom(ctx context.Context, workspaceID types.WorkspaceIDType, roomID types.RoomIDType) bool {
	c.mu.Lock()
	rooms, ok := c.workspaces[workspaceID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	room, ok := rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(c.workspaces, workspaceID)
	}
	c.mu.Unlock()

	for _, id := range room.participants() {
		room.leave(id)
		if client, live := c.table.Get(id); live {
			client.Disconnect()
		}
		c.table.Remove(id)
		metrics.ParticipantEvictions.WithLabelValues(ServiceName, "room_deleted").Inc()
	}

	metrics.ActiveRooms.WithLabelValues(ServiceName).Dec()
	logging.Info(ctx, "Deleted room",
		zap.String("workspaceId", string(workspaceID)), zap.String("roomId", string(roomID)))
	return true
}

func (c *Core) getRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workspaces[workspaceID][roomID]
}

// --- Send paths ---

// sendToParticipant resolves the channel through the table and sends. A send
// failure evicts the participant from both the table and its room.
func (c *Core) sendToParticipant(ctx context.Context, id types.ParticipantIDType, msg any) {
	client, ok := c.table.Get(id)
	if !ok {
		return
	}
	if err := client.Send(msg); err != nil {
		logging.Warn(ctx, "Send failed, evicting participant",
			zap.String("participantId", string(id)), zap.Error(err))
		c.evict(ctx, id, "send_failure")
	}
}

// evict removes a dead participant from the table and its room and notifies
// the surviving peers. The table is always touched before the room.
func (c *Core) evict(ctx context.Context, id types.ParticipantIDType, reason string) {
	meta, ok := c.table.Metadata(id)
	if client, live := c.table.Get(id); live {
		client.Disconnect()
	}
	c.table.Remove(id)
	if !ok {
		return
	}

	metrics.ParticipantEvictions.WithLabelValues(ServiceName, reason).Inc()

	room := c.getRoom(meta.WorkspaceID, meta.RoomID)
	if room == nil {
		return
	}
	if role, wasMember := room.leave(id); wasMember {
		c.broadcastToRoom(ctx, room, types.NewParticipantLeft(room.ID, id, role), id)
	}
}

// broadcastToConsumers fans a message out to every consumer in the room.
// Channel handles are snapshotted outside the room lock; failed sends evict.
func (c *Core) broadcastToConsumers(ctx context.Context, room *Room, msg any) {
	for _, id := range room.consumerIDs() {
		c.sendToParticipant(ctx, id, msg)
		metrics.BroadcastsSent.WithLabelValues(ServiceName).Inc()
	}
}

// broadcastToRoom fans a message out to every participant, optionally
// excluding one identifier (pass "" to include everyone).
func (c *Core) broadcastToRoom(ctx context.Context, room *Room, msg any, exclude types.ParticipantIDType) {
	for _, id := range room.participants() {
		if exclude != "" && id == exclude {
			continue
		}
		c.sendToParticipant(ctx, id, msg)
		metrics.BroadcastsSent.WithLabelValues(ServiceName).Inc()
	}
}

// --- Joint control ---

// UpdateJoints runs the state-delta algorithm and broadcasts the resulting
// delta, if any, to every consumer. Source is the producer id or
// CommandSource for out-of-band injection. Returns the number of joints that
// actually changed.
func (c *Core) UpdateJoints(ctx context.Context, workspaceID types.WorkspaceIDType, roomID types.RoomIDType, updates []JointValue, source string) (int, error) {
	room := c.getRoom(workspaceID, roomID)
	if room == nil {
		return 0, ErrRoomNotFound
	}

	changed := room.applyJointDelta(updates)
	if len(changed) == 0 {
		return 0, nil
	}

	c.broadcastToConsumers(ctx, room, JointUpdateMessage{
		Type:      MessageJointUpdate,
		Data:      changed,
		Source:    source,
		Timestamp: types.Timestamp(),
	})
	return len(changed), nil
}

// --- Connection statistics ---

// WorkspaceStats aggregates connections per workspace for the status surface.
type WorkspaceStats struct {
	Producer int `json:"producer"`
	Consumer int `json:"consumer"`
	Rooms    int `json:"rooms"`
}

// ConnectionStats is the status projection of the connection table.
type ConnectionStats struct {
	TotalConnections       int                                       `json:"total_connections"`
	TotalWorkspaces        int                                       `json:"total_workspaces"`
	TotalRooms             int                                       `json:"total_rooms"`
	ConnectionsByRole      map[types.RoleType]int                    `json:"connections_by_role"`
	ConnectionsByWorkspace map[types.WorkspaceIDType]*WorkspaceStats `json:"connections_by_workspace"`
	ActiveConnections      []transport.Metadata                      `json:"active_connections"`
}

// Counts snapshots the registry and table counters for the readiness surface.
func (c *Core) Counts() (workspaces, rooms, connections int) {
	c.mu.RLock()
	workspaces = len(c.workspaces)
	for _, rs := range c.workspaces {
		rooms += len(rs)
	}
	c.mu.RUnlock()
	return workspaces, rooms, c.table.Len()
}

// Stats snapshots the connection table and registry counters.
func (c *Core) Stats() ConnectionStats {
	c.mu.RLock()
	totalWorkspaces := len(c.workspaces)
	totalRooms := 0
	roomsPerWorkspace := make(map[types.WorkspaceIDType]int, len(c.workspaces))
	for workspaceID, rooms := range c.workspaces {
		totalRooms += len(rooms)
		roomsPerWorkspace[workspaceID] = len(rooms)
	}
	c.mu.RUnlock()

	snapshot := c.table.Snapshot()

	stats := ConnectionStats{
		TotalConnections:       len(snapshot),
		TotalWorkspaces:        totalWorkspaces,
		TotalRooms:             totalRooms,
		ConnectionsByRole:      map[types.RoleType]int{types.RoleProducer: 0, types.RoleConsumer: 0},
		ConnectionsByWorkspace: make(map[types.WorkspaceIDType]*WorkspaceStats),
		ActiveConnections:      snapshot,
	}

	for _, meta := range snapshot {
		stats.ConnectionsByRole[meta.Role]++
		ws, ok := stats.ConnectionsByWorkspace[meta.WorkspaceID]
		if !ok {
			ws = &WorkspaceStats{Rooms: roomsPerWorkspace[meta.WorkspaceID]}
			stats.ConnectionsByWorkspace[meta.WorkspaceID] = ws
		}
		switch meta.Role {
		case types.RoleProducer:
			ws.Producer++
		case types.RoleConsumer:
			ws.Consumer++
		}
	}

	return stats
}

// --- Lifecycle sweeper ---

// StartSweeper runs the inactivity sweeper until the context is cancelled.
func (c *Core) StartSweeper(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.SweepInactiveRooms(ctx)
			}
		}
	}()
}

// SweepInactiveRooms evicts every room whose effective last activity (the max
// of the room's own timestamp and all its live connections') predates
// now − inactivityTimeout. Returns the number of rooms removed.
func (c *Core) SweepInactiveRooms(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-c.inactivityTimeout)

	type target struct {
		workspaceID types.WorkspaceIDType
		roomID      types.RoomIDType
	}

	c.mu.RLock()
	var candidates []*Room
	for _, rooms := range c.workspaces {
		for _, room := range rooms {
			candidates = append(candidates, room)
		}
	}
	c.mu.RUnlock()

	var evictions []target
	for _, room := range candidates {
		effective := room.lastActive()
		if latest, ok := c.table.LatestActivity(room.WorkspaceID, room.ID); ok && latest.After(effective) {
			effective = latest
		}
		if effective.Before(cutoff) {
			evictions = append(evictions, target{room.WorkspaceID, room.ID})
		}
	}

	removed := 0
	for _, t := range evictions {
		if c.DeleteRoom(ctx, t.workspaceID, t.roomID) {
			removed++
			metrics.SweeperEvictions.WithLabelValues(ServiceName).Inc()
			logging.Info(ctx, "Sweeper evicted inactive room",
				zap.String("workspaceId", string(t.workspaceID)), zap.String("roomId", string(t.roomID)))
		}
	}
	return removed
}

// Shutdown closes every room and waits for the sweeper to stop. Call after
// cancelling the sweeper context.
func (c *Core) Shutdown(ctx context.Context) {
	c.mu.RLock()
	var targets []*Room
	for _, rooms := range c.workspaces {
		for _, room := range rooms {
			targets = append(targets, room)
		}
	}
	c.mu.RUnlock()

	for _, room := range targets {
		c.DeleteRoom(ctx, room.WorkspaceID, room.ID)
	}

	c.wg.Wait()
	logging.Info(ctx, "Robotics core shut down", zap.Int("roomsClosed", len(targets)))
}
