// Package video implements the video service: the workspace/room registry,
// the stream notification router, and the WebRTC signaling relay.
package video

import (
	"context"
	"encoding/json"
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
const ServiceName = "video"

// Core is the video service singleton. Same registry discipline as the
// robotics core: the registry lock guards only the lookup maps and is
// released before any room or table operation.
type Core struct {
	mu         sync.RWMutex
	workspaces map[types.WorkspaceIDType]map[types.RoomIDType]*Room

	table *transport.Table

	inactivityTimeout time.Duration
	sweepInterval     time.Duration

	wg sync.WaitGroup
}

// NewCore creates the video core with the given sweeper settings.
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

// CreateRoom registers a new video room with merged defaults. Empty
// identifiers are filled with fresh UUIDs; the recovery config is stored
// opaquely and handed back to clients untouched.
func (c *Core) CreateRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType, config *VideoConfig, recoveryConfig json.RawMessage) (types.WorkspaceIDType, types.RoomIDType, error) {
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
	rooms[roomID] = newRoom(workspaceID, roomID, config, recoveryConfig)
	c.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(ServiceName).Inc()
	logging.Info(context.Background(), "Created video room",
		zap.String("workspaceId", string(workspaceID)), zap.String("roomId", string(roomID)))
	return workspaceID, roomID, nil
}

// ListRooms returns summaries of every room in the workspace.
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

// DeleteRoom detaches every participant, then removes the room.
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
	logging.Info(ctx, "Deleted video room",
		zap.String("workspaceId", string(workspaceID)), zap.String("roomId", string(roomID)))
	return true
}

func (c *Core) getRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workspaces[workspaceID][roomID]
}

// --- Send paths ---

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

// --- Connection statistics ---

// Counts snapshots the registry and table counters for the status and
// readiness surfaces.
func (c *Core) Counts() (workspaces, rooms, connections int) {
	c.mu.RLock()
	workspaces = len(c.workspaces)
	for _, rs := range c.workspaces {
		rooms += len(rs)
	}
	c.mu.RUnlock()
	return workspaces, rooms, c.table.Len()
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

// SweepInactiveRooms evicts rooms whose effective last activity predates
// now − inactivityTimeout. Live connection activity counts toward the room.
func (c *Core) SweepInactiveRooms(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-c.inactivityTimeout)

	c.mu.RLock()
	var candidates []*Room
	for _, rooms := range c.workspaces {
		for _, room := range rooms {
			candidates = append(candidates, room)
		}
	}
	c.mu.RUnlock()

	removed := 0
	for _, room := range candidates {
		effective := room.lastActive()
		if latest, ok := c.table.LatestActivity(room.WorkspaceID, room.ID); ok && latest.After(effective) {
			effective = latest
		}
		if !effective.Before(cutoff) {
			continue
		}
		if c.DeleteRoom(ctx, room.WorkspaceID, room.ID) {
			removed++
			metrics.SweeperEvictions.WithLabelValues(ServiceName).Inc()
			logging.Info(ctx, "Sweeper evicted inactive video room",
				zap.String("workspaceId", string(room.WorkspaceID)), zap.String("roomId", string(room.ID)))
		}
	}
	return removed
}

// Shutdown closes every room and waits for the sweeper to stop.
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
	logging.Info(ctx, "Video core shut down", zap.Int("roomsClosed", len(targets)))
}
