package video

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/robothub/transport-server/internal/v1/types"
)

var (
	// ErrRoomExists is returned when creating a room whose identifiers
	// collide with a live room.
	ErrRoomExists = errors.New("video: room already exists")

	// ErrRoomNotFound is returned when addressing a missing room.
	ErrRoomNotFound = errors.New("video: room not found")

	// ErrProducerConflict rejects a producer join while the slot is held.
	ErrProducerConflict = errors.New("video: room already has a producer")

	// ErrDuplicateParticipant rejects a join whose identifier is already a
	// member of the room.
	ErrDuplicateParticipant = errors.New("video: participant already in room")

	// ErrInvalidRole rejects a join with an unknown role.
	ErrInvalidRole = errors.New("video: invalid role")

	// ErrNotMember rejects signaling from an identifier that is not a member
	// of the addressed room.
	ErrNotMember = errors.New("video: sender is not a member of the room")
)

// Room is a video brokering context: at most one producer, many consumers,
// the stream configuration, and informational frame counters. The recovery
// config is an opaque bag passed through to clients unmodified.
type Room struct {
	ID          types.RoomIDType
	WorkspaceID types.WorkspaceIDType

	mu             sync.RWMutex
	producer       types.ParticipantIDType
	consumers      []types.ParticipantIDType
	config         VideoConfig
	recoveryConfig json.RawMessage
	frameCount     int64
	totalBytes     int64
	lastFrameTime  *time.Time
	createdAt      time.Time
	lastActivity   time.Time
}

func newRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType, config *VideoConfig, recoveryConfig json.RawMessage) *Room {
	now := time.Now().UTC()

	cfg := DefaultVideoConfig()
	if config != nil {
		config.MergeInto(&cfg)
	}

	return &Room{
		ID:             roomID,
		WorkspaceID:    workspaceID,
		config:         cfg,
		recoveryConfig: recoveryConfig,
		createdAt:      now,
		lastActivity:   now,
	}
}

// join places the participant into the producer slot or appends it to the
// consumer list. A held producer slot rejects the newcomer.
func (r *Room) join(id types.ParticipantIDType, role types.RoleType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.producer == id {
		return ErrDuplicateParticipant
	}
	for _, c := range r.consumers {
		if c == id {
			return ErrDuplicateParticipant
		}
	}

	switch role {
	case types.RoleProducer:
		if r.producer != "" {
			return ErrProducerConflict
		}
		r.producer = id
	case types.RoleConsumer:
		r.consumers = append(r.consumers, id)
	default:
		return ErrInvalidRole
	}

	r.touchLocked()
	return nil
}

// leave frees the producer slot or removes the consumer. Absent identifiers
// are a no-op.
func (r *Room) leave(id types.ParticipantIDType) (types.RoleType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.producer == id {
		r.producer = ""
		r.touchLocked()
		return types.RoleProducer, true
	}
	for i, c := range r.consumers {
		if c == id {
			r.consumers = append(r.consumers[:i], r.consumers[i+1:]...)
			r.touchLocked()
			return types.RoleConsumer, true
		}
	}
	return "", false
}

// memberRole reports the role of the given participant, if it is a member.
func (r *Room) memberRole(id types.ParticipantIDType) (types.RoleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.producer == id {
		return types.RoleProducer, true
	}
	for _, c := range r.consumers {
		if c == id {
			return types.RoleConsumer, true
		}
	}
	return "", false
}

// participants returns every member identifier, producer first.
func (r *Room) participants() []types.ParticipantIDType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ParticipantIDType, 0, len(r.consumers)+1)
	if r.producer != "" {
		out = append(out, r.producer)
	}
	out = append(out, r.consumers...)
	return out
}

// mergeConfig overwrites the provided config fields. Only producers reach
// this path; the router enforces the role.
func (r *Room) mergeConfig(partial VideoConfig) VideoConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	partial.MergeInto(&r.config)
	r.touchLocked()
	return r.config
}

// snapshotConfig returns a copy of the current config.
func (r *Room) snapshotConfig() VideoConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// recordStats folds producer-reported counters into the room.
func (r *Room) recordStats(stats StreamStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.FrameCount > r.frameCount {
		r.frameCount = stats.FrameCount
	}
	if stats.TotalBytes > r.totalBytes {
		r.totalBytes = stats.TotalBytes
	}
	now := time.Now().UTC()
	r.lastFrameTime = &now
	r.touchLocked()
}

func (r *Room) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()
}

func (r *Room) touchLocked() {
	r.lastActivity = time.Now().UTC()
}

func (r *Room) lastActive() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// participantInfo builds the participants projection under the room lock.
func (r *Room) participantInfo() types.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := types.ParticipantInfo{
		Consumers: append([]types.ParticipantIDType(nil), r.consumers...),
		Total:     len(r.consumers),
	}
	if info.Consumers == nil {
		info.Consumers = []types.ParticipantIDType{}
	}
	if r.producer != "" {
		producer := r.producer
		info.Producer = &producer
		info.Total++
	}
	return info
}

// summary builds the listing projection.
func (r *Room) summary() RoomSummary {
	info := r.participantInfo()

	r.mu.RLock()
	frameCount := r.frameCount
	config := r.config
	r.mu.RUnlock()

	return RoomSummary{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		Participants:    info,
		FrameCount:      frameCount,
		Config:          config,
		HasProducer:     info.Producer != nil,
		ActiveConsumers: len(info.Consumers),
	}
}

// state builds the authoritative snapshot.
func (r *Room) state() RoomState {
	info := r.participantInfo()

	r.mu.RLock()
	frameCount := r.frameCount
	totalBytes := r.totalBytes
	config := r.config
	var lastFrame *string
	if r.lastFrameTime != nil {
		s := r.lastFrameTime.Format(time.RFC3339Nano)
		lastFrame = &s
	}
	r.mu.RUnlock()

	return RoomState{
		RoomID:        r.ID,
		WorkspaceID:   r.WorkspaceID,
		Participants:  info,
		FrameCount:    frameCount,
		TotalBytes:    totalBytes,
		LastFrameTime: lastFrame,
		CurrentConfig: config,
		Timestamp:     types.Timestamp(),
	}
}
