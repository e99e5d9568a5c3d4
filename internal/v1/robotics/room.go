package robotics

import (
	"errors"
	"sync"
	"time"

	"github.com/robothub/transport-server/internal/v1/types"
)

var (
	// ErrRoomExists is returned when creating a room whose identifiers
	// collide with a live room.
	ErrRoomExists = errors.New("robotics: room already exists")

	// ErrRoomNotFound is returned when addressing a missing room.
	ErrRoomNotFound = errors.New("robotics: room not found")

	// ErrProducerConflict rejects a producer join while the slot is held.
	ErrProducerConflict = errors.New("robotics: room already has a producer")

	// ErrDuplicateParticipant rejects a join whose identifier is already a
	// member of the room.
	ErrDuplicateParticipant = errors.New("robotics: participant already in room")

	// ErrInvalidRole rejects a join with an unknown role.
	ErrInvalidRole = errors.New("robotics: invalid role")
)

// Room is a robotics brokering context: at most one producer, many consumers,
// and the authoritative cumulative joint state. A single lock guards all
// fields; rooms hold participant identifiers only, never channel handles.
type Room struct {
	ID          types.RoomIDType
	WorkspaceID types.WorkspaceIDType

	mu           sync.RWMutex
	producer     types.ParticipantIDType
	consumers    []types.ParticipantIDType
	joints       map[string]float64
	createdAt    time.Time
	lastActivity time.Time
}

func newRoom(workspaceID types.WorkspaceIDType, roomID types.RoomIDType) *Room {
	now := time.Now().UTC()
	return &Room{
		ID:           roomID,
		WorkspaceID:  workspaceID,
		joints:       make(map[string]float64),
		createdAt:    now,
		lastActivity: now,
	}
}

// join places the participant into the producer slot or appends it to the
// consumer list. Identifier collisions with any current member are rejected
// regardless of role.
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
// are a no-op; the returned bool reports whether the participant was a member.
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
	return r.participantsLocked()
}

func (r *Room) participantsLocked() []types.ParticipantIDType {
	out := make([]types.ParticipantIDType, 0, len(r.consumers)+1)
	if r.producer != "" {
		out = append(out, r.producer)
	}
	out = append(out, r.consumers...)
	return out
}

// consumerIDs returns a snapshot of the consumer list in join order.
func (r *Room) consumerIDs() []types.ParticipantIDType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ParticipantIDType, len(r.consumers))
	copy(out, r.consumers)
	return out
}

// snapshotJoints copies the authoritative joint map.
func (r *Room) snapshotJoints() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.joints))
	for name, value := range r.joints {
		out[name] = value
	}
	return out
}

// applyJointDelta overwrites changed joints and returns only the records that
// actually changed the stored value. Comparison is strict equality on the
// stored float: the server is a transport, not a filter.
func (r *Room) applyJointDelta(updates []JointValue) []JointValue {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []JointValue
	for _, joint := range updates {
		if current, ok := r.joints[joint.Name]; ok && current == joint.Value {
			continue
		}
		r.joints[joint.Name] = joint.Value
		changed = append(changed, joint)
	}

	if len(changed) > 0 {
		r.touchLocked()
	}
	return changed
}

// touch bumps the room's last-activity timestamp.
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
	jointsCount := len(r.joints)
	r.mu.RUnlock()

	return RoomSummary{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		Participants:    info,
		JointsCount:     jointsCount,
		HasProducer:     info.Producer != nil,
		ActiveConsumers: len(info.Consumers),
	}
}

// state builds the authoritative snapshot.
func (r *Room) state() RoomState {
	return RoomState{
		RoomID:       r.ID,
		WorkspaceID:  r.WorkspaceID,
		Joints:       r.snapshotJoints(),
		Participants: r.participantInfo(),
		Timestamp:    types.Timestamp(),
	}
}
