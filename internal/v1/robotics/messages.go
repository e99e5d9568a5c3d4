package robotics

import (
	"github.com/robothub/transport-server/internal/v1/types"
)

// Message tags specific to the robotics service.
const (
	// MessageJointUpdate carries joint position commands, producer to
	// consumers.
	MessageJointUpdate types.MessageType = "joint_update"

	// MessageStateSync is the initial state synchronization, server to
	// consumer only. Clients sending it get an error frame back.
	MessageStateSync types.MessageType = "state_sync"
)

// JointValue is a single joint position update. Speed is echoed to consumers
// but never stored.
type JointValue struct {
	Name  string   `json:"name" binding:"required,min=1,max=50"`
	Value float64  `json:"value" binding:"min=-360,max=360"`
	Speed *float64 `json:"speed,omitempty"`
}

// jointUpdateRequest is the inbound joint_update frame.
type jointUpdateRequest struct {
	Type types.MessageType `json:"type"`
	Data []JointValue      `json:"data"`
}

// emergencyStopRequest is the inbound emergency_stop frame.
type emergencyStopRequest struct {
	Type   types.MessageType `json:"type"`
	Reason string            `json:"reason"`
}

// JointUpdateMessage is the outbound delta broadcast to consumers. Source is
// the producer id, or "api" for out-of-band command injection.
type JointUpdateMessage struct {
	Type      types.MessageType `json:"type"`
	Data      []JointValue      `json:"data"`
	Source    string            `json:"source"`
	Timestamp string            `json:"timestamp"`
}

// StateSyncMessage carries the full authoritative joints map to a consumer
// that just joined.
type StateSyncMessage struct {
	Type      types.MessageType  `json:"type"`
	Data      map[string]float64 `json:"data"`
	Timestamp string             `json:"timestamp"`
}

// RoomSummary is the per-room projection returned by the listing surface.
type RoomSummary struct {
	ID              types.RoomIDType      `json:"id"`
	WorkspaceID     types.WorkspaceIDType `json:"workspace_id"`
	Participants    types.ParticipantInfo `json:"participants"`
	JointsCount     int                   `json:"joints_count"`
	HasProducer     bool                  `json:"has_producer"`
	ActiveConsumers int                   `json:"active_consumers"`
}

// RoomState is the authoritative snapshot returned by the state surface.
type RoomState struct {
	RoomID       types.RoomIDType      `json:"room_id"`
	WorkspaceID  types.WorkspaceIDType `json:"workspace_id"`
	Joints       map[string]float64    `json:"joints"`
	Participants types.ParticipantInfo `json:"participants"`
	Timestamp    string                `json:"timestamp"`
}
