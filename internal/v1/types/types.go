// Package types holds the identifier types, participant roles, and wire
// messages shared between the robotics and video services.
package types

import (
	"encoding/json"
	"time"
)

// --- Core Domain Types ---

// RoleType defines the role a participant holds inside a room.
type RoleType string

// ParticipantIDType represents a unique identifier for a live connection.
type ParticipantIDType string

// WorkspaceIDType represents a namespace grouping rooms.
type WorkspaceIDType string

// RoomIDType represents a unique identifier for a room within a workspace.
type RoomIDType string

// Role constants. A room has at most one producer and any number of consumers.
const (
	RoleProducer RoleType = "producer"
	RoleConsumer RoleType = "consumer"
)

// Valid reports whether r is one of the two known roles.
func (r RoleType) Valid() bool {
	return r == RoleProducer || r == RoleConsumer
}

// MessageType tags every frame exchanged over the WebSocket channel.
type MessageType string

// Message tags shared by both services. Service-specific tags live in the
// robotics and video packages.
const (
	MessageJoined            MessageType = "joined"
	MessageError             MessageType = "error"
	MessageHeartbeat         MessageType = "heartbeat"
	MessageHeartbeatAck      MessageType = "heartbeat_ack"
	MessageEmergencyStop     MessageType = "emergency_stop"
	MessageParticipantJoined MessageType = "participant_joined"
	MessageParticipantLeft   MessageType = "participant_left"
)

// Timestamp returns the server timestamp stamped into every outbound frame,
// ISO-8601 in UTC.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- Wire Messages ---

// Envelope is the minimal decode of an inbound frame, used to dispatch on the
// tag before unmarshaling the full record.
type Envelope struct {
	Type MessageType `json:"type"`
}

// JoinRequest is the first inbound frame on a new channel. It intentionally
// carries no "type" field.
type JoinRequest struct {
	ParticipantID string   `json:"participant_id"`
	Role          RoleType `json:"role"`
}

// Validate checks the join handshake fields.
func (j JoinRequest) Validate() bool {
	return j.ParticipantID != "" && j.Role.Valid()
}

// JoinedMessage confirms a successful room join.
type JoinedMessage struct {
	Type        MessageType     `json:"type"`
	RoomID      RoomIDType      `json:"room_id"`
	WorkspaceID WorkspaceIDType `json:"workspace_id"`
	Role        RoleType        `json:"role"`
	Timestamp   string          `json:"timestamp"`
}

// NewJoined builds the join confirmation frame.
func NewJoined(workspaceID WorkspaceIDType, roomID RoomIDType, role RoleType) JoinedMessage {
	return JoinedMessage{
		Type:        MessageJoined,
		RoomID:      roomID,
		WorkspaceID: workspaceID,
		Role:        role,
		Timestamp:   Timestamp(),
	}
}

// ErrorMessage reports a per-message failure back to the sender.
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Code      string      `json:"code,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewError builds an error frame with the current timestamp.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Message: message, Timestamp: Timestamp()}
}

// HeartbeatAckMessage answers a client heartbeat.
type HeartbeatAckMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// NewHeartbeatAck builds a heartbeat acknowledgment frame.
func NewHeartbeatAck() HeartbeatAckMessage {
	return HeartbeatAckMessage{Type: MessageHeartbeatAck, Timestamp: Timestamp()}
}

// EmergencyStopMessage is broadcast to every participant in the room,
// including the sender.
type EmergencyStopMessage struct {
	Type      MessageType `json:"type"`
	Reason    string      `json:"reason"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
}

// NewEmergencyStop builds the fan-out record for an emergency stop.
func NewEmergencyStop(reason, source string) EmergencyStopMessage {
	return EmergencyStopMessage{
		Type:      MessageEmergencyStop,
		Reason:    reason,
		Source:    source,
		Timestamp: Timestamp(),
	}
}

// ParticipantEventMessage announces a participant joining or leaving a room.
// The payload is identical for both directions; only the tag differs.
type ParticipantEventMessage struct {
	Type          MessageType       `json:"type"`
	RoomID        RoomIDType        `json:"room_id"`
	ParticipantID ParticipantIDType `json:"participant_id"`
	Role          RoleType          `json:"role"`
	Timestamp     string            `json:"timestamp"`
}

// NewParticipantJoined builds the join announcement for the other peers.
func NewParticipantJoined(roomID RoomIDType, id ParticipantIDType, role RoleType) ParticipantEventMessage {
	return ParticipantEventMessage{
		Type:          MessageParticipantJoined,
		RoomID:        roomID,
		ParticipantID: id,
		Role:          role,
		Timestamp:     Timestamp(),
	}
}

// NewParticipantLeft builds the leave announcement for the surviving peers.
func NewParticipantLeft(roomID RoomIDType, id ParticipantIDType, role RoleType) ParticipantEventMessage {
	return ParticipantEventMessage{
		Type:          MessageParticipantLeft,
		RoomID:        roomID,
		ParticipantID: id,
		Role:          role,
		Timestamp:     Timestamp(),
	}
}

// ParticipantInfo is the participants projection returned by the REST
// surface.
type ParticipantInfo struct {
	Producer  *ParticipantIDType  `json:"producer"`
	Consumers []ParticipantIDType `json:"consumers"`
	Total     int                 `json:"total"`
}

// DecodeEnvelope extracts the tag from an inbound frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
