package video

import (
	"encoding/json"

	"github.com/robothub/transport-server/internal/v1/types"
)

// Message tags specific to the video service.
const (
	MessageStreamStarted     types.MessageType = "stream_started"
	MessageStreamStopped     types.MessageType = "stream_stopped"
	MessageVideoConfigUpdate types.MessageType = "video_config_update"
	MessageStatusUpdate      types.MessageType = "status_update"
	MessageStreamStats       types.MessageType = "stream_stats"
	MessageRecoveryTriggered types.MessageType = "recovery_triggered"
	MessageWebRTCOffer       types.MessageType = "webrtc_offer"
	MessageWebRTCAnswer      types.MessageType = "webrtc_answer"
	MessageWebRTCIce         types.MessageType = "webrtc_ice"
)

// Encoding names accepted in a video config.
const (
	EncodingJPEG = "jpeg"
	EncodingH264 = "h264"
	EncodingVP8  = "vp8"
	EncodingVP9  = "vp9"
)

// SupportedEncodings lists the encodings advertised by the status surface.
var SupportedEncodings = []string{EncodingJPEG, EncodingH264, EncodingVP8, EncodingVP9}

// RecoveryPolicies the clients may announce in recovery_triggered frames. The
// server relays them without interpretation.
var RecoveryPolicies = []string{
	"freeze_last_frame",
	"connection_info",
	"black_screen",
	"fade_to_black",
	"overlay_status",
}

// Resolution is a width/height pair.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VideoConfig describes the encoding parameters of a room's stream. All
// fields are optional on the wire; MergeInto overwrites only the fields that
// were provided.
type VideoConfig struct {
	Encoding   *string     `json:"encoding,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Framerate  *int        `json:"framerate,omitempty" binding:"omitempty,min=1,max=120"`
	Bitrate    *int        `json:"bitrate,omitempty" binding:"omitempty,min=100000"`
	Quality    *int        `json:"quality,omitempty" binding:"omitempty,min=1,max=100"`
}

// DefaultVideoConfig returns a fully populated config with the server
// defaults.
func DefaultVideoConfig() VideoConfig {
	encoding := EncodingVP8
	framerate := 30
	bitrate := 1_000_000
	quality := 80
	return VideoConfig{
		Encoding:   &encoding,
		Resolution: &Resolution{Width: 640, Height: 480},
		Framerate:  &framerate,
		Bitrate:    &bitrate,
		Quality:    &quality,
	}
}

// MergeInto overwrites dst's fields with the ones present in c. Absent fields
// are left untouched.
func (c VideoConfig) MergeInto(dst *VideoConfig) {
	if c.Encoding != nil {
		dst.Encoding = c.Encoding
	}
	if c.Resolution != nil {
		dst.Resolution = c.Resolution
	}
	if c.Framerate != nil {
		dst.Framerate = c.Framerate
	}
	if c.Bitrate != nil {
		dst.Bitrate = c.Bitrate
	}
	if c.Quality != nil {
		dst.Quality = c.Quality
	}
}

// --- Inbound WebSocket frames ---

type streamStartedRequest struct {
	Type   types.MessageType `json:"type"`
	Config *VideoConfig      `json:"config"`
}

type streamStoppedRequest struct {
	Type   types.MessageType `json:"type"`
	Reason string            `json:"reason"`
}

type configUpdateRequest struct {
	Type   types.MessageType `json:"type"`
	Config VideoConfig       `json:"config"`
}

type statusUpdateRequest struct {
	Type   types.MessageType `json:"type"`
	Status string            `json:"status"`
	Data   json.RawMessage   `json:"data"`
}

type streamStatsRequest struct {
	Type  types.MessageType `json:"type"`
	Stats StreamStats       `json:"stats"`
}

type recoveryTriggeredRequest struct {
	Type   types.MessageType `json:"type"`
	Policy string            `json:"policy"`
	Reason string            `json:"reason"`
}

type emergencyStopRequest struct {
	Type   types.MessageType `json:"type"`
	Reason string            `json:"reason"`
}

// --- Outbound WebSocket frames ---

// StreamStartedMessage announces that the producer began streaming.
type StreamStartedMessage struct {
	Type          types.MessageType       `json:"type"`
	Config        *VideoConfig            `json:"config"`
	ParticipantID types.ParticipantIDType `json:"participant_id"`
	Timestamp     string                  `json:"timestamp"`
}

// StreamStoppedMessage announces that the producer stopped streaming.
type StreamStoppedMessage struct {
	Type          types.MessageType       `json:"type"`
	ParticipantID types.ParticipantIDType `json:"participant_id"`
	Reason        string                  `json:"reason,omitempty"`
	Timestamp     string                  `json:"timestamp"`
}

// ConfigUpdateMessage relays a (possibly partial) config change.
type ConfigUpdateMessage struct {
	Type      types.MessageType `json:"type"`
	Config    VideoConfig       `json:"config"`
	Source    string            `json:"source"`
	Timestamp string            `json:"timestamp"`
}

// StatusUpdateMessage relays a free-form status notification.
type StatusUpdateMessage struct {
	Type      types.MessageType `json:"type"`
	Status    string            `json:"status"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// StreamStats carries producer-reported stream counters.
type StreamStats struct {
	StreamID        string  `json:"stream_id"`
	DurationSeconds float64 `json:"duration_seconds"`
	FrameCount      int64   `json:"frame_count"`
	TotalBytes      int64   `json:"total_bytes"`
	AverageFPS      float64 `json:"average_fps"`
	AverageBitrate  float64 `json:"average_bitrate"`
}

// StreamStatsMessage relays producer stream statistics.
type StreamStatsMessage struct {
	Type      types.MessageType `json:"type"`
	Stats     StreamStats       `json:"stats"`
	Timestamp string            `json:"timestamp"`
}

// RecoveryTriggeredMessage relays a client-side recovery event.
type RecoveryTriggeredMessage struct {
	Type      types.MessageType `json:"type"`
	Policy    string            `json:"policy"`
	Reason    string            `json:"reason"`
	Timestamp string            `json:"timestamp"`
}

// --- WebRTC signaling ---

// Signal kinds accepted on the signaling surface.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalIce    = "ice"
)

// SessionDescription is the {type, sdp} pair exchanged during negotiation.
// The SDP body is never parsed.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SignalMessage is the tagged payload of an inbound signaling request. The
// candidate is forwarded verbatim.
type SignalMessage struct {
	Type           string          `json:"type"`
	SDP            string          `json:"sdp,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
	TargetConsumer string          `json:"target_consumer,omitempty"`
	TargetProducer string          `json:"target_producer,omitempty"`
}

// SignalRequest is the body of POST .../webrtc/signal.
type SignalRequest struct {
	ClientID string        `json:"client_id" binding:"required,min=1,max=100"`
	Message  SignalMessage `json:"message" binding:"required"`
}

// OfferMessage is the addressed forwarding of a producer's offer.
type OfferMessage struct {
	Type         types.MessageType  `json:"type"`
	Offer        SessionDescription `json:"offer"`
	FromProducer string             `json:"from_producer"`
	Timestamp    string             `json:"timestamp"`
}

// AnswerMessage is the addressed forwarding of a consumer's answer.
type AnswerMessage struct {
	Type         types.MessageType  `json:"type"`
	Answer       SessionDescription `json:"answer"`
	FromConsumer string             `json:"from_consumer"`
	Timestamp    string             `json:"timestamp"`
}

// IceMessage is the addressed forwarding of an ICE candidate. Exactly one of
// the from_ fields is set, matching the sender's role.
type IceMessage struct {
	Type         types.MessageType `json:"type"`
	Candidate    json.RawMessage   `json:"candidate"`
	FromProducer string            `json:"from_producer,omitempty"`
	FromConsumer string            `json:"from_consumer,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

// --- REST projections ---

// RoomSummary is the per-room projection returned by the listing surface.
type RoomSummary struct {
	ID              types.RoomIDType      `json:"id"`
	WorkspaceID     types.WorkspaceIDType `json:"workspace_id"`
	Participants    types.ParticipantInfo `json:"participants"`
	FrameCount      int64                 `json:"frame_count"`
	Config          VideoConfig           `json:"config"`
	HasProducer     bool                  `json:"has_producer"`
	ActiveConsumers int                   `json:"active_consumers"`
}

// RoomState is the authoritative snapshot returned by the state surface.
type RoomState struct {
	RoomID        types.RoomIDType      `json:"room_id"`
	WorkspaceID   types.WorkspaceIDType `json:"workspace_id"`
	Participants  types.ParticipantInfo `json:"participants"`
	FrameCount    int64                 `json:"frame_count"`
	TotalBytes    int64                 `json:"total_bytes"`
	LastFrameTime *string               `json:"last_frame_time"`
	CurrentConfig VideoConfig           `json:"current_config"`
	Timestamp     string                `json:"timestamp"`
}
