package video

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robothub/transport-server/internal/v1/logging"
	"github.com/robothub/transport-server/internal/v1/metrics"
	"github.com/robothub/transport-server/internal/v1/ratelimit"
	"github.com/robothub/transport-server/internal/v1/transport"
	"github.com/robothub/transport-server/internal/v1/types"
)

const joinWait = 10 * time.Second

// Handler serves the video REST and WebSocket surfaces.
type Handler struct {
	core     *Core
	limiter  *ratelimit.RateLimiter
	upgrader websocket.Upgrader
}

// NewHandler wires the video surfaces.
func NewHandler(core *Core, limiter *ratelimit.RateLimiter, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Handler{
		core:    core,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin] || allowed["*"]
			},
		},
	}
}

// ServeWS upgrades the connection, runs the join handshake, then the message
// loop. Identical skeleton to the robotics router; only the tag set differs.
func (h *Handler) ServeWS(c *gin.Context) {
	if !h.limiter.CheckWebSocket(c) {
		return
	}

	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx := context.WithValue(context.Background(), logging.WorkspaceIDKey, string(workspaceID))
	ctx = context.WithValue(ctx, logging.RoomIDKey, string(roomID))

	_ = conn.SetReadDeadline(time.Now().Add(joinWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var join types.JoinRequest
	if err := json.Unmarshal(raw, &join); err != nil || !join.Validate() {
		rejectAndClose(conn, "Invalid join message")
		return
	}

	participantID := types.ParticipantIDType(join.ParticipantID)
	ctx = context.WithValue(ctx, logging.ParticipantIDKey, string(participantID))

	room := h.core.getRoom(workspaceID, roomID)
	if room == nil {
		rejectAndClose(conn, "Cannot join room")
		return
	}

	if h.core.table.Contains(participantID) {
		rejectAndClose(conn, "Cannot join room")
		return
	}

	if err := room.join(participantID, join.Role); err != nil {
		logging.Warn(ctx, "Join rejected", zap.String("role", string(join.Role)), zap.Error(err))
		rejectAndClose(conn, "Cannot join room")
		return
	}

	client := transport.NewClient(participantID, conn)
	if err := h.core.table.Insert(client, workspaceID, roomID, join.Role); err != nil {
		room.leave(participantID)
		rejectAndClose(conn, "Cannot join room")
		return
	}
	go client.WritePump()

	metrics.ActiveConnections.WithLabelValues(ServiceName).Inc()
	logging.Info(ctx, "Participant joined", zap.String("role", string(join.Role)))

	defer func() {
		client.Disconnect()
		h.core.table.Remove(participantID)
		if role, wasMember := room.leave(participantID); wasMember {
			h.core.broadcastToRoom(ctx, room, types.NewParticipantLeft(roomID, participantID, role), participantID)
		}
		metrics.ActiveConnections.WithLabelValues(ServiceName).Dec()
		logging.Info(ctx, "Participant disconnected")
	}()

	h.core.sendToParticipant(ctx, participantID, types.NewJoined(workspaceID, roomID, join.Role))
	h.core.broadcastToRoom(ctx, room, types.NewParticipantJoined(roomID, participantID, join.Role), participantID)

	h.readLoop(ctx, client, room, participantID, join.Role)
}

func (h *Handler) readLoop(ctx context.Context, client *transport.Client, room *Room, participantID types.ParticipantIDType, role types.RoleType) {
	for {
		raw, err := client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn(ctx, "Unexpected channel close", zap.Error(err))
			}
			return
		}

		h.core.table.Touch(participantID)
		room.touch()

		env, err := types.DecodeEnvelope(raw)
		if err != nil {
			h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed message"))
			continue
		}

		metrics.MessagesRouted.WithLabelValues(ServiceName, string(env.Type)).Inc()

		switch env.Type {
		case types.MessageHeartbeat:
			h.core.sendToParticipant(ctx, participantID, types.NewHeartbeatAck())

		case MessageStreamStarted:
			h.handleStreamStarted(ctx, raw, room, participantID, role)

		case MessageStreamStopped:
			h.handleStreamStopped(ctx, raw, room, participantID, role)

		case MessageVideoConfigUpdate:
			h.handleConfigUpdate(ctx, raw, room, participantID, role)

		case MessageStatusUpdate:
			var req statusUpdateRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed status_update message"))
				continue
			}
			h.core.broadcastToRoom(ctx, room, StatusUpdateMessage{
				Type:      MessageStatusUpdate,
				Status:    req.Status,
				Data:      req.Data,
				Timestamp: types.Timestamp(),
			}, participantID)

		case MessageStreamStats:
			var req streamStatsRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed stream_stats message"))
				continue
			}
			if role == types.RoleProducer {
				room.recordStats(req.Stats)
			}
			h.core.broadcastToRoom(ctx, room, StreamStatsMessage{
				Type:      MessageStreamStats,
				Stats:     req.Stats,
				Timestamp: types.Timestamp(),
			}, participantID)

		case MessageRecoveryTriggered:
			var req recoveryTriggeredRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed recovery_triggered message"))
				continue
			}
			reason := req.Reason
			if reason == "" {
				reason = "Recovery triggered"
			}
			logging.Info(ctx, "Recovery triggered",
				zap.String("policy", req.Policy), zap.String("reason", reason))
			h.core.broadcastToRoom(ctx, room, RecoveryTriggeredMessage{
				Type:      MessageRecoveryTriggered,
				Policy:    req.Policy,
				Reason:    reason,
				Timestamp: types.Timestamp(),
			}, participantID)

		case types.MessageEmergencyStop:
			var req emergencyStopRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed emergency_stop message"))
				continue
			}
			reason := req.Reason
			if reason == "" {
				reason = "Emergency stop requested"
			}
			// Safety traffic reaches everyone, the sender included.
			h.core.broadcastToRoom(ctx, room, types.NewEmergencyStop(reason, string(participantID)), "")
			logging.Warn(ctx, "Emergency stop broadcast", zap.String("reason", reason))

		default:
			h.core.sendToParticipant(ctx, participantID,
				types.NewError("Unknown message type: "+string(env.Type)))
		}
	}
}

func (h *Handler) handleStreamStarted(ctx context.Context, raw []byte, room *Room, participantID types.ParticipantIDType, role types.RoleType) {
	if role != types.RoleProducer {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Only producers can start streams"))
		return
	}

	var req streamStartedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed stream_started message"))
		return
	}

	logging.Info(ctx, "Stream started")
	h.core.broadcastToRoom(ctx, room, StreamStartedMessage{
		Type:          MessageStreamStarted,
		Config:        req.Config,
		ParticipantID: participantID,
		Timestamp:     types.Timestamp(),
	}, participantID)
}

func (h *Handler) handleStreamStopped(ctx context.Context, raw []byte, room *Room, participantID types.ParticipantIDType, role types.RoleType) {
	if role != types.RoleProducer {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Only producers can stop streams"))
		return
	}

	var req streamStoppedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed stream_stopped message"))
		return
	}

	logging.Info(ctx, "Stream stopped", zap.String("reason", req.Reason))
	h.core.broadcastToRoom(ctx, room, StreamStoppedMessage{
		Type:          MessageStreamStopped,
		ParticipantID: participantID,
		Reason:        req.Reason,
		Timestamp:     types.Timestamp(),
	}, participantID)
}

// handleConfigUpdate relays a config change to the other peers. Only a
// producer's update mutates the room config; everyone else's is forwarded
// untouched.
func (h *Handler) handleConfigUpdate(ctx context.Context, raw []byte, room *Room, participantID types.ParticipantIDType, role types.RoleType) {
	var req configUpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed video_config_update message"))
		return
	}

	if role == types.RoleProducer {
		room.mergeConfig(req.Config)
	}

	h.core.broadcastToRoom(ctx, room, ConfigUpdateMessage{
		Type:      MessageVideoConfigUpdate,
		Config:    req.Config,
		Source:    string(participantID),
		Timestamp: types.Timestamp(),
	}, participantID)
}

func rejectAndClose(conn *websocket.Conn, message string) {
	payload, err := json.Marshal(types.NewError(message))
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
	_ = conn.Close()
}
