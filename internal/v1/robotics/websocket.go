package robotics

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

// joinWait bounds how long a fresh channel may sit silent before sending its
// join handshake.
const joinWait = 10 * time.Second

// Handler serves the robotics REST and WebSocket surfaces.
type Handler struct {
	core     *Core
	limiter  *ratelimit.RateLimiter
	upgrader websocket.Upgrader
}

// NewHandler wires the robotics surfaces. allowedOrigins gates WebSocket
// upgrades the same way CORS gates the REST surface.
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

// ServeWS upgrades the connection and runs the join handshake followed by the
// message loop. The first inbound frame must be the join request; everything
// before a successful join answers with an error frame and a close.
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

	// Identifier uniqueness is global across all live connections, not just
	// within the target room.
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

	// Consumers get the authoritative snapshot before the join confirmation so
	// they never render stale state.
	if join.Role == types.RoleConsumer {
		h.core.sendToParticipant(ctx, participantID, StateSyncMessage{
			Type:      MessageStateSync,
			Data:      room.snapshotJoints(),
			Timestamp: types.Timestamp(),
		})
	}
	h.core.sendToParticipant(ctx, participantID, types.NewJoined(workspaceID, roomID, join.Role))
	h.core.broadcastToRoom(ctx, room, types.NewParticipantJoined(roomID, participantID, join.Role), participantID)

	h.readLoop(ctx, client, room, participantID, join.Role)
}

// readLoop dispatches inbound frames until the channel errors out.
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
		case MessageJointUpdate:
			h.handleJointUpdate(ctx, raw, room, participantID, role)

		case types.MessageHeartbeat:
			h.core.sendToParticipant(ctx, participantID, types.NewHeartbeatAck())

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
			// Unknown tags answer with an error frame; the channel stays open.
			h.core.sendToParticipant(ctx, participantID,
				types.NewError("Unknown message type: "+string(env.Type)))
		}
	}
}

func (h *Handler) handleJointUpdate(ctx context.Context, raw []byte, room *Room, participantID types.ParticipantIDType, role types.RoleType) {
	if role != types.RoleProducer {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Only producers can send joint updates"))
		return
	}

	var req jointUpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Malformed joint_update message"))
		return
	}

	changed, err := h.core.UpdateJoints(ctx, room.WorkspaceID, room.ID, req.Data, string(participantID))
	if err != nil {
		h.core.sendToParticipant(ctx, participantID, types.NewError("Cannot update joints"))
		return
	}
	if changed > 0 {
		logging.Info(ctx, "Joint delta broadcast", zap.Int("jointsChanged", changed))
	}
}

// rejectAndClose answers a failed handshake on the raw connection. No client
// exists yet, so the frame is written directly.
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
