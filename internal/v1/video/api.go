package video

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/robothub/transport-server/internal/v1/types"
)

// createRoomRequest optionally pins identifiers and seeds the room config.
// The recovery config is stored opaquely.
type createRoomRequest struct {
	RoomID         string          `json:"room_id"`
	WorkspaceID    string          `json:"workspace_id"`
	Config         *VideoConfig    `json:"config"`
	RecoveryConfig json.RawMessage `json:"recovery_config"`
}

// RegisterRoutes mounts the video control surface, the signaling endpoint,
// and the WebSocket endpoint under /video. The unscoped room routes predate
// workspaces and answer with a migration notice.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/video")

	g.GET("/workspaces/:workspace_id/rooms", h.listRooms)
	g.POST("/workspaces/:workspace_id/rooms", h.createRoom)
	g.GET("/workspaces/:workspace_id/rooms/:room_id", h.getRoom)
	g.DELETE("/workspaces/:workspace_id/rooms/:room_id", h.deleteRoom)
	g.GET("/workspaces/:workspace_id/rooms/:room_id/state", h.getRoomState)
	g.POST("/workspaces/:workspace_id/rooms/:room_id/webrtc/signal", h.handleSignal)
	g.GET("/workspaces/:workspace_id/rooms/:room_id/ws", h.ServeWS)

	g.GET("/rooms", legacyDeprecated("GET /video/workspaces/{workspace_id}/rooms"))
	g.POST("/rooms", legacyDeprecated("POST /video/workspaces/{workspace_id}/rooms"))
	g.GET("/rooms/:room_id", legacyDeprecated("GET /video/workspaces/{workspace_id}/rooms/{room_id}"))
	g.DELETE("/rooms/:room_id", legacyDeprecated("DELETE /video/workspaces/{workspace_id}/rooms/{room_id}"))
	g.GET("/rooms/:room_id/state", legacyDeprecated("GET /video/workspaces/{workspace_id}/rooms/{room_id}/state"))
	g.POST("/rooms/:room_id/webrtc/signal", legacyDeprecated("POST /video/workspaces/{workspace_id}/rooms/{room_id}/webrtc/signal"))

	g.GET("/status", h.status)
	g.GET("/health", h.health)
}

func (h *Handler) listRooms(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	rooms := h.core.ListRooms(workspaceID)
	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspaceID,
		"rooms":        rooms,
		"total":        len(rooms),
	})
}

func (h *Handler) createRoom(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))

	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	workspaceID, roomID, err := h.core.CreateRoom(workspaceID, types.RoomIDType(req.RoomID), req.Config, req.RecoveryConfig)
	if err != nil {
		if errors.Is(err, ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"workspace_id": workspaceID,
		"room_id":      roomID,
	})
}

func (h *Handler) getRoom(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	summary, err := h.core.RoomSummary(workspaceID, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	if !h.core.DeleteRoom(c.Request.Context(), workspaceID, roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted", "room_id": roomID})
}

func (h *Handler) getRoomState(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	state, err := h.core.RoomState(workspaceID, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleSignal invokes the relay. Success is opaque: a forwarded signal and
// one dropped for an absent target answer identically, so a caller cannot
// probe room membership.
func (h *Handler) handleSignal(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signal body"})
		return
	}

	err := h.core.RelaySignal(c.Request.Context(), workspaceID, roomID,
		types.ParticipantIDType(req.ClientID), req.Message)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"workspace_id": workspaceID,
			"message":      "Signal processed",
		})
	case errors.Is(err, ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "Sender is not a member of the room"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signaling message"})
	}
}

func (h *Handler) status(c *gin.Context) {
	workspaces, rooms, connections := h.core.Counts()
	c.JSON(http.StatusOK, gin.H{
		"service":             ServiceName,
		"status":              "active",
		"workspaces_count":    workspaces,
		"rooms_count":         rooms,
		"connections_count":   connections,
		"supported_roles":     []types.RoleType{types.RoleProducer, types.RoleConsumer},
		"supported_encodings": SupportedEncodings,
		"recovery_policies":   RecoveryPolicies,
		"timestamp":           types.Timestamp(),
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}

// legacyDeprecated answers a pre-workspace route with its replacement.
func legacyDeprecated(replacement string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           "Legacy endpoint deprecated",
			"message":         "Use workspace-scoped endpoint: " + replacement,
			"migration_guide": "All video rooms now require a workspace_id",
		})
	}
}
