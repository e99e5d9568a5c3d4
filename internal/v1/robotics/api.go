package robotics

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/robothub/transport-server/internal/v1/types"
)

// createRoomRequest optionally pins identifiers; omitted ones are generated.
type createRoomRequest struct {
	RoomID      string `json:"room_id"`
	WorkspaceID string `json:"workspace_id"`
}

// sendCommandRequest injects a joint delta through the REST surface.
type sendCommandRequest struct {
	Joints []JointValue `json:"joints" binding:"required,dive"`
}

// RegisterRoutes mounts the robotics control surface and WebSocket endpoint
// under /robotics.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/robotics")

	g.GET("/workspaces/:workspace_id/rooms", h.listRooms)
	g.POST("/workspaces/:workspace_id/rooms", h.createRoom)
	g.GET("/workspaces/:workspace_id/rooms/:room_id", h.getRoom)
	g.DELETE("/workspaces/:workspace_id/rooms/:room_id", h.deleteRoom)
	g.GET("/workspaces/:workspace_id/rooms/:room_id/state", h.getRoomState)
	g.POST("/workspaces/:workspace_id/rooms/:room_id/command", h.sendCommand)
	g.GET("/workspaces/:workspace_id/rooms/:room_id/ws", h.ServeWS)

	g.GET("/status", h.status)
	g.GET("/health", h.health)
}

func (h *Handler) listRooms(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspaceID,
		"rooms":        h.core.ListRooms(workspaceID),
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

	workspaceID, roomID, err := h.core.CreateRoom(workspaceID, types.RoomIDType(req.RoomID))
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

// sendCommand injects joint updates as if a producer had sent them. The delta
// rules are identical: unchanged values are elided, empty deltas broadcast
// nothing.
func (h *Handler) sendCommand(c *gin.Context) {
	workspaceID := types.WorkspaceIDType(c.Param("workspace_id"))
	roomID := types.RoomIDType(c.Param("room_id"))

	var req sendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid command body"})
		return
	}

	changed, err := h.core.UpdateJoints(c.Request.Context(), workspaceID, roomID, req.Joints, CommandSource)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Command sent",
		"joints_updated": changed,
	})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     ServiceName,
		"connections": h.core.Stats(),
		"timestamp":   types.Timestamp(),
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}
