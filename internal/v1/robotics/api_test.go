package robotics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robothub/transport-server/internal/v1/ratelimit"
)

func newAPITestRouter(t *testing.T) (*Core, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core := NewCore(time.Hour, time.Hour)
	limiter, err := ratelimit.New("10000-M", "10000-M")
	require.NoError(t, err)

	router := gin.New()
	NewHandler(core, limiter, []string{"*"}).RegisterRoutes(router)
	return core, router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateRoomEndpoint(t *testing.T) {
	_, router := newAPITestRouter(t)

	w := doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms", `{"room_id":"r1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ws1", resp["workspace_id"])
	assert.Equal(t, "r1", resp["room_id"])

	// Same identifiers conflict.
	w = doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms", `{"room_id":"r1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateRoomEndpointGeneratesIDs(t *testing.T) {
	_, router := newAPITestRouter(t)

	w := doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ws1", resp["workspace_id"])
	assert.NotEmpty(t, resp["room_id"])
}

func TestListRoomsEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/robotics/workspaces/ws1/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		WorkspaceID string        `json:"workspace_id"`
		Rooms       []RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "r1", string(resp.Rooms[0].ID))

	// Unknown workspaces list empty, not 404.
	w = doRequest(router, http.MethodGet, "/robotics/workspaces/nope/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Rooms)
}

func TestGetRoomEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/robotics/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/robotics/workspaces/ws1/rooms/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRoomEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	w := doRequest(router, http.MethodDelete, "/robotics/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodDelete, "/robotics/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomStateEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)
	_, err = core.UpdateJoints(t.Context(), "ws1", "r1", []JointValue{{Name: "base", Value: 15}}, CommandSource)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/robotics/workspaces/ws1/rooms/r1/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var state RoomState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, map[string]float64{"base": 15}, state.Joints)
}

func TestSendCommandEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	body := `{"joints":[{"name":"base","value":30},{"name":"elbow","value":60}]}`
	w := doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms/r1/command", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		JointsUpdated int `json:"joints_updated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.JointsUpdated)

	// Identical resend changes nothing.
	w = doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms/r1/command", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.JointsUpdated)

	w = doRequest(router, http.MethodPost, "/robotics/workspaces/ws1/rooms/missing/command", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusAndHealthEndpoints(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/robotics/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"robotics"`)
	assert.Contains(t, w.Body.String(), `"total_rooms":1`)

	w = doRequest(router, http.MethodGet, "/robotics/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
