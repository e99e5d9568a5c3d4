package video

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

func TestCreateVideoRoomWithConfig(t *testing.T) {
	core, router := newAPITestRouter(t)

	body := `{"room_id":"r1","config":{"framerate":60,"encoding":"h264"},"recovery_config":{"recovery_policy":"black_screen"}}`
	w := doRequest(router, http.MethodPost, "/video/workspaces/ws1/rooms", body)
	require.Equal(t, http.StatusCreated, w.Code)

	state, err := core.RoomState("ws1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 60, *state.CurrentConfig.Framerate)
	assert.Equal(t, EncodingH264, *state.CurrentConfig.Encoding)
	// Unspecified fields fall back to defaults.
	assert.Equal(t, 80, *state.CurrentConfig.Quality)
	assert.Equal(t, Resolution{Width: 640, Height: 480}, *state.CurrentConfig.Resolution)
}

func TestCreateVideoRoomConflict(t *testing.T) {
	_, router := newAPITestRouter(t)

	w := doRequest(router, http.MethodPost, "/video/workspaces/ws1/rooms", `{"room_id":"r1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(router, http.MethodPost, "/video/workspaces/ws1/rooms", `{"room_id":"r1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListVideoRooms(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/video/workspaces/ws1/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms []RoomSummary `json:"rooms"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "r1", string(resp.Rooms[0].ID))
	assert.False(t, resp.Rooms[0].HasProducer)
}

func TestGetAndDeleteVideoRoom(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/video/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodDelete, "/video/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/video/workspaces/ws1/rooms/r1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLegacyRoutesDeprecated(t *testing.T) {
	_, router := newAPITestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/video/rooms"},
		{http.MethodPost, "/video/rooms"},
		{http.MethodGet, "/video/rooms/r1"},
		{http.MethodDelete, "/video/rooms/r1"},
		{http.MethodGet, "/video/rooms/r1/state"},
		{http.MethodPost, "/video/rooms/r1/webrtc/signal"},
	}

	for _, tt := range paths {
		w := doRequest(router, tt.method, tt.path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s", tt.method, tt.path)
		assert.Contains(t, w.Body.String(), "Legacy endpoint deprecated")
		assert.Contains(t, w.Body.String(), "workspace")
	}
}

func TestVideoStatusEndpoint(t *testing.T) {
	core, router := newAPITestRouter(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/video/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Service            string   `json:"service"`
		RoomsCount         int      `json:"rooms_count"`
		SupportedEncodings []string `json:"supported_encodings"`
		RecoveryPolicies   []string `json:"recovery_policies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "video", resp.Service)
	assert.Equal(t, 1, resp.RoomsCount)
	assert.Contains(t, resp.SupportedEncodings, "vp8")
	assert.Contains(t, resp.RecoveryPolicies, "freeze_last_frame")
}

func TestVideoHealthEndpoint(t *testing.T) {
	_, router := newAPITestRouter(t)

	w := doRequest(router, http.MethodGet, "/video/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
