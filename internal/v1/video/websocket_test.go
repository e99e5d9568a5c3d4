package video

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robothub/transport-server/internal/v1/ratelimit"
	"github.com/robothub/transport-server/internal/v1/types"
)

const readWait = 2 * time.Second

func newWSTestServer(t *testing.T) (*Core, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core := NewCore(time.Hour, time.Hour)
	limiter, err := ratelimit.New("10000-M", "10000-M")
	require.NoError(t, err)

	handler := NewHandler(core, limiter, []string{"*"})
	router := gin.New()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return core, srv
}

func dialRoom(t *testing.T, srv *httptest.Server, workspaceID, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/video/workspaces/" + workspaceID + "/rooms/" + roomID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func joinRoom(t *testing.T, conn *websocket.Conn, participantID string, role types.RoleType) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(types.JoinRequest{ParticipantID: participantID, Role: role}))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg map[string]any
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "expected no frame, got %v", msg)
}

// joinPair connects a producer and a consumer and drains the handshake and
// join-event frames on both sides.
func joinPair(t *testing.T, srv *httptest.Server) (producer, consumer *websocket.Conn) {
	t.Helper()

	producer = dialRoom(t, srv, "ws1", "r1")
	joinRoom(t, producer, "prod", types.RoleProducer)
	readFrame(t, producer) // joined

	consumer = dialRoom(t, srv, "ws1", "r1")
	joinRoom(t, consumer, "con", types.RoleConsumer)
	readFrame(t, consumer) // joined
	readFrame(t, producer) // participant_joined
	return producer, consumer
}

func TestVideoHandshake(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	conn := dialRoom(t, srv, "ws1", "r1")
	joinRoom(t, conn, "con", types.RoleConsumer)

	// No snapshot for video consumers: the first frame is the confirmation.
	joined := readFrame(t, conn)
	assert.Equal(t, "joined", joined["type"])
	assert.Equal(t, "consumer", joined["role"])
	assert.Equal(t, "ws1", joined["workspace_id"])
}

func TestStreamLifecycleBroadcast(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	producer, consumer := joinPair(t, srv)

	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":   "stream_started",
		"config": map[string]any{"framerate": 24},
	}))

	started := readFrame(t, consumer)
	assert.Equal(t, "stream_started", started["type"])
	assert.Equal(t, "prod", started["participant_id"])
	cfg, ok := started["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 24.0, cfg["framerate"])

	// The sender does not hear its own notification.
	assertNoFrame(t, producer)

	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":   "stream_stopped",
		"reason": "maintenance",
	}))

	stopped := readFrame(t, consumer)
	assert.Equal(t, "stream_stopped", stopped["type"])
	assert.Equal(t, "maintenance", stopped["reason"])
}

func TestConsumerCannotStartStream(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	_, consumer := joinPair(t, srv)

	require.NoError(t, consumer.WriteJSON(map[string]any{"type": "stream_started"}))

	errFrame := readFrame(t, consumer)
	assert.Equal(t, "error", errFrame["type"])
}

func TestConfigUpdateMutatesRoomOnlyFromProducer(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	producer, consumer := joinPair(t, srv)

	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":   "video_config_update",
		"config": map[string]any{"quality": 55},
	}))

	update := readFrame(t, consumer)
	assert.Equal(t, "video_config_update", update["type"])
	assert.Equal(t, "prod", update["source"])

	state, err := core.RoomState("ws1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 55, *state.CurrentConfig.Quality)

	// A consumer's update is relayed but never mutates the room config.
	require.NoError(t, consumer.WriteJSON(map[string]any{
		"type":   "video_config_update",
		"config": map[string]any{"quality": 10},
	}))

	relayed := readFrame(t, producer)
	assert.Equal(t, "video_config_update", relayed["type"])
	assert.Equal(t, "con", relayed["source"])

	state, err = core.RoomState("ws1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 55, *state.CurrentConfig.Quality)
}

func TestStatusAndStatsRelay(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	producer, consumer := joinPair(t, srv)

	require.NoError(t, consumer.WriteJSON(map[string]any{
		"type":   "status_update",
		"status": "buffering",
		"data":   map[string]any{"depth": 3},
	}))

	status := readFrame(t, producer)
	assert.Equal(t, "status_update", status["type"])
	assert.Equal(t, "buffering", status["status"])

	require.NoError(t, producer.WriteJSON(map[string]any{
		"type": "stream_stats",
		"stats": map[string]any{
			"stream_id":   "s1",
			"frame_count": 500,
			"total_bytes": 42000,
		},
	}))

	stats := readFrame(t, consumer)
	assert.Equal(t, "stream_stats", stats["type"])

	// Producer-reported counters land in the room state.
	state, err := core.RoomState("ws1", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), state.FrameCount)
}

func TestRecoveryTriggeredRelay(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	producer, consumer := joinPair(t, srv)

	require.NoError(t, consumer.WriteJSON(map[string]any{
		"type":   "recovery_triggered",
		"policy": "freeze_last_frame",
		"reason": "frame timeout",
	}))

	frame := readFrame(t, producer)
	assert.Equal(t, "recovery_triggered", frame["type"])
	assert.Equal(t, "freeze_last_frame", frame["policy"])
	assert.Equal(t, "frame timeout", frame["reason"])
}

func TestVideoEmergencyStopReachesEveryone(t *testing.T) {
	core, srv := newWSTestServer(t)
	_, _, err := core.CreateRoom("ws1", "r1", nil, nil)
	require.NoError(t, err)

	producer, consumer := joinPair(t, srv)

	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":   "emergency_stop",
		"reason": "camera fault",
	}))

	for _, conn := range []*websocket.Conn{producer, consumer} {
		frame := readFrame(t, conn)
		assert.Equal(t, "emergency_stop", frame["type"])
		assert.Equal(t, "camera fault", frame["reason"])
		assert.Equal(t, "prod", frame["source"])
	}
}
