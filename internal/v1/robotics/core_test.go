package robotics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/robothub/transport-server/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCore() *Core {
	return NewCore(time.Hour, 15*time.Minute)
}

func TestCreateRoomGeneratesIdentifiers(t *testing.T) {
	core := newTestCore()

	workspaceID, roomID, err := core.CreateRoom("", "")
	require.NoError(t, err)
	assert.NotEmpty(t, workspaceID)
	assert.NotEmpty(t, roomID)

	summary, err := core.RoomSummary(workspaceID, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, summary.ID)
}

func TestCreateRoomRejectsCollision(t *testing.T) {
	core := newTestCore()

	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	_, _, err = core.CreateRoom("ws1", "r1")
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestListRoomsUnknownWorkspace(t *testing.T) {
	core := newTestCore()
	assert.Empty(t, core.ListRooms("no-such-workspace"))
}

func TestDeleteRoomRemovesWorkspaceWhenEmpty(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	assert.True(t, core.DeleteRoom(ctx, "ws1", "r1"))
	assert.False(t, core.DeleteRoom(ctx, "ws1", "r1"))

	workspaces, rooms, _ := core.Counts()
	assert.Zero(t, workspaces)
	assert.Zero(t, rooms)
}

func TestUpdateJointsCountsChanges(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)

	changed, err := core.UpdateJoints(ctx, "ws1", "r1", []JointValue{
		{Name: "base", Value: 10},
		{Name: "elbow", Value: 20},
	}, CommandSource)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = core.UpdateJoints(ctx, "ws1", "r1", []JointValue{
		{Name: "base", Value: 10},
	}, CommandSource)
	require.NoError(t, err)
	assert.Zero(t, changed)

	_, err = core.UpdateJoints(ctx, "ws1", "missing", nil, CommandSource)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSweepEvictsOnlyStaleRooms(t *testing.T) {
	core := NewCore(50*time.Millisecond, time.Hour)
	ctx := context.Background()

	_, _, err := core.CreateRoom("ws1", "stale")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, _, err = core.CreateRoom("ws1", "fresh")
	require.NoError(t, err)

	removed := core.SweepInactiveRooms(ctx)
	assert.Equal(t, 1, removed)

	_, err = core.RoomSummary("ws1", "stale")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = core.RoomSummary("ws1", "fresh")
	assert.NoError(t, err)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	core := NewCore(time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	core.StartSweeper(ctx)

	cancel()
	core.Shutdown(context.Background())
}

func TestStatsAggregation(t *testing.T) {
	core := newTestCore()

	_, _, err := core.CreateRoom("ws1", "r1")
	require.NoError(t, err)
	_, _, err = core.CreateRoom("ws2", "r2")
	require.NoError(t, err)

	stats := core.Stats()
	assert.Equal(t, 2, stats.TotalWorkspaces)
	assert.Equal(t, 2, stats.TotalRooms)
	assert.Zero(t, stats.TotalConnections)
	assert.Contains(t, stats.ConnectionsByRole, types.RoleProducer)
	assert.Contains(t, stats.ConnectionsByRole, types.RoleConsumer)
}
