package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robothub/transport-server/internal/v1/types"
)

func TestTableInsertAndLookup(t *testing.T) {
	table := NewTable()
	client := NewClient("p1", &mockConn{})

	require.NoError(t, table.Insert(client, "ws1", "r1", types.RoleProducer))

	assert.True(t, table.Contains("p1"))
	assert.Equal(t, 1, table.Len())

	got, ok := table.Get("p1")
	require.True(t, ok)
	assert.Same(t, client, got)

	meta, ok := table.Metadata("p1")
	require.True(t, ok)
	assert.Equal(t, types.WorkspaceIDType("ws1"), meta.WorkspaceID)
	assert.Equal(t, types.RoomIDType("r1"), meta.RoomID)
	assert.Equal(t, types.RoleProducer, meta.Role)
	assert.Zero(t, meta.MessageCount)
}

func TestTableRejectsDuplicateID(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(NewClient("p1", &mockConn{}), "ws1", "r1", types.RoleProducer))

	// Same identifier in a different room is still a collision: uniqueness is
	// table-wide while the connection is live.
	err := table.Insert(NewClient("p1", &mockConn{}), "ws2", "r2", types.RoleConsumer)
	assert.ErrorIs(t, err, ErrParticipantExists)
}

func TestTableRemoveThenReinsert(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(NewClient("p1", &mockConn{}), "ws1", "r1", types.RoleConsumer))

	table.Remove("p1")
	assert.False(t, table.Contains("p1"))

	// Removing an absent identifier is a no-op.
	assert.NotPanics(t, func() { table.Remove("p1") })

	require.NoError(t, table.Insert(NewClient("p1", &mockConn{}), "ws1", "r1", types.RoleConsumer))
	assert.True(t, table.Contains("p1"))
}

func TestTableTouchUpdatesActivity(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(NewClient("p1", &mockConn{}), "ws1", "r1", types.RoleConsumer))

	before, _ := table.Metadata("p1")
	time.Sleep(5 * time.Millisecond)
	table.Touch("p1")
	after, _ := table.Metadata("p1")

	assert.True(t, after.LastActivity.After(before.LastActivity))
	assert.Equal(t, int64(1), after.MessageCount)
}

func TestTableLatestActivityPerRoom(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(NewClient("a", &mockConn{}), "ws1", "r1", types.RoleProducer))
	require.NoError(t, table.Insert(NewClient("b", &mockConn{}), "ws1", "r1", types.RoleConsumer))
	require.NoError(t, table.Insert(NewClient("c", &mockConn{}), "ws1", "r2", types.RoleConsumer))

	time.Sleep(5 * time.Millisecond)
	table.Touch("b")

	latest, ok := table.LatestActivity("ws1", "r1")
	require.True(t, ok)

	metaB, _ := table.Metadata("b")
	assert.Equal(t, metaB.LastActivity, latest)

	_, ok = table.LatestActivity("ws1", "missing")
	assert.False(t, ok)
}

func TestTableSnapshot(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(NewClient("a", &mockConn{}), "ws1", "r1", types.RoleProducer))
	require.NoError(t, table.Insert(NewClient("b", &mockConn{}), "ws1", "r1", types.RoleConsumer))

	snapshot := table.Snapshot()
	assert.Len(t, snapshot, 2)

	ids := map[types.ParticipantIDType]bool{}
	for _, meta := range snapshot {
		ids[meta.ParticipantID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}
