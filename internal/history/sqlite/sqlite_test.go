package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck/internal/history"
)

func TestSQLiteSink(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	start := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: start, AgentID: "1", Handle: "agent-1", PID: 12345, Status: "ONLINE"}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), AgentID: "1", Handle: "agent-1", Status: "OFFLINE"}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventSpawnFailed, OccurredAt: time.Now().UTC(), AgentID: "2", Handle: "agent-2", Status: "OFFLINE", Error: "exec: not found"}))

	events, err := sink.Recent(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, history.EventStop, events[0].Type)
	assert.Equal(t, history.EventStart, events[1].Type)
	assert.Equal(t, 12345, events[1].PID)

	failed, err := sink.Recent(ctx, "2", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec: not found", failed[0].Error)
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	_, err := New("sqlite://")
	assert.Error(t, err)
}
