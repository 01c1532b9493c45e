package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/agentdeck/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	require.NoError(t, err)
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	sink, err := New(addr, "agent_history_test")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, AgentID: "ch-1", Handle: "agent-ch-1", PID: 99, Status: "ONLINE"}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventSpawnFailed, OccurredAt: now, AgentID: "ch-1", Handle: "agent-ch-1", Status: "OFFLINE", Error: "boom"}))

	events, err := sink.Recent(ctx, "ch-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	errs := map[history.EventType]string{}
	for _, e := range events {
		errs[e.Type] = e.Error
	}
	assert.Equal(t, "boom", errs[history.EventSpawnFailed])
	assert.Empty(t, errs[history.EventStart])
}

func TestOpenRejectsBadTableName(t *testing.T) {
	_, err := Open(Options{Addr: "127.0.0.1:1", Table: "history; DROP TABLE x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ClickHouse table name")
}
