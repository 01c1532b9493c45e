package postgres

import (
	"context"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/store"
)

// pgDSN starts a throwaway PostgreSQL and returns its DSN. Without Docker the
// test is skipped.
func pgDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("agentdeck"),
		postgres.WithUsername("deck"),
		postgres.WithPassword("deck"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStore(t *testing.T) {
	db, err := New(pgDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.Ping(ctx))

	require.NoError(t, db.Create(ctx, agent.Record{ID: "pg-1", Name: "pg", Tags: []string{"a"}, Status: agent.StatusOffline}))
	assert.True(t, cerrdefs.IsAlreadyExists(db.Create(ctx, agent.Record{ID: "pg-1", Status: agent.StatusOffline})))

	_, err = store.MarkStarted(ctx, db, "pg-1", 4321, time.Now())
	require.NoError(t, err)
	got, err := db.Get(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOnline, got.Status)
	assert.Equal(t, 4321, got.PID)
	assert.Equal(t, []string{"a"}, got.Tags)

	_, err = store.MarkStopped(ctx, db, "pg-1", time.Now())
	require.NoError(t, err)
	res, err := store.ApplyReport(ctx, db, "pg-1", agent.Report{Status: agent.StatusOnline, Ping: 42}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Rejected)

	got, err = db.Get(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOffline, got.Status)
	assert.Zero(t, got.PID)

	list, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.Delete(ctx, "pg-1"))
	_, err = db.Get(ctx, "pg-1")
	assert.True(t, cerrdefs.IsNotFound(err))
}
