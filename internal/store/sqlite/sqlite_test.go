package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/store"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestSQLiteCRUD(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	rec := agent.Record{
		ID:             "bot-1",
		Name:           "Bot One",
		Tags:           []string{"music", "fun"},
		DirectoryRoot:  "bots/one",
		StartupCommand: "python3 bot.py",
		Credential:     "token",
		Status:         agent.StatusOffline,
	}
	require.NoError(t, db.Create(ctx, rec))
	assert.True(t, cerrdefs.IsAlreadyExists(db.Create(ctx, rec)))

	got, err := db.Get(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Bot One", got.Name)
	assert.Equal(t, []string{"music", "fun"}, got.Tags)
	assert.Equal(t, "token", got.Credential)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.StartTime)

	_, err = db.Get(ctx, "nope")
	assert.True(t, cerrdefs.IsNotFound(err))

	list, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, db.Delete(ctx, "bot-1"))
	assert.True(t, cerrdefs.IsNotFound(db.Delete(ctx, "bot-1")))
}

func TestSQLiteLifecycleAndReport(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(ctx, agent.Record{ID: "a", Name: "a", Status: agent.StatusOffline}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	rec, err := store.MarkStarted(ctx, db, "a", 777, at)
	require.NoError(t, err)
	assert.Equal(t, 777, rec.PID)

	got, err := db.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOnline, got.Status)
	assert.Equal(t, 777, got.PID)
	require.NotNil(t, got.StartTime)
	assert.WithinDuration(t, at, *got.StartTime, time.Millisecond)

	_, err = store.MarkStopped(ctx, db, "a", time.Now())
	require.NoError(t, err)
	got, err = db.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOffline, got.Status)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.StartTime)

	res, err := store.ApplyReport(ctx, db, "a", agent.Report{Status: agent.StatusOnline, Ping: 42, PID: 9}, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	got, err = db.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOffline, got.Status)
	assert.Zero(t, got.Ping)
	assert.Zero(t, got.PID)
	assert.NotNil(t, got.LastSeen)

	_, err = store.MarkStarted(ctx, db, "missing", 1, time.Now())
	assert.True(t, cerrdefs.IsNotFound(err))
}
