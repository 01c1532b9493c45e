package agentdeck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Workspace.Root = filepath.Join(dir, "ws")
	cfg.Logs.Dir = filepath.Join(dir, "logs")
	cfg.Store.DSN = "memory://"
	cfg.History.Sinks = []string{"sqlite://" + filepath.Join(dir, "history.db")}
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Stats.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

func TestOpenServesAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	for _, p := range []string{"/api/health", "/api/agents", "/api/metrics"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
	assert.NotNil(t, app.Console())
	assert.DirExists(t, filepath.Join(app.cfg.Logs.Dir, "locks"))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.Backend = "launchd"
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.History.Sinks = []string{"kafka://nowhere"}
	_, err = Open(context.Background(), cfg)
	require.Error(t, err)

	_, err = Open(context.Background(), nil)
	require.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
