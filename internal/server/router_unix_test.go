//go:build !windows

package server

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlStartStatusStop(t *testing.T) {
	te := setupRouter(t, "/api")
	id := createAgent(t, te.h, "/api", map[string]any{"name": "runner", "directory_root": "runner"})
	dir := filepath.Join(te.root, "runner")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.sh"), []byte("echo started\nexec sleep 30\n"), 0o755))

	rec := doReq(t, te.h, http.MethodPost, "/api/bots/"+id+"/control", map[string]any{"action": "START"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[controlResp](t, rec)
	assert.Equal(t, "START", res.Action)
	assert.Equal(t, "agent-"+id, res.Handle)
	assert.Equal(t, "ONLINE", string(res.Agent.Status))

	rec = doReq(t, te.h, http.MethodPost, "/api/agents/"+id+"/control", map[string]any{"action": "START"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, te.h, http.MethodGet, "/api/agents/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	assert.Equal(t, "RUNNING", st["state"])
	assert.NotNil(t, st["process"])

	rec = doReq(t, te.h, http.MethodPost, "/api/agents/"+id+"/control", map[string]any{"action": "STOP"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[controlResp](t, rec)
	assert.Equal(t, "OFFLINE", string(res.Agent.Status))
	assert.Zero(t, res.Agent.PID)
}
