package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck"
	"github.com/loykin/agentdeck/pkg/client"
)

type cli struct {
	url  string
	root string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg, err := agentdeck.LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Workspace.Root = filepath.Join(dir, "ws")
	cfg.Logs.Dir = filepath.Join(dir, "logs")
	cfg.Store.DSN = "memory://"
	cfg.Stats.Enabled = false
	cfg.Supervisor.SettleDelay = 10 * time.Millisecond
	app, err := agentdeck.Open(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return cli{url: srv.URL + "/api", root: cfg.Workspace.Root}
}

func (c cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--api-url", c.url}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c cli) createAgent(t *testing.T, name, dir string) client.Agent {
	t.Helper()
	out, err := c.run(t, "", "agents", "create", "--name", name, "--dir", dir, "--json")
	require.NoError(t, err, out)
	var a client.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	return a
}

func TestHelpMentionsCommands(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	for _, name := range []string{"serve", "agents", "restart", "logs", "touch"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestAgentsCommands(t *testing.T) {
	c := newCLI(t)
	t.Setenv("TEST_AGENT_TOKEN", "tok")
	out, err := c.run(t, "", "agents", "create", "--name", "alpha", "--dir", "alpha", "--credential-env", "TEST_AGENT_TOKEN", "--json")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "tok\"")
	var a client.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.True(t, a.HasCredential)

	out, err = c.run(t, "", "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "OFFLINE")

	out, err = c.run(t, "", "agents", "update", a.ID, "--status", "MAINTENANCE")
	require.NoError(t, err, out)
	assert.Contains(t, out, "MAINTENANCE")

	out, err = c.run(t, "", "status", a.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "STOPPED")

	out, err = c.run(t, "", "logs", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "NO_LOGS_FOUND")

	out, err = c.run(t, "", "stop", a.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "stop "+a.ID)

	_, err = c.run(t, "", "agents", "delete", a.ID)
	require.NoError(t, err)
	_, err = c.run(t, "", "status", a.ID)
	require.Error(t, err)
}

func TestFileCommands(t *testing.T) {
	c := newCLI(t)
	a := c.createAgent(t, "files", "files")

	_, err := c.run(t, "", "mkdir", a.ID, "src")
	require.NoError(t, err)
	_, err = c.run(t, "", "touch", a.ID, "src/empty.txt")
	require.NoError(t, err)
	_, err = c.run(t, "print('hello')\n", "put", a.ID, "src/bot.py")
	require.NoError(t, err)

	out, err := c.run(t, "", "cat", a.ID, "src/bot.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", out)

	local := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(local, []byte("# notes"), 0o644))
	out, err = c.run(t, "", "put", "--upload", a.ID, "src", local)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 of 1")
	b, err := os.ReadFile(filepath.Join(c.root, "files", "src", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(b))

	out, err = c.run(t, "", "ls", a.ID, "src")
	require.NoError(t, err)
	assert.Contains(t, out, "src/bot.py")
	assert.Contains(t, out, "src/empty.txt")

	_, err = c.run(t, "", "rm", a.ID, "src")
	require.NoError(t, err)
	_, err = c.run(t, "", "cat", a.ID, "src/bot.py")
	require.Error(t, err)

	_, err = c.run(t, "", "cat", a.ID, "../../secret")
	require.Error(t, err)
}

func TestSplitEntry(t *testing.T) {
	d, n := splitEntry("a/b/c.txt")
	assert.Equal(t, "a/b", d)
	assert.Equal(t, "c.txt", n)
	d, n = splitEntry("top")
	assert.Equal(t, "", d)
	assert.Equal(t, "top", n)
}

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs([]string{"serve", "--daemonize", "--logfile", "x.log", "--config=c.toml", "--logfile=y.log", "--pidfile", "p"})
	assert.Equal(t, []string{"serve", "--config=c.toml", "--pidfile", "p"}, got)
}

func TestPidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "agentdeck.pid")
	require.NoError(t, writePidFile(p, 1234))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "1234", string(b))
	require.NoError(t, removePidFile(p))
	require.NoError(t, removePidFile(""))
}
