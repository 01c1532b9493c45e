package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck/internal/procmgr"
)

type fakeManager struct {
	entries []procmgr.Entry
	err     error
}

func (f *fakeManager) Start(context.Context, procmgr.StartRequest) error { return nil }
func (f *fakeManager) Stop(context.Context, string) error                { return nil }
func (f *fakeManager) Delete(context.Context, string) error              { return nil }
func (f *fakeManager) List(context.Context) ([]procmgr.Entry, error)     { return f.entries, f.err }

func TestHandleFor(t *testing.T) {
	assert.Equal(t, "agent-42", HandleFor("42"))
	assert.Equal(t, HandleFor("x"), HandleFor("x"))

	id, ok := AgentIDFor("agent-42")
	assert.True(t, ok)
	assert.Equal(t, "42", id)
	_, ok = AgentIDFor("web-1")
	assert.False(t, ok)
	_, ok = AgentIDFor("agent-")
	assert.False(t, ok)
}

func TestValidateID(t *testing.T) {
	for _, ok := range []string{"1", "bot_1", "a.b-c", "3f9c2a0e-5d7b-4c1e-9a8f-2b6d4e8c0a1f"} {
		assert.NoError(t, ValidateID(ok), ok)
	}
	for _, bad := range []string{"", "..", "a/b", "a\\b", "a b", "../x", "x..y"} {
		err := ValidateID(bad)
		assert.True(t, cerrdefs.IsInvalidArgument(err), bad)
	}
}

func TestFind(t *testing.T) {
	m := &fakeManager{entries: []procmgr.Entry{
		{Handle: "agent-1", PID: 100, Status: procmgr.StatusOnline, Uptime: 90*time.Second + 300*time.Millisecond},
		{Handle: "unrelated", PID: 5, Status: procmgr.StatusOnline},
		{Handle: "agent-2", Status: procmgr.StatusStopped},
	}}
	r := New(m, "/var/log/agents")

	d, ok, err := r.FindAgent(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Descriptor{AgentID: "1", Handle: "agent-1", LogFile: filepath.Join("/var/log/agents", "agent-1.log"), PID: 100, Status: procmgr.StatusOnline, Uptime: "1m30s"}, d)
	assert.True(t, d.Running())

	_, ok, err = r.Find(context.Background(), "agent-3")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[1].Running())

	assert.Empty(t, list[1].Uptime)

	gone := r.Describe("4")
	assert.Equal(t, "agent-4", gone.Handle)
	assert.Equal(t, filepath.Join("/var/log/agents", "agent-4.log"), gone.LogFile)
	assert.False(t, gone.Running())

	m.err = errors.New("pm2 down")
	_, _, err = r.Find(context.Background(), "agent-1")
	assert.Error(t, err)
}
