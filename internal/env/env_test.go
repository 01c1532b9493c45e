package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLayering(t *testing.T) {
	t.Setenv("AGENTDECK_TEST_BASE", "from-os")
	e := New(true)
	e.Set("API_HOST", "127.0.0.1")
	e.Set("API_URL", "http://${API_HOST}:3000")
	e.Set("AGENTDECK_TEST_BASE", "overridden")

	out := e.Merge([]string{"DISCORD_TOKEN=abc$def${API_HOST}", "BOT_ID=7", "=bad", "noequals"})

	assert.Contains(t, out, "API_URL=http://127.0.0.1:3000")
	assert.Contains(t, out, "AGENTDECK_TEST_BASE=overridden")
	assert.Contains(t, out, "DISCORD_TOKEN=abc$def${API_HOST}")
	assert.Contains(t, out, "BOT_ID=7")
	for _, kv := range out {
		assert.NotEqual(t, '=', kv[0])
	}
}

func TestMergeWithoutOS(t *testing.T) {
	t.Setenv("AGENTDECK_TEST_SECRET", "x")
	e := New(false)
	e.Set("A", "1")
	out := e.Merge([]string{"B=2"})
	assert.Equal(t, []string{"A=1", "B=2"}, out)
}

func TestMergeSelfReference(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	e := New(true)
	e.Set("PATH", "/opt/agent/bin:${PATH}")
	assert.Contains(t, e.Merge(nil), "PATH=/opt/agent/bin:/usr/bin")
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.env")
	b := filepath.Join(dir, "b.env")
	require.NoError(t, os.WriteFile(a, []byte("# comment\nFOO=one\nBAR=\"quoted value\"\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("FOO=two\n"), 0o600))

	e := New(false)
	require.NoError(t, e.LoadFiles(a, b))
	assert.Equal(t, []string{"BAR=quoted value", "FOO=two"}, e.Merge(nil))

	assert.Error(t, e.LoadFiles(filepath.Join(dir, "missing.env")))
}

func TestSetPairs(t *testing.T) {
	e := New(false)
	require.NoError(t, e.SetPairs([]string{"X=1", " Y =2"}))
	assert.Equal(t, []string{"X=1", "Y=2"}, e.Merge(nil))
	assert.Error(t, e.SetPairs([]string{"novalue"}))
	assert.Error(t, e.SetPairs([]string{"=v"}))
}
