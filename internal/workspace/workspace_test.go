package workspace

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck/internal/sandbox"
)

func newWorkspace(t *testing.T, directoryRoot string) (*Service, *Workspace) {
	t.Helper()
	svc, err := NewService(t.TempDir(), nil, nil)
	require.NoError(t, err)
	w, err := svc.For(directoryRoot)
	require.NoError(t, err)
	return svc, w
}

func TestListCreatesMissingRoot(t *testing.T) {
	_, w := newWorkspace(t, "bots/new")

	entries, err := w.List("")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	fi, err := os.Stat(w.Dir())
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestListMissingSubdirIsNotFound(t *testing.T) {
	_, w := newWorkspace(t, "a")
	_, err := w.List("nope")
	require.Error(t, err)
	assert.True(t, cerrdefs.IsNotFound(err))
}

func TestListFiltersAndReportsRelativePaths(t *testing.T) {
	_, w := newWorkspace(t, "a")
	require.NoError(t, w.Write("src/main.py", "print(1)"))
	require.NoError(t, w.Write("README.md", "# bot"))
	for _, hidden := range []string{".git/HEAD", "node_modules/x/index.js", ".env"} {
		require.NoError(t, w.Write(hidden, "x"))
	}

	entries, err := w.List("")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"src", "README.md"}, names)

	sub, err := w.List("src")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "main.py", sub[0].Name)
	assert.False(t, sub[0].IsDirectory)
	assert.Equal(t, "src/main.py", sub[0].RelativePath)
	assert.Equal(t, int64(len("print(1)")), sub[0].Size)

	for _, e := range entries {
		if e.Name == "src" {
			assert.True(t, e.IsDirectory)
			again, err := w.List(e.RelativePath)
			require.NoError(t, err)
			assert.Len(t, again, 1)
		}
	}
}

func TestListFileIsInvalid(t *testing.T) {
	_, w := newWorkspace(t, "a")
	require.NoError(t, w.Write("f.txt", "x"))
	_, err := w.List("f.txt")
	assert.True(t, cerrdefs.IsInvalidArgument(err))
}

func TestWriteCreatesParentsAndRoundTrips(t *testing.T) {
	_, w := newWorkspace(t, "a")
	require.NoError(t, w.Write("sub/new/file.txt", "hi"))
	got, err := w.Read("sub/new/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	for _, c := range []string{"", "line1\nline2\n", "unicode ✓ 日本語", strings.Repeat("z", 1<<16)} {
		require.NoError(t, w.Write("round.txt", c))
		got, err := w.Read("round.txt")
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestReadErrors(t *testing.T) {
	_, w := newWorkspace(t, "a")
	_, err := w.Read("missing.txt")
	assert.True(t, cerrdefs.IsNotFound(err))

	require.NoError(t, w.CreateFolder("", "dir"))
	_, err = w.Read("dir")
	assert.True(t, cerrdefs.IsInvalidArgument(err))
}

func TestEscapesAreRejectedBeforeTouchingDisk(t *testing.T) {
	svc, w := newWorkspace(t, "bot-1")
	outside := filepath.Join(svc.Root(), "bot-2")

	calls := []func() error{
		func() error { _, err := w.List("../bot-2"); return err },
		func() error { _, err := w.Read("../../etc/passwd"); return err },
		func() error { return w.Write("../bot-2/x.txt", "pwn") },
		func() error { return w.CreateFile("..", "bot-2") },
		func() error { return w.CreateFolder("../bot-2", "d") },
		func() error { return w.Delete("../bot-2") },
		func() error { _, err := w.Upload("..", nil); return err },
	}
	for i, call := range calls {
		err := call()
		require.Error(t, err, "call %d", i)
		assert.True(t, sandbox.IsOutOfBounds(err), "call %d: %v", i, err)
	}
	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err))
}

func TestSymlinkEscapeIsRejected(t *testing.T) {
	svc, w := newWorkspace(t, "a")
	_, err := w.List("")
	require.NoError(t, err)
	secret := filepath.Join(svc.Root(), "secret")
	require.NoError(t, os.MkdirAll(secret, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secret, "key"), []byte("k"), 0o600))
	if err := os.Symlink(secret, filepath.Join(w.Dir(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err = w.Read("link/key")
	assert.True(t, sandbox.IsOutOfBounds(err))

	require.NoError(t, w.Delete("link"))
	_, err = os.Stat(filepath.Join(secret, "key"))
	assert.NoError(t, err)
}

func TestDirectoryRootMustStayInWorkspace(t *testing.T) {
	svc, err := NewService(t.TempDir(), nil, nil)
	require.NoError(t, err)
	_, err = svc.For("../elsewhere")
	assert.True(t, sandbox.IsOutOfBounds(err))

	w, err := svc.For("")
	require.NoError(t, err)
	assert.Equal(t, svc.Root(), w.Dir())
}

func TestCreateEntries(t *testing.T) {
	_, w := newWorkspace(t, "a")

	assert.True(t, cerrdefs.IsInvalidArgument(w.CreateFile("", "")))
	assert.True(t, cerrdefs.IsInvalidArgument(w.CreateFolder("", "")))

	require.NoError(t, w.CreateFolder("", "pkg/inner"))
	require.NoError(t, w.CreateFolder("", "pkg/inner"))
	require.NoError(t, w.CreateFile("pkg", "mod.py"))

	require.NoError(t, w.Write("pkg/mod.py", "content"))
	require.NoError(t, w.CreateFile("pkg", "mod.py"))
	got, err := w.Read("pkg/mod.py")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUploadIsPerEntry(t *testing.T) {
	_, w := newWorkspace(t, "a")
	entries := []UploadEntry{
		{RelativePath: "site/index.html", Content: strings.NewReader("<h1>hi</h1>")},
		{RelativePath: "site/css/app.css", Content: bytes.NewReader([]byte("body{}"))},
		{RelativePath: "../../escape.txt", Content: strings.NewReader("nope")},
		{RelativePath: "", Content: strings.NewReader("nameless")},
		{RelativePath: "site/img/logo.png", Content: bytes.NewReader([]byte{0x89, 'P', 'N', 'G'})},
	}

	res, err := w.Upload("assets", entries)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Written)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "../../escape.txt", res.Failures[0].Path)

	got, err := w.Read("assets/site/css/app.css")
	require.NoError(t, err)
	assert.Equal(t, "body{}", got)
	b, err := os.ReadFile(filepath.Join(w.Dir(), "assets", "site", "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, b)
}

func TestDelete(t *testing.T) {
	_, w := newWorkspace(t, "a")
	require.NoError(t, w.Write("tree/a/b.txt", "x"))
	require.NoError(t, w.Write("single.txt", "x"))

	require.NoError(t, w.Delete("single.txt"))
	require.NoError(t, w.Delete("tree"))
	_, err := os.Stat(filepath.Join(w.Dir(), "tree"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, cerrdefs.IsNotFound(w.Delete("single.txt")))
	assert.True(t, cerrdefs.IsInvalidArgument(w.Delete("")))
	assert.True(t, cerrdefs.IsInvalidArgument(w.Delete("tree/..")))
}
