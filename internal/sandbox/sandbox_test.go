package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) Root {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "bot-1"))
	require.NoError(t, err)
	return r
}

func TestResolveInside(t *testing.T) {
	r := newRoot(t)

	cases := map[string]string{
		"":                 r.Dir(),
		".":                r.Dir(),
		"main.py":          filepath.Join(r.Dir(), "main.py"),
		"sub/new/file.txt": filepath.Join(r.Dir(), "sub", "new", "file.txt"),
		"a/../b":           filepath.Join(r.Dir(), "b"),
		"./x/./y":          filepath.Join(r.Dir(), "x", "y"),
	}
	for in, want := range cases {
		got, err := r.Resolve(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	r := newRoot(t)
	for _, p := range []string{"..", "../", "../../etc/passwd", "a/../../b", "sub/../../bot-10/x", "/etc/passwd"} {
		_, err := r.Resolve(p)
		require.Error(t, err, p)
		assert.True(t, IsOutOfBounds(err), p)
		assert.True(t, cerrdefs.IsPermissionDenied(err), p)
	}
}

func TestResolveDoesNotTouchFilesystemOnRejection(t *testing.T) {
	base := t.TempDir()
	r, err := New(filepath.Join(base, "bot-1"))
	require.NoError(t, err)

	_, err = r.Resolve("../escape/file.txt")
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, statErr := os.Stat(filepath.Join(base, "escape"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(r.Dir())
	assert.True(t, os.IsNotExist(statErr), "root must not be created by Resolve")
}

func TestResolveSiblingPrefixIsOutside(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "bot-10"), 0o755))
	r, err := New(filepath.Join(base, "bot-1"))
	require.NoError(t, err)
	_, err = r.Resolve("../bot-10/secret")
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))

	rootDir := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(rootDir, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(rootDir, "link")))
	require.NoError(t, os.Symlink(filepath.Join(base, "missing"), filepath.Join(rootDir, "dangling")))
	require.NoError(t, os.MkdirAll(filepath.Join(rootDir, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(rootDir, "real"), filepath.Join(rootDir, "inner")))

	r, err := New(rootDir)
	require.NoError(t, err)

	for _, p := range []string{"link", "link/secret", "link/new/file", "dangling", "dangling/child"} {
		_, err := r.Resolve(p)
		assert.ErrorIs(t, err, ErrOutOfBounds, p)
	}

	got, err := r.Resolve("inner/file.txt")
	require.NoError(t, err)
	realDir, err := filepath.EvalSymlinks(filepath.Join(rootDir, "real"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realDir, "file.txt"), got)
}

func TestRootThroughSymlinkIsCanonical(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	target := filepath.Join(base, "real")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(base, "alias")))

	r, err := New(filepath.Join(base, "alias"))
	require.NoError(t, err)
	got, err := r.Resolve("f.txt")
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(want, "f.txt"), got)
}

func TestRel(t *testing.T) {
	r := newRoot(t)
	p, err := r.Resolve("a/b/c.txt")
	require.NoError(t, err)
	rel, err := r.Rel(p)
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", rel)

	rel, err = r.Rel(r.Dir())
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = r.Rel(filepath.Dir(r.Dir()))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestPackageResolve(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(dir, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = Resolve("", "x")
	assert.True(t, cerrdefs.IsInvalidArgument(err))
}
