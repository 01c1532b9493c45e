// Package sandbox confines caller-supplied paths to a root directory.
//
// A Root is the only way the rest of agentdeck turns a user path into a
// filesystem path, so every entry point goes through the same check.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
)

// ErrOutOfBounds is returned when a path resolves outside its root.
var ErrOutOfBounds = fmt.Errorf("path escapes sandbox root: %w", cerrdefs.ErrPermissionDenied)

// IsOutOfBounds reports whether err was caused by a sandbox rejection.
func IsOutOfBounds(err error) bool {
	return errors.Is(err, ErrOutOfBounds)
}

// Root is a canonical directory plus the resolver bound to it.
type Root struct {
	dir string
}

// New canonicalizes dir. The directory does not need to exist yet.
func New(dir string) (Root, error) {
	if strings.TrimSpace(dir) == "" {
		return Root{}, fmt.Errorf("sandbox root is empty: %w", cerrdefs.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, err
	}
	canon, err := canonicalize(abs)
	if err != nil {
		return Root{}, err
	}
	return Root{dir: canon}, nil
}

// Dir returns the canonical root directory.
func (r Root) Dir() string { return r.dir }

// Resolve joins userPath onto the root and returns the canonical absolute
// path. Paths that escape the root lexically or through symlinks fail with
// ErrOutOfBounds; they are never clamped.
func (r Root) Resolve(userPath string) (string, error) {
	if r.dir == "" {
		return "", fmt.Errorf("sandbox root not initialized: %w", cerrdefs.ErrFailedPrecondition)
	}
	if strings.ContainsRune(userPath, 0) {
		return "", fmt.Errorf("%w: %q", ErrOutOfBounds, userPath)
	}
	p := filepath.FromSlash(userPath)
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("%w: %q", ErrOutOfBounds, userPath)
	}
	joined := filepath.Join(r.dir, p)
	if !within(r.dir, joined) {
		return "", fmt.Errorf("%w: %q", ErrOutOfBounds, userPath)
	}
	canon, err := canonicalize(joined)
	if err != nil {
		if errors.Is(err, errDanglingLink) {
			return "", fmt.Errorf("%w: %q", ErrOutOfBounds, userPath)
		}
		return "", err
	}
	if !within(r.dir, canon) {
		return "", fmt.Errorf("%w: %q", ErrOutOfBounds, userPath)
	}
	return canon, nil
}

// Rel returns abs relative to the root using forward slashes. The root
// itself is "".
func (r Root) Rel(abs string) (string, error) {
	if !within(r.dir, abs) {
		return "", fmt.Errorf("%w: %q", ErrOutOfBounds, abs)
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// Resolve is shorthand for New(rootDir) followed by Resolve(userPath).
func Resolve(rootDir, userPath string) (string, error) {
	root, err := New(rootDir)
	if err != nil {
		return "", err
	}
	return root.Resolve(userPath)
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

var errDanglingLink = errors.New("dangling symlink")

// canonicalize resolves symlinks on the longest existing prefix of an
// absolute, cleaned path and re-appends the missing tail.
func canonicalize(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		// A link whose target is missing would be followed on create.
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			return "", errDanglingLink
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
