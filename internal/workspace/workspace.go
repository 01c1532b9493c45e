// Package workspace implements file operations on an agent's source tree.
// Every caller path goes through a sandbox.Root before the filesystem is
// touched.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/sandbox"
)

// DefaultIgnore lists housekeeping entries hidden from listings.
var DefaultIgnore = []string{".next", "node_modules", ".git", ".turbo", ".env", "__pycache__"}

// Entry is one child in a directory listing. RelativePath is relative to
// the agent root with forward slashes and can be passed back to List.
type Entry struct {
	Name         string    `json:"name"`
	IsDirectory  bool      `json:"isDirectory"`
	RelativePath string    `json:"relativePath"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"lastModified"`
}

// UploadEntry is one uploaded file. RelativePath may contain several
// segments to rebuild a directory tree.
type UploadEntry struct {
	RelativePath string
	Content      io.Reader
}

type UploadFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// UploadResult reports how many entries were written. A failed entry does
// not undo the others.
type UploadResult struct {
	Requested int             `json:"requested"`
	Written   int             `json:"written"`
	Failures  []UploadFailure `json:"failures,omitempty"`
}

// Service hands out per-agent workspaces below one workspace root.
type Service struct {
	root   sandbox.Root
	ignore []string
	log    *slog.Logger
}

func NewService(root string, ignore []string, log *slog.Logger) (*Service, error) {
	r, err := sandbox.New(root)
	if err != nil {
		return nil, err
	}
	if ignore == nil {
		ignore = DefaultIgnore
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{root: r, ignore: slices.Clone(ignore), log: log.With("component", "workspace")}, nil
}

// Root is the canonical workspace root.
func (s *Service) Root() string { return s.root.Dir() }

// For returns the workspace of an agent whose directory root is
// directoryRoot, relative to the workspace root. Empty means the workspace
// root itself.
func (s *Service) For(directoryRoot string) (*Workspace, error) {
	dir, err := s.root.Resolve(directoryRoot)
	if err != nil {
		if sandbox.IsOutOfBounds(err) {
			metrics.IncSandboxRejection()
			s.log.Warn("agent directory root rejected", "path", directoryRoot)
		}
		return nil, err
	}
	r, err := sandbox.New(dir)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: r, ignore: s.ignore, log: s.log}, nil
}

// Workspace is one agent's sandboxed tree.
type Workspace struct {
	root   sandbox.Root
	ignore []string
	log    *slog.Logger
}

// Dir is the canonical agent root.
func (w *Workspace) Dir() string { return w.root.Dir() }

func (w *Workspace) resolve(p string) (string, error) {
	abs, err := w.root.Resolve(p)
	if err != nil && sandbox.IsOutOfBounds(err) {
		metrics.IncSandboxRejection()
		w.log.Warn("path outside agent root rejected", "root", w.root.Dir(), "path", p)
	}
	return abs, err
}

func notFound(p string) error {
	return fmt.Errorf("%q: %w", p, cerrdefs.ErrNotFound)
}

// List returns the immediate children of p. A missing agent root is
// created on first use; any other missing directory is NotFound.
func (w *Workspace) List(p string) ([]Entry, error) {
	abs, err := w.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if abs != w.root.Dir() {
			return nil, notFound(p)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create agent root: %w", err)
		}
		return []Entry{}, nil
	case err != nil:
		return nil, err
	case !fi.IsDir():
		return nil, fmt.Errorf("%q is not a directory: %w", p, cerrdefs.ErrInvalidArgument)
	}

	des, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if slices.Contains(w.ignore, de.Name()) {
			continue
		}
		full := filepath.Join(abs, de.Name())
		info, err := os.Stat(full)
		if err != nil {
			// broken link
			info, err = de.Info()
			if err != nil {
				continue
			}
		}
		rel, err := w.root.Rel(full)
		if err != nil {
			continue
		}
		e := Entry{Name: de.Name(), IsDirectory: info.IsDir(), RelativePath: rel, ModTime: info.ModTime().UTC()}
		if !e.IsDirectory {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	return out, nil
}

// Read returns the whole file as text.
func (w *Workspace) Read(p string) (string, error) {
	abs, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound(p)
	}
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%q is a directory: %w", p, cerrdefs.ErrInvalidArgument)
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Write creates or overwrites p, creating missing parents.
func (w *Workspace) Write(p, content string) error {
	abs, err := w.resolve(p)
	if err != nil {
		return err
	}
	if abs == w.root.Dir() {
		return fmt.Errorf("file path required: %w", cerrdefs.ErrInvalidArgument)
	}
	return writeFile(abs, func(f *os.File) error {
		_, err := io.WriteString(f, content)
		return err
	})
}

func writeFile(abs string, fill func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// CreateFile creates an empty file name under dir, truncating an existing
// one.
func (w *Workspace) CreateFile(dir, name string) error {
	if name == "" {
		return fmt.Errorf("file name required: %w", cerrdefs.ErrInvalidArgument)
	}
	abs, err := w.resolve(path.Join(dir, name))
	if err != nil {
		return err
	}
	if abs == w.root.Dir() {
		return fmt.Errorf("invalid file name %q: %w", name, cerrdefs.ErrInvalidArgument)
	}
	return writeFile(abs, func(*os.File) error { return nil })
}

// CreateFolder creates dir/name and any missing parents.
func (w *Workspace) CreateFolder(dir, name string) error {
	if name == "" {
		return fmt.Errorf("folder name required: %w", cerrdefs.ErrInvalidArgument)
	}
	abs, err := w.resolve(path.Join(dir, name))
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

// Upload writes every entry under dir independently. Only a bad dir fails
// the whole call; per-entry problems are reported in the result.
func (w *Workspace) Upload(dir string, entries []UploadEntry) (UploadResult, error) {
	if _, err := w.resolve(dir); err != nil {
		return UploadResult{}, err
	}
	res := UploadResult{Requested: len(entries)}
	for _, e := range entries {
		if err := w.uploadOne(dir, e); err != nil {
			res.Failures = append(res.Failures, UploadFailure{Path: e.RelativePath, Error: err.Error()})
			continue
		}
		res.Written++
	}
	metrics.AddUploadFiles(res.Written, len(res.Failures))
	if len(res.Failures) > 0 {
		w.log.Warn("upload partially failed", "root", w.root.Dir(), "written", res.Written, "failed", len(res.Failures))
	}
	return res, nil
}

func (w *Workspace) uploadOne(dir string, e UploadEntry) error {
	if e.RelativePath == "" {
		return fmt.Errorf("upload path required: %w", cerrdefs.ErrInvalidArgument)
	}
	if e.Content == nil {
		return fmt.Errorf("upload %q has no content: %w", e.RelativePath, cerrdefs.ErrInvalidArgument)
	}
	abs, err := w.resolve(path.Join(dir, filepath.ToSlash(e.RelativePath)))
	if err != nil {
		return err
	}
	if abs == w.root.Dir() {
		return fmt.Errorf("upload path required: %w", cerrdefs.ErrInvalidArgument)
	}
	return writeFile(abs, func(f *os.File) error {
		_, err := io.Copy(f, e.Content)
		return err
	})
}

// Delete removes p, recursively for directories. A symlink is removed
// itself, never its target. The agent root cannot be deleted.
func (w *Workspace) Delete(p string) error {
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." {
		return fmt.Errorf("refusing to delete the agent root: %w", cerrdefs.ErrInvalidArgument)
	}
	parent, err := w.resolve(path.Dir(clean))
	if err != nil {
		return err
	}
	target := filepath.Join(parent, path.Base(clean))
	rel, err := w.root.Rel(target)
	if err != nil {
		return err
	}
	if rel == "" {
		return fmt.Errorf("refusing to delete the agent root: %w", cerrdefs.ErrInvalidArgument)
	}
	fi, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(p)
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.RemoveAll(target)
	}
	return os.Remove(target)
}
