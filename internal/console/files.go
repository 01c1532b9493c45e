package console

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/workspace"
)

// EntryKind selects what CreateEntry makes.
type EntryKind string

const (
	KindFile   EntryKind = "file"
	KindFolder EntryKind = "folder"
)

func (c *Console) workspace(ctx context.Context, id string) (*workspace.Workspace, error) {
	rec, err := c.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.ws.For(rec.DirectoryRoot)
}

func (c *Console) ListFiles(ctx context.Context, id, path string) ([]workspace.Entry, error) {
	w, err := c.workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.List(path)
}

func (c *Console) ReadFile(ctx context.Context, id, path string) (string, error) {
	w, err := c.workspace(ctx, id)
	if err != nil {
		return "", err
	}
	return w.Read(path)
}

func (c *Console) WriteFile(ctx context.Context, id, path, content string) error {
	if path == "" {
		return fmt.Errorf("file path required: %w", cerrdefs.ErrInvalidArgument)
	}
	w, err := c.workspace(ctx, id)
	if err != nil {
		return err
	}
	return w.Write(path, content)
}

func (c *Console) UploadFiles(ctx context.Context, id, dir string, entries []workspace.UploadEntry) (workspace.UploadResult, error) {
	w, err := c.workspace(ctx, id)
	if err != nil {
		return workspace.UploadResult{}, err
	}
	return w.Upload(dir, entries)
}

func (c *Console) CreateEntry(ctx context.Context, id, dir string, kind EntryKind, name string) error {
	w, err := c.workspace(ctx, id)
	if err != nil {
		return err
	}
	switch kind {
	case KindFile:
		return w.CreateFile(dir, name)
	case KindFolder:
		return w.CreateFolder(dir, name)
	}
	return fmt.Errorf("invalid entry kind %q: %w", kind, cerrdefs.ErrInvalidArgument)
}

func (c *Console) DeleteEntry(ctx context.Context, id, path string) error {
	w, err := c.workspace(ctx, id)
	if err != nil {
		return err
	}
	return w.Delete(path)
}
