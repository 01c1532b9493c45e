// Package procmgr is the process-management layer agents run under. Two
// backends exist: Native keeps an in-process child table, PM2 drives the
// pm2 command line tool. Both are addressed by handle.
package procmgr

import (
	"context"
	"fmt"
	"time"

	cerrdefs "github.com/containerd/errdefs"
)

// ErrNoEntry is returned when no entry exists under a handle.
var ErrNoEntry = fmt.Errorf("no process entry: %w", cerrdefs.ErrNotFound)

const (
	StatusOnline  = "online"
	StatusStopped = "stopped"
	StatusErrored = "errored"
)

// StartRequest launches Interpreter with Args under Handle. Auto-restart is
// always disabled.
type StartRequest struct {
	Handle      string
	Interpreter string
	Args        []string
	WorkDir     string
	Env         []string
	LogFile     string
}

// Entry is one row of the manager's process table. PID is 0 when the
// manager does not report one.
type Entry struct {
	Handle   string        `json:"handle"`
	PID      int           `json:"pid"`
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
}

type Manager interface {
	Start(ctx context.Context, req StartRequest) error
	// Stop halts the process but keeps the entry.
	Stop(ctx context.Context, handle string) error
	// Delete removes the entry, killing the process if needed.
	Delete(ctx context.Context, handle string) error
	List(ctx context.Context) ([]Entry, error)
}

// Lookup scans List for handle.
func Lookup(ctx context.Context, m Manager, handle string) (Entry, bool, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Handle == handle {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
