// Package registry maps agent ids to process handles and log files. It keeps
// no table of its own: Find always asks the process manager.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/procmgr"
)

// HandlePrefix is prepended to the agent id to form the handle.
const HandlePrefix = "agent-"

// Descriptor is the ephemeral view of a supervised process.
type Descriptor struct {
	AgentID string `json:"agent_id"`
	Handle  string `json:"handle"`
	LogFile string `json:"log_file"`
	PID     int    `json:"pid,omitempty"`
	Status  string `json:"status"`
	// Uptime as reported by the manager, truncated to seconds.
	Uptime string `json:"uptime,omitempty"`
}

// Running reports whether the manager lists the process as online.
func (d Descriptor) Running() bool { return d.Status == procmgr.StatusOnline }

// ValidateID rejects ids that are unsafe in handles and file names.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("agent id is empty: %w", cerrdefs.ErrInvalidArgument)
	}
	if strings.Contains(id, "..") || len(id) > 128 {
		return fmt.Errorf("invalid agent id %q: %w", id, cerrdefs.ErrInvalidArgument)
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return fmt.Errorf("invalid agent id %q: %w", id, cerrdefs.ErrInvalidArgument)
	}
	return nil
}

// HandleFor is deterministic and stable for an agent id.
func HandleFor(agentID string) string { return HandlePrefix + agentID }

// AgentIDFor reverses HandleFor. ok is false for foreign handles.
func AgentIDFor(handle string) (string, bool) {
	id, ok := strings.CutPrefix(handle, HandlePrefix)
	if !ok || ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

type Registry struct {
	mgr    procmgr.Manager
	logDir string
}

func New(mgr procmgr.Manager, logDir string) *Registry {
	return &Registry{mgr: mgr, logDir: logDir}
}

// LogFile is the dedicated output file for an agent.
func (r *Registry) LogFile(agentID string) string {
	return filepath.Join(r.logDir, HandleFor(agentID)+".log")
}

// Describe is the descriptor of an agent the manager does not know.
func (r *Registry) Describe(agentID string) Descriptor {
	return Descriptor{AgentID: agentID, Handle: HandleFor(agentID), LogFile: r.LogFile(agentID), Status: procmgr.StatusStopped}
}

// Find looks handle up in the manager's table. ok is false when absent.
func (r *Registry) Find(ctx context.Context, handle string) (Descriptor, bool, error) {
	e, ok, err := procmgr.Lookup(ctx, r.mgr, handle)
	if err != nil || !ok {
		return Descriptor{}, false, err
	}
	return r.fromEntry(e), true, nil
}

func (r *Registry) fromEntry(e procmgr.Entry) Descriptor {
	d := Descriptor{Handle: e.Handle, PID: e.PID, Status: e.Status}
	if e.Uptime > 0 {
		d.Uptime = e.Uptime.Truncate(time.Second).String()
	}
	if id, ok := AgentIDFor(e.Handle); ok {
		d.AgentID = id
		d.LogFile = r.LogFile(id)
	}
	return d
}

// FindAgent is Find keyed by agent id.
func (r *Registry) FindAgent(ctx context.Context, agentID string) (Descriptor, bool, error) {
	return r.Find(ctx, HandleFor(agentID))
}

// List returns descriptors for every handle owned by agentdeck.
func (r *Registry) List(ctx context.Context) ([]Descriptor, error) {
	entries, err := r.mgr.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if _, ok := AgentIDFor(e.Handle); !ok {
			continue
		}
		out = append(out, r.fromEntry(e))
	}
	return out, nil
}
