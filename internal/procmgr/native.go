package procmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/logger"
	"github.com/loykin/agentdeck/internal/process"
)

// Native owns agent processes directly as children of this process.
type Native struct {
	mu       sync.Mutex
	procs    map[string]*process.Process
	rotation logger.Rotation
	grace    time.Duration
}

// NewNative returns a manager whose Stop waits grace for SIGTERM before
// SIGKILL.
func NewNative(rotation logger.Rotation, grace time.Duration) *Native {
	if grace <= 0 {
		grace = 3 * time.Second
	}
	return &Native{procs: make(map[string]*process.Process), rotation: rotation, grace: grace}
}

func (n *Native) Start(_ context.Context, req StartRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.procs[req.Handle]; ok {
		return fmt.Errorf("handle %q: %w", req.Handle, cerrdefs.ErrAlreadyExists)
	}
	p := process.New(process.Spec{
		Name:        req.Handle,
		Interpreter: req.Interpreter,
		Args:        req.Args,
		WorkDir:     req.WorkDir,
		Env:         req.Env,
		LogFile:     req.LogFile,
		Rotation:    n.rotation,
	})
	if err := p.Start(); err != nil {
		return err
	}
	n.procs[req.Handle] = p
	return nil
}

func (n *Native) get(handle string) (*process.Process, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.procs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, handle)
	}
	return p, nil
}

func (n *Native) Stop(_ context.Context, handle string) error {
	p, err := n.get(handle)
	if err != nil {
		return err
	}
	return p.Stop(n.grace)
}

func (n *Native) Delete(_ context.Context, handle string) error {
	p, err := n.get(handle)
	if err != nil {
		return err
	}
	killErr := p.Kill()
	n.mu.Lock()
	if n.procs[handle] == p {
		delete(n.procs, handle)
	}
	n.mu.Unlock()
	return killErr
}

func (n *Native) List(context.Context) ([]Entry, error) {
	now := time.Now()
	n.mu.Lock()
	out := make([]Entry, 0, len(n.procs))
	for h, p := range n.procs {
		st := p.Snapshot()
		e := Entry{Handle: h, PID: st.PID, Status: StatusStopped, ExitCode: st.ExitCode, Uptime: st.Uptime(now)}
		switch {
		case p.Alive():
			e.Status = StatusOnline
		case st.ExitErr != "":
			e.Status = StatusErrored
		}
		out = append(out, e)
	}
	n.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// Shutdown kills every child. Used when the console exits.
func (n *Native) Shutdown() {
	n.mu.Lock()
	procs := make([]*process.Process, 0, len(n.procs))
	for _, p := range n.procs {
		procs = append(procs, p)
	}
	n.procs = make(map[string]*process.Process)
	n.mu.Unlock()
	for _, p := range procs {
		_ = p.Kill()
	}
}
