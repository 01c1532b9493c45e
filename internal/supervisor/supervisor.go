// Package supervisor starts, stops and restarts agent processes through a
// procmgr.Manager and records the outcome in the agent store.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/env"
	"github.com/loykin/agentdeck/internal/history"
	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/process"
	"github.com/loykin/agentdeck/internal/procmgr"
	"github.com/loykin/agentdeck/internal/registry"
	"github.com/loykin/agentdeck/internal/sandbox"
	"github.com/loykin/agentdeck/internal/store"
)

// State is the supervisor's view of one agent.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// MaxSettleDelay bounds the wait between spawn and PID discovery.
const MaxSettleDelay = 999 * time.Millisecond

// DefaultLockTimeout covers a start that runs three manager commands at
// their default timeout.
const DefaultLockTimeout = 60 * time.Second

// Environment variable names injected into every agent.
const (
	EnvCredential  = "DISCORD_TOKEN"
	EnvAgentID     = "BOT_ID"
	EnvCallbackURL = "API_URL"
)

// Sweeper kills stray processes by command line pattern.
type Sweeper interface {
	Sweep(ctx context.Context, req process.SweepRequest) ([]int, error)
}

// Config holds supervisor settings.
type Config struct {
	// WorkspaceRoot confines every agent directory root.
	WorkspaceRoot  string
	CallbackURL    string
	DefaultCommand string
	SettleDelay    time.Duration
	// Sweep enables the pattern sweep during stop.
	Sweep              bool
	SweepDefaultScript string
	// LockDir holds per-agent lock files. Empty disables locking.
	LockDir     string
	LockTimeout time.Duration
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	Store    store.Store
	Manager  procmgr.Manager
	Registry *registry.Registry
	Env      *env.Env
	Sweeper  Sweeper
	History  *history.Fanout
	Logger   *slog.Logger
}

// StartResult describes a successful start. PID is 0 when discovery missed
// the process within the settle delay.
type StartResult struct {
	AgentID   string       `json:"agent_id"`
	Handle    string       `json:"handle"`
	PID       int          `json:"pid,omitempty"`
	LogFile   string       `json:"log_file"`
	StartedAt time.Time    `json:"started_at"`
	Record    agent.Record `json:"-"`
}

// StopResult carries the persisted terminal record.
type StopResult struct {
	AgentID string       `json:"agent_id"`
	Handle  string       `json:"handle"`
	Record  agent.Record `json:"-"`
}

// SpawnError reports a failed launch. No state was persisted.
type SpawnError struct {
	AgentID string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn agent %s: %v", e.AgentID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is or wraps a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

type Supervisor struct {
	cfg     Config
	root    sandbox.Root
	st      store.Store
	mgr     procmgr.Manager
	reg     *registry.Registry
	env     *env.Env
	sweeper Sweeper
	hist    *history.Fanout
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]State
}

func New(cfg Config, d Deps) (*Supervisor, error) {
	if d.Store == nil || d.Manager == nil || d.Registry == nil {
		return nil, fmt.Errorf("supervisor needs a store, a manager and a registry: %w", cerrdefs.ErrInvalidArgument)
	}
	root, err := sandbox.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.SettleDelay > MaxSettleDelay {
		cfg.SettleDelay = MaxSettleDelay
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if d.Env == nil {
		d.Env = env.New(false)
	}
	if d.Sweeper == nil {
		d.Sweeper = process.PatternSweeper{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		root:    root,
		st:      d.Store,
		mgr:     d.Manager,
		reg:     d.Registry,
		env:     d.Env,
		sweeper: d.Sweeper,
		hist:    d.History,
		log:     d.Logger.With("component", "supervisor"),
		now:     func() time.Time { return time.Now().UTC() },
		states:  make(map[string]State),
	}, nil
}

// State returns the last known state of agentID.
func (s *Supervisor) State(agentID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[agentID]; ok {
		return st
	}
	return StateStopped
}

func (s *Supervisor) setState(agentID string, st State) {
	s.mu.Lock()
	s.states[agentID] = st
	s.mu.Unlock()
}

// Forget drops the in-memory state of a deleted agent.
func (s *Supervisor) Forget(agentID string) {
	s.mu.Lock()
	delete(s.states, agentID)
	s.mu.Unlock()
}

// WorkDir resolves an agent's directory root inside the workspace root.
func (s *Supervisor) WorkDir(rec agent.Record) (string, error) {
	return s.root.Resolve(rec.DirectoryRoot)
}

// Start launches rec's process. See begin for the allowed transitions.
func (s *Supervisor) Start(ctx context.Context, rec agent.Record) (StartResult, error) {
	if err := registry.ValidateID(rec.ID); err != nil {
		return StartResult{}, err
	}
	unlock, err := s.lock(ctx, rec.ID)
	if err != nil {
		return StartResult{}, err
	}
	defer unlock()
	return s.start(ctx, rec)
}

// Stop converges rec to OFFLINE. Only a failure to persist that state is
// returned. When the agent lock stays busy past the lock timeout the
// teardown runs without it.
func (s *Supervisor) Stop(ctx context.Context, rec agent.Record) (StopResult, error) {
	if err := registry.ValidateID(rec.ID); err != nil {
		return StopResult{}, err
	}
	unlock, err := s.lock(ctx, rec.ID)
	switch {
	case err == nil:
	case cerrdefs.IsConflict(err):
		s.log.Warn("agent lock busy, stopping without it", "agent", rec.ID)
		unlock = func() {}
	default:
		return StopResult{}, err
	}
	defer unlock()
	return s.stop(ctx, rec)
}

// Restart stops rec and starts it again under one lock.
func (s *Supervisor) Restart(ctx context.Context, rec agent.Record) (StartResult, error) {
	if err := registry.ValidateID(rec.ID); err != nil {
		return StartResult{}, err
	}
	unlock, err := s.lock(ctx, rec.ID)
	if err != nil {
		return StartResult{}, err
	}
	defer unlock()
	stopped, err := s.stop(ctx, rec)
	if err != nil {
		return StartResult{}, err
	}
	return s.start(ctx, stopped.Record)
}

// begin moves agentID into STARTING. RUNNING is only left for STARTING when
// the manager no longer has a live process under the handle.
func (s *Supervisor) begin(ctx context.Context, agentID string) (State, error) {
	prev := s.State(agentID)
	switch prev {
	case StateStarting, StateStopping:
		return prev, fmt.Errorf("agent %s is %s: %w", agentID, prev, cerrdefs.ErrConflict)
	case StateRunning:
		d, ok, err := s.reg.FindAgent(ctx, agentID)
		if err != nil {
			return prev, fmt.Errorf("reconcile agent %s: %w", agentID, err)
		}
		if ok && d.Running() {
			return prev, fmt.Errorf("agent %s is running, stop it first: %w", agentID, cerrdefs.ErrFailedPrecondition)
		}
		s.log.Info("agent no longer running, allowing start", "agent", agentID)
		prev = StateStopped
	}
	s.setState(agentID, StateStarting)
	return prev, nil
}

func (s *Supervisor) start(ctx context.Context, rec agent.Record) (StartResult, error) {
	prev, err := s.begin(ctx, rec.ID)
	if err != nil {
		return StartResult{}, err
	}
	ok := false
	defer func() {
		if !ok {
			s.setState(rec.ID, prev)
		}
	}()

	workDir, err := s.WorkDir(rec)
	if err != nil {
		if sandbox.IsOutOfBounds(err) {
			s.log.Warn("agent directory root escapes workspace", "agent", rec.ID, "path", rec.DirectoryRoot)
		}
		return StartResult{}, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return StartResult{}, fmt.Errorf("create work dir: %w", err)
	}

	logFile := s.reg.LogFile(rec.ID)
	if err := truncateLog(logFile); err != nil {
		return StartResult{}, err
	}

	handle := registry.HandleFor(rec.ID)
	if err := s.mgr.Delete(ctx, handle); err != nil && !cerrdefs.IsNotFound(err) {
		s.log.Debug("stale handle removal failed", "agent", rec.ID, "handle", handle, "err", err)
	}

	interp, args := process.SplitCommand(rec.StartupCommand, s.cfg.DefaultCommand)
	if interp == "" {
		return StartResult{}, &SpawnError{AgentID: rec.ID, Err: errors.New("empty startup command")}
	}
	req := procmgr.StartRequest{
		Handle:      handle,
		Interpreter: interp,
		Args:        args,
		WorkDir:     workDir,
		Env:         s.env.Merge(s.agentEnv(rec)),
		LogFile:     logFile,
	}
	if err := s.mgr.Start(ctx, req); err != nil {
		metrics.IncSpawnFailure(rec.ID)
		s.hist.Emit(ctx, history.Event{Type: history.EventSpawnFailed, AgentID: rec.ID, Handle: handle, Status: string(rec.Status), Error: err.Error()})
		s.log.Error("agent spawn failed", "agent", rec.ID, "interpreter", interp, "err", err)
		return StartResult{}, &SpawnError{AgentID: rec.ID, Err: err}
	}

	// The process exists from here on: finish recording it even if the
	// caller goes away.
	s.settle(ctx)
	ctx = context.WithoutCancel(ctx)

	pid := 0
	if d, found, err := s.reg.Find(ctx, handle); err != nil {
		s.log.Warn("pid discovery failed", "agent", rec.ID, "err", err)
	} else if found {
		pid = d.PID
		if !d.Running() {
			s.log.Warn("agent exited during settle delay", "agent", rec.ID, "status", d.Status)
		}
	}

	if st := s.State(rec.ID); st != StateStarting {
		// a forced stop ran while this start held the lock
		ok = true
		if err := s.mgr.Delete(ctx, handle); err != nil && !cerrdefs.IsNotFound(err) {
			s.log.Debug("abandoned start cleanup failed", "agent", rec.ID, "err", err)
		}
		return StartResult{}, fmt.Errorf("agent %s was stopped while starting: %w", rec.ID, cerrdefs.ErrConflict)
	}

	startedAt := s.now()
	updated, err := store.MarkStarted(ctx, s.st, rec.ID, pid, startedAt)
	if err != nil {
		return StartResult{}, fmt.Errorf("record start of agent %s: %w", rec.ID, err)
	}
	ok = true
	s.setState(rec.ID, StateRunning)
	metrics.IncStart(rec.ID)
	s.hist.Emit(ctx, history.Event{Type: history.EventStart, OccurredAt: startedAt, AgentID: rec.ID, Handle: handle, PID: pid, Status: string(updated.Status)})
	s.log.Info("agent started", "agent", rec.ID, "handle", handle, "pid", pid)

	return StartResult{AgentID: rec.ID, Handle: handle, PID: pid, LogFile: logFile, StartedAt: startedAt, Record: updated}, nil
}

func (s *Supervisor) agentEnv(rec agent.Record) []string {
	out := []string{EnvAgentID + "=" + rec.ID}
	if s.cfg.CallbackURL != "" {
		out = append(out, EnvCallbackURL+"="+s.cfg.CallbackURL)
	}
	if rec.HasCredential() {
		out = append(out, EnvCredential+"="+rec.Credential)
	}
	return out
}

// settle waits the fixed settle delay or until ctx is done.
func (s *Supervisor) settle(ctx context.Context) {
	if s.cfg.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func truncateLog(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncate log file: %w", err)
	}
	return f.Close()
}

func (s *Supervisor) stop(ctx context.Context, rec agent.Record) (StopResult, error) {
	if prev := s.State(rec.ID); prev == StateStarting || prev == StateStopping {
		s.log.Warn("stopping agent mid-transition", "agent", rec.ID, "state", prev)
	}
	s.setState(rec.ID, StateStopping)

	s.teardown(ctx, rec)

	handle := registry.HandleFor(rec.ID)
	updated, err := store.MarkStopped(context.WithoutCancel(ctx), s.st, rec.ID, s.now())
	// The processes are gone either way; only the record write may fail.
	s.setState(rec.ID, StateStopped)
	if err != nil {
		return StopResult{}, fmt.Errorf("record stop of agent %s: %w", rec.ID, err)
	}
	metrics.IncStop(rec.ID)
	s.hist.Emit(ctx, history.Event{Type: history.EventStop, AgentID: rec.ID, Handle: handle, PID: rec.PID, Status: string(updated.Status)})
	s.log.Info("agent stopped", "agent", rec.ID, "handle", handle)
	return StopResult{AgentID: rec.ID, Handle: handle, Record: updated}, nil
}
