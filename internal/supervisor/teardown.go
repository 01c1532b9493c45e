package supervisor

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/process"
	"github.com/loykin/agentdeck/internal/registry"
)

// pidReuseSlack is how much later than the recorded start time the OS may
// report a process start before the pid is considered reused.
const pidReuseSlack = 2 * time.Second

var errPIDReused = errors.New("pid belongs to a different process")

type teardownStep struct {
	name string
	run  func(ctx context.Context, rec agent.Record) error
}

// teardown runs every cleanup step in order. A failing step never stops
// the next one.
func (s *Supervisor) teardown(ctx context.Context, rec agent.Record) {
	steps := []teardownStep{
		{name: "kill", run: s.killDirect},
		{name: "remove", run: s.removeHandle},
		{name: "sweep", run: s.sweep},
	}
	for _, st := range steps {
		if err := st.run(ctx, rec); err != nil {
			metrics.IncTeardownFailure(st.name)
			s.log.Debug("teardown step failed", "agent", rec.ID, "step", st.name, "err", err)
		}
	}
}

// killDirect signals the recorded pid's process group, then the pid alone.
func (s *Supervisor) killDirect(_ context.Context, rec agent.Record) error {
	if rec.PID <= 0 {
		return nil
	}
	if rec.StartTime != nil {
		if started, ok := process.StartTime(rec.PID); ok && started.After(rec.StartTime.Add(pidReuseSlack)) {
			return fmt.Errorf("pid %d: %w", rec.PID, errPIDReused)
		}
	}
	if err := process.KillGroup(rec.PID, syscall.SIGKILL); err != nil {
		return process.KillPID(rec.PID, syscall.SIGKILL)
	}
	return nil
}

// removeHandle deletes the manager entry, falling back to stop then delete.
func (s *Supervisor) removeHandle(ctx context.Context, rec agent.Record) error {
	handle := registry.HandleFor(rec.ID)
	err := s.mgr.Delete(ctx, handle)
	if err == nil || cerrdefs.IsNotFound(err) {
		return nil
	}
	s.log.Debug("delete failed, trying stop then delete", "handle", handle, "err", err)
	_ = s.mgr.Stop(ctx, handle)
	if err := s.mgr.Delete(ctx, handle); err != nil && !cerrdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// sweep kills leftovers whose command line names the agent's script, its
// id or the default script, restricted to the agent's directory.
func (s *Supervisor) sweep(ctx context.Context, rec agent.Record) error {
	if !s.cfg.Sweep {
		return nil
	}
	within, err := s.WorkDir(rec)
	if err != nil {
		return err
	}
	cmdline := rec.StartupCommand
	if cmdline == "" {
		cmdline = s.cfg.DefaultCommand
	}
	killed, err := s.sweeper.Sweep(ctx, process.SweepRequest{
		Patterns: []string{process.LastToken(cmdline), rec.ID, s.cfg.SweepDefaultScript},
		Within:   within,
	})
	metrics.AddSweepKills(len(killed))
	if len(killed) > 0 {
		s.log.Info("sweep killed stray processes", "agent", rec.ID, "pids", killed)
	}
	return err
}
