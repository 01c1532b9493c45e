// Package console is the operator-facing facade. It loads agent records and
// hands them to the supervisor or to the agent's workspace.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/history"
	"github.com/loykin/agentdeck/internal/logs"
	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/registry"
	"github.com/loykin/agentdeck/internal/stats"
	"github.com/loykin/agentdeck/internal/store"
	"github.com/loykin/agentdeck/internal/supervisor"
	"github.com/loykin/agentdeck/internal/workspace"
)

// Action is a control verb.
type Action string

const (
	ActionStart   Action = "START"
	ActionStop    Action = "STOP"
	ActionRestart Action = "RESTART"
)

// ParseAction accepts any case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("invalid action %q: %w", s, cerrdefs.ErrInvalidArgument)
}

// ControlResult is returned by ControlAgent. PID is set after a start when
// it was discovered.
type ControlResult struct {
	Action Action       `json:"action"`
	Handle string       `json:"handle"`
	PID    int          `json:"pid,omitempty"`
	Agent  agent.Record `json:"agent"`
}

type Deps struct {
	Store      store.Store
	Supervisor *supervisor.Supervisor
	Workspace  *workspace.Service
	Logs       *logs.Reader
	Registry   *registry.Registry
	// Stats is optional.
	Stats   stats.Client
	History *history.Fanout
	Logger  *slog.Logger
}

type Console struct {
	st   store.Store
	sup  *supervisor.Supervisor
	ws   *workspace.Service
	logs *logs.Reader
	reg  *registry.Registry
	stat stats.Client
	hist *history.Fanout
	log  *slog.Logger
	now  func() time.Time
}

func New(d Deps) (*Console, error) {
	if d.Store == nil || d.Supervisor == nil || d.Workspace == nil || d.Logs == nil || d.Registry == nil {
		return nil, fmt.Errorf("console: missing dependency: %w", cerrdefs.ErrInvalidArgument)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Console{
		st:   d.Store,
		sup:  d.Supervisor,
		ws:   d.Workspace,
		logs: d.Logs,
		reg:  d.Registry,
		stat: d.Stats,
		hist: d.History,
		log:  d.Logger.With("component", "console"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// ControlAgent starts, stops or restarts id.
func (c *Console) ControlAgent(ctx context.Context, id string, action Action) (ControlResult, error) {
	rec, err := c.st.Get(ctx, id)
	if err != nil {
		return ControlResult{}, err
	}
	switch action {
	case ActionStart, ActionRestart:
		run := c.sup.Start
		if action == ActionRestart {
			run = c.sup.Restart
		}
		res, err := run(ctx, rec)
		if err != nil {
			return ControlResult{}, err
		}
		return ControlResult{Action: action, Handle: res.Handle, PID: res.PID, Agent: res.Record}, nil
	case ActionStop:
		res, err := c.sup.Stop(ctx, rec)
		if err != nil {
			return ControlResult{}, err
		}
		return ControlResult{Action: action, Handle: res.Handle, Agent: res.Record}, nil
	}
	return ControlResult{}, fmt.Errorf("invalid action %q: %w", action, cerrdefs.ErrInvalidArgument)
}

// Report applies a heartbeat. A reported ONLINE against a persisted
// OFFLINE is dropped and the record stays OFFLINE.
func (c *Console) Report(ctx context.Context, id string, r agent.Report) (agent.Record, error) {
	res, err := store.ApplyReport(ctx, c.st, id, r, c.now())
	if err != nil {
		return agent.Record{}, err
	}
	if res.Rejected {
		metrics.IncReportRejection()
		c.hist.Emit(ctx, history.Event{Type: history.EventReportRejected, AgentID: id, Handle: registry.HandleFor(id), PID: r.PID, Status: string(res.Record.Status)})
		c.log.Info("late heartbeat ignored, agent is offline", "agent", id)
	}
	return res.Record, nil
}

// TailLog returns the recent output of id.
func (c *Console) TailLog(ctx context.Context, id string) (logs.Tail, error) {
	if _, err := c.st.Get(ctx, id); err != nil {
		return logs.Tail{}, err
	}
	return c.logs.Tail(id)
}

// FollowLog calls fn with the tail whenever it changes until ctx is done.
func (c *Console) FollowLog(ctx context.Context, id string, interval time.Duration, fn func(logs.Tail) error) error {
	if _, err := c.st.Get(ctx, id); err != nil {
		return err
	}
	return c.logs.Follow(ctx, id, interval, fn)
}
