package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/history"
	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/registry"
	"github.com/loykin/agentdeck/internal/supervisor"
)

// AgentSpec holds the operator-editable fields. Nil pointers are left
// unchanged on update.
type AgentSpec struct {
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	DirectoryRoot  *string   `json:"directory_root,omitempty"`
	StartupCommand *string   `json:"startup_command,omitempty"`
	Credential     *string   `json:"credential,omitempty"`
	// Status may only be set to an operator state (IDLE, DND,
	// MAINTENANCE). ONLINE and OFFLINE follow the process, and a stopped
	// agent can only be put in MAINTENANCE.
	Status *agent.Status `json:"status,omitempty"`
}

func (s AgentSpec) apply(r *agent.Record) error {
	if s.Name != nil {
		r.Name = strings.TrimSpace(*s.Name)
	}
	if s.Description != nil {
		r.Description = *s.Description
	}
	if s.Tags != nil {
		r.Tags = append([]string(nil), (*s.Tags)...)
	}
	if s.DirectoryRoot != nil {
		r.DirectoryRoot = strings.TrimSpace(*s.DirectoryRoot)
	}
	if s.StartupCommand != nil {
		r.StartupCommand = strings.TrimSpace(*s.StartupCommand)
	}
	if s.Credential != nil {
		r.Credential = *s.Credential
	}
	if s.Status != nil {
		switch *s.Status {
		case agent.StatusIdle, agent.StatusDND, agent.StatusMaintenance:
			if r.Status == agent.StatusOffline && s.Status.Live() {
				return fmt.Errorf("agent is stopped, cannot mark it %s: %w", *s.Status, cerrdefs.ErrFailedPrecondition)
			}
			r.Status = *s.Status
			r.ClearProcess()
		default:
			return fmt.Errorf("status %q is set by start and stop: %w", *s.Status, cerrdefs.ErrInvalidArgument)
		}
	}
	if r.Name == "" {
		return fmt.Errorf("agent name required: %w", cerrdefs.ErrInvalidArgument)
	}
	return nil
}

// CreateAgent stores a new OFFLINE agent under a fresh id. When a
// credential is given the platform counters are fetched once.
func (c *Console) CreateAgent(ctx context.Context, spec AgentSpec) (agent.Record, error) {
	now := c.now()
	rec := agent.Record{
		ID:             uuid.NewString(),
		Status:         agent.StatusOffline,
		PresenceStatus: agent.StatusOffline,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := spec.apply(&rec); err != nil {
		return agent.Record{}, err
	}
	if _, err := c.ws.For(rec.DirectoryRoot); err != nil {
		return agent.Record{}, err
	}
	c.refreshStats(ctx, &rec)
	if err := c.st.Create(ctx, rec); err != nil {
		return agent.Record{}, err
	}
	c.log.Info("agent created", "agent", rec)
	return rec, nil
}

// UpdateAgent edits the operator fields of id.
func (c *Console) UpdateAgent(ctx context.Context, id string, spec AgentSpec) (agent.Record, error) {
	if spec.DirectoryRoot != nil {
		if _, err := c.ws.For(*spec.DirectoryRoot); err != nil {
			return agent.Record{}, err
		}
	}
	var refresh bool
	rec, err := c.st.Update(ctx, id, func(r *agent.Record) error {
		if err := spec.apply(r); err != nil {
			return err
		}
		refresh = spec.Credential != nil && r.HasCredential()
		r.UpdatedAt = c.now()
		return nil
	})
	if err != nil || !refresh {
		return rec, err
	}
	// Counters are fetched outside the store transaction.
	c.refreshStats(ctx, &rec)
	return c.st.Update(ctx, id, func(r *agent.Record) error {
		r.ServerCount, r.UserCount, r.CommandCount = rec.ServerCount, rec.UserCount, rec.CommandCount
		return nil
	})
}

func (c *Console) refreshStats(ctx context.Context, rec *agent.Record) {
	if c.stat == nil || !rec.HasCredential() {
		return
	}
	s, err := c.stat.Fetch(ctx, rec.Credential)
	if err != nil {
		c.log.Warn("platform stats unavailable", "agent", rec.ID, "err", err)
		return
	}
	rec.ServerCount, rec.UserCount, rec.CommandCount = s.ServerCount, s.UserCount, s.CommandCount
}

func (c *Console) GetAgent(ctx context.Context, id string) (agent.Record, error) {
	return c.st.Get(ctx, id)
}

func (c *Console) ListAgents(ctx context.Context) ([]agent.Record, error) {
	return c.st.List(ctx)
}

// DeleteAgent stops id, best effort, and removes its record. The workspace
// is left on disk.
func (c *Console) DeleteAgent(ctx context.Context, id string) error {
	rec, err := c.st.Get(ctx, id)
	if err != nil {
		return err
	}
	if registry.ValidateID(id) == nil {
		if _, err := c.sup.Stop(ctx, rec); err != nil {
			c.log.Warn("stop before delete failed", "agent", id, "err", err)
		}
	}
	if err := c.st.Delete(ctx, id); err != nil {
		return err
	}
	c.sup.Forget(id)
	metrics.Forget(id)
	c.log.Info("agent deleted", "agent", id)
	return nil
}

// AgentStatus combines the stored record with what the process manager
// and the OS report right now.
type AgentStatus struct {
	Agent     agent.Record            `json:"agent"`
	State     supervisor.State        `json:"state"`
	Handle    string                  `json:"handle"`
	Process   *registry.Descriptor    `json:"process,omitempty"`
	Resources *metrics.ResourceSample `json:"resources,omitempty"`
	Uptime    string                  `json:"uptime"`
	History   []history.Event         `json:"history,omitempty"`
}

// statusHistory bounds the control events carried by Status.
const statusHistory = 10

func (c *Console) Status(ctx context.Context, id string) (AgentStatus, error) {
	rec, err := c.st.Get(ctx, id)
	if err != nil {
		return AgentStatus{}, err
	}
	out := AgentStatus{
		Agent:  rec,
		State:  c.sup.State(id),
		Handle: registry.HandleFor(id),
		Uptime: rec.Uptime(c.now()).Truncate(time.Second).String(),
	}
	if d, ok, err := c.reg.FindAgent(ctx, id); err != nil {
		c.log.Debug("process lookup failed", "agent", id, "err", err)
	} else if ok {
		out.Process = &d
	} else {
		d = c.reg.Describe(id)
		out.Process = &d
	}
	if events, err := c.hist.Recent(ctx, id, statusHistory); err != nil {
		c.log.Debug("history lookup failed", "agent", id, "err", err)
	} else {
		out.History = events
	}
	pid := rec.PID
	if out.Process != nil && out.Process.PID > 0 {
		pid = out.Process.PID
	}
	if pid > 0 {
		if s, err := metrics.Sample(ctx, pid); err == nil {
			metrics.SetResources(id, s)
			out.Resources = &s
		}
	}
	return out, nil
}

// Health is the console's self check.
type Health struct {
	Core      string `json:"core"`
	Database  string `json:"database"`
	LatencyMS int64  `json:"latency_ms"`
}

func (c *Console) Health(ctx context.Context) Health {
	h := Health{Core: "Operational", Database: "Operational"}
	start := time.Now()
	if err := c.st.Ping(ctx); err != nil {
		h.Database = "Degraded"
		c.log.Warn("store ping failed", "err", err)
	}
	h.LatencyMS = time.Since(start).Milliseconds()
	return h
}
