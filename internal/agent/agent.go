// Package agent holds the agent record and the rules applied when it changes.
package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
)

// Status is the operator-set or reported state of an agent. It is distinct
// from whether the OS process is actually alive.
type Status string

const (
	StatusOnline      Status = "ONLINE"
	StatusOffline     Status = "OFFLINE"
	StatusIdle        Status = "IDLE"
	StatusDND         Status = "DND"
	StatusMaintenance Status = "MAINTENANCE"
)

// ParseStatus accepts any case. An empty string returns "".
func ParseStatus(s string) (Status, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch Status(s) {
	case "", StatusOnline, StatusOffline, StatusIdle, StatusDND, StatusMaintenance:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q: %w", s, cerrdefs.ErrInvalidArgument)
}

// Record is the persisted agent. Credential never leaves the process in JSON
// and is redacted when logged.
type Record struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	DirectoryRoot  string     `json:"directory_root,omitempty"`
	StartupCommand string     `json:"startup_command,omitempty"`
	Credential     string     `json:"-"`
	Status         Status     `json:"status"`
	PresenceStatus Status     `json:"presence_status"`
	PID            int        `json:"pid,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	Ping           int        `json:"ping"`
	ServerCount    int        `json:"server_count"`
	UserCount      int        `json:"user_count"`
	CommandCount   int        `json:"command_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasCredential is exposed in API responses instead of the credential itself.
func (r Record) HasCredential() bool { return r.Credential != "" }

// LogValue implements slog.LogValuer.
func (r Record) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", r.ID),
		slog.String("name", r.Name),
		slog.String("status", string(r.Status)),
	}
	if r.PID > 0 {
		attrs = append(attrs, slog.Int("pid", r.PID))
	}
	if r.Credential != "" {
		attrs = append(attrs, slog.String("credential", "[redacted]"))
	}
	return slog.GroupValue(attrs...)
}

// Uptime is zero when the agent has no start time.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.StartTime == nil || r.StartTime.After(now) {
		return 0
	}
	return now.Sub(*r.StartTime)
}

// MarkStarted applies the fields a successful start persists.
func (r *Record) MarkStarted(pid int, at time.Time) {
	r.Status = StatusOnline
	r.PID = 0
	if pid > 0 {
		r.PID = pid
	}
	t := at
	r.StartTime = &t
	r.LastSeen = &t
}

// ClearProcess drops the process identity. A pid is only kept while the
// status is ONLINE.
func (r *Record) ClearProcess() {
	r.PID = 0
	r.StartTime = nil
}

// MarkStopped applies the terminal OFFLINE state. pid and start time are
// always cleared together with the status.
func (r *Record) MarkStopped(at time.Time) {
	r.Status = StatusOffline
	r.PresenceStatus = StatusOffline
	r.ClearProcess()
	r.Ping = 0
	t := at
	r.LastSeen = &t
}
