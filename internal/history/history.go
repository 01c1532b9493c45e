// Package history exports agent control events to audit and analytics
// sinks.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of control event.
type EventType string

const (
	EventStart          EventType = "start"
	EventStop           EventType = "stop"
	EventSpawnFailed    EventType = "spawn_failed"
	EventReportRejected EventType = "report_rejected"
)

// Event is one control event. It never carries the agent credential.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	AgentID    string    `json:"agent_id"`
	Handle     string    `json:"handle"`
	PID        int       `json:"pid"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can read events back.
type Reader interface {
	Recent(ctx context.Context, agentID string, limit int) ([]Event, error)
}

// Fanout delivers each event to every sink. Failures are logged and never
// returned, so auditing cannot block a control operation.
type Fanout struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: log, timeout: 5 * time.Second}
}

func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Emit sends e to all sinks with a bounded timeout. A nil Fanout is a no-op.
func (f *Fanout) Emit(ctx context.Context, e Event) {
	if f == nil || len(f.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	for _, s := range f.sinks {
		if err := s.Send(ctx, e); err != nil {
			f.logger.Warn("history sink failed", "type", e.Type, "agent", e.AgentID, "err", err)
		}
	}
}

// Recent reads agentID's latest events, newest first, from the first sink
// that implements Reader. Without one it returns nothing.
func (f *Fanout) Recent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	if f == nil {
		return nil, nil
	}
	for _, s := range f.sinks {
		if r, ok := s.(Reader); ok {
			return r.Recent(ctx, agentID, limit)
		}
	}
	return nil, nil
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
