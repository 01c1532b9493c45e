// Package store persists agent records.
//
// Implementations live in sub-packages (sqlite, postgres); an in-memory
// store is provided here for tests and single-run setups. All
// read-modify-write paths go through Update, which must run the mutation
// against the currently persisted row inside one transaction.
package store

import (
	"context"
	"fmt"
	"time"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/agent"
)

// Mutator edits a record in place. Returning an error aborts the update.
type Mutator func(r *agent.Record) error

type Store interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, rec agent.Record) error
	Get(ctx context.Context, id string) (agent.Record, error)
	List(ctx context.Context) ([]agent.Record, error)
	// Update loads id, applies fn and writes the result atomically. fn owns
	// UpdatedAt.
	Update(ctx context.Context, id string, fn Mutator) (agent.Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// NotFound wraps errdefs.ErrNotFound for a missing agent id.
func NotFound(id string) error {
	return fmt.Errorf("agent %q: %w", id, cerrdefs.ErrNotFound)
}

// AlreadyExists wraps errdefs.ErrAlreadyExists for a duplicate agent id.
func AlreadyExists(id string) error {
	return fmt.Errorf("agent %q: %w", id, cerrdefs.ErrAlreadyExists)
}

// MarkStarted persists status ONLINE with pid and start time.
func MarkStarted(ctx context.Context, s Store, id string, pid int, at time.Time) (agent.Record, error) {
	return s.Update(ctx, id, func(r *agent.Record) error {
		r.MarkStarted(pid, at)
		r.UpdatedAt = at
		return nil
	})
}

// MarkStopped persists the terminal OFFLINE state.
func MarkStopped(ctx context.Context, s Store, id string, at time.Time) (agent.Record, error) {
	return s.Update(ctx, id, func(r *agent.Record) error {
		r.MarkStopped(at)
		r.UpdatedAt = at
		return nil
	})
}

// ApplyReport merges a heartbeat against the persisted record, so the
// OFFLINE rule compares with what is stored rather than what the caller saw.
func ApplyReport(ctx context.Context, s Store, id string, rep agent.Report, now time.Time) (agent.Resolution, error) {
	var res agent.Resolution
	_, err := s.Update(ctx, id, func(r *agent.Record) error {
		res = agent.ResolveReport(*r, rep, now)
		*r = res.Record
		return nil
	})
	if err != nil {
		return agent.Resolution{}, err
	}
	return res, nil
}
