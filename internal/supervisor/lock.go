package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/gofrs/flock"

	"github.com/loykin/agentdeck/internal/registry"
)

const lockRetryDelay = 50 * time.Millisecond

// lock takes the per-agent advisory lock. It is shared with other
// agentdeck processes using the same lock directory.
func (s *Supervisor) lock(ctx context.Context, agentID string) (func(), error) {
	if s.cfg.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(s.cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(s.cfg.LockDir, registry.HandleFor(agentID)+".lock"))

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lctx, lockRetryDelay)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("agent %s is busy: %w", agentID, cerrdefs.ErrConflict)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn("unlock failed", "agent", agentID, "err", err)
		}
	}, nil
}
