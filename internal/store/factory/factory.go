// Package factory picks the agent store backend from a DSN.
package factory

import (
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/loykin/agentdeck/internal/store"
	pg "github.com/loykin/agentdeck/internal/store/postgres"
	sq "github.com/loykin/agentdeck/internal/store/sqlite"
)

// NewFromDSN understands memory://, sqlite://<path>, postgres:// and
// postgresql://. Anything without a scheme is a SQLite file path.
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, fmt.Errorf("store DSN is empty: %w", cerrdefs.ErrInvalidArgument)
	}
	scheme, rest, found := strings.Cut(d, "://")
	if !found {
		return sq.New(d)
	}
	switch strings.ToLower(scheme) {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "sqlite3":
		return sq.New(rest)
	case "postgres", "postgresql":
		return pg.New(d)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q: %w", scheme, cerrdefs.ErrInvalidArgument)
	}
}
