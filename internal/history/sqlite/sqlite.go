// Package sqlite opens the SQL history sink on a SQLite file.
package sqlite

import (
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentdeck/internal/history/sqlsink"
)

// New accepts "sqlite:///path/to/file.db", "sqlite://:memory:" or a bare
// path.
func New(dsn string) (*sqlsink.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len("sqlite://") && strings.EqualFold(dsn[:len("sqlite://")], "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	return sqlsink.Open(sqlsink.SQLite, dsn)
}
