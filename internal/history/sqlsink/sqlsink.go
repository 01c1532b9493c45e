// Package sqlsink stores history events in a database/sql table. The
// sqlite and postgres sinks are thin DSN adapters over it.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/agentdeck/internal/history"
)

// Dialect covers the few spots where SQLite and PostgreSQL disagree.
type Dialect struct {
	Name string
	// Bind renders the n-th (1-based) bind parameter.
	Bind     func(n int) string
	TimeType string
	TimeNow  string
	MaxConns int
	// Init statements run at Open, ahead of the schema.
	Init []string
}

var (
	SQLite = Dialect{
		Name:     "sqlite",
		Bind:     func(int) string { return "?" },
		TimeType: "TIMESTAMP",
		TimeNow:  "(CURRENT_TIMESTAMP)",
		MaxConns: 1,
		Init:     []string{"PRAGMA busy_timeout=3000;"},
	}
	Postgres = Dialect{
		Name:     "pgx",
		Bind:     func(n int) string { return fmt.Sprintf("$%d", n) },
		TimeType: "TIMESTAMPTZ",
		TimeNow:  "NOW()",
	}
)

const table = "agent_history"

type Sink struct {
	db *sql.DB
	d  Dialect
}

// Open connects with the dialect's driver and creates the table if needed.
func Open(d Dialect, dsn string) (*Sink, error) {
	db, err := sql.Open(d.Name, dsn)
	if err != nil {
		return nil, err
	}
	if d.MaxConns > 0 {
		db.SetMaxOpenConns(d.MaxConns)
	}
	s := &Sink{db: db, d: d}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s history schema: %w", d.Name, err)
	}
	return s, nil
}

func (s *Sink) init(ctx context.Context) error {
	stmts := append([]string{}, s.d.Init...)
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS `+table+`(
			occurred_at `+s.d.TimeType+` NOT NULL DEFAULT `+s.d.TimeNow+`,
			type TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			pid INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_`+table+`_agent ON `+table+`(agent_id, occurred_at);`,
	)
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) binds(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.d.Bind(from + i)
	}
	return strings.Join(parts, ", ")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	q := `INSERT INTO ` + table + `(occurred_at, type, agent_id, handle, pid, status, error) VALUES(` + s.binds(1, 7) + `);`
	_, err := s.db.ExecContext(ctx, q, e.OccurredAt.UTC(), string(e.Type), e.AgentID, e.Handle, e.PID, e.Status, errText)
	return err
}

// Recent returns the latest events for an agent, newest first.
// A non-positive limit means 50.
func (s *Sink) Recent(ctx context.Context, agentID string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT occurred_at, type, agent_id, handle, pid, status, COALESCE(error, '')
		FROM ` + table + ` WHERE agent_id=` + s.d.Bind(1) + ` ORDER BY occurred_at DESC LIMIT ` + s.d.Bind(2) + `;`
	rows, err := s.db.QueryContext(ctx, q, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]history.Event, 0)
	for rows.Next() {
		var (
			e   history.Event
			typ string
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.AgentID, &e.Handle, &e.PID, &e.Status, &e.Error); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
