package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: keeps ":memory:" a single database and serializes
	// read-modify-write transactions
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			directory_root TEXT NOT NULL DEFAULT '',
			startup_command TEXT NOT NULL DEFAULT '',
			credential TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			presence_status TEXT NOT NULL DEFAULT '',
			pid INTEGER NULL,
			start_time TIMESTAMP NULL,
			last_seen TIMESTAMP NULL,
			ping INTEGER NOT NULL DEFAULT 0,
			server_count INTEGER NOT NULL DEFAULT 0,
			user_count INTEGER NOT NULL DEFAULT 0,
			command_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) Create(ctx context.Context, rec agent.Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agents(`+store.Columns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;`, store.Args(rec)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.AlreadyExists(rec.ID)
	}
	return nil
}

func (s *DB) Get(ctx context.Context, id string) (agent.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+store.Columns+` FROM agents WHERE id=?;`, id)
	r, err := store.ScanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Record{}, store.NotFound(id)
	}
	return r, err
}

func (s *DB) List(ctx context.Context) ([]agent.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM agents ORDER BY created_at DESC, id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]agent.Record, 0)
	for rows.Next() {
		r, err := store.ScanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DB) Update(ctx context.Context, id string, fn store.Mutator) (agent.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agent.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := store.ScanRecord(tx.QueryRowContext(ctx, `SELECT `+store.Columns+` FROM agents WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Record{}, store.NotFound(id)
	}
	if err != nil {
		return agent.Record{}, err
	}
	if err := fn(&cur); err != nil {
		return agent.Record{}, err
	}
	cur.ID = id
	args := store.Args(cur)
	// every column except id and created_at, keyed on id
	_, err = tx.ExecContext(ctx, `
		UPDATE agents SET
			name=?, description=?, tags=?, directory_root=?, startup_command=?, credential=?,
			status=?, presence_status=?, pid=?, start_time=?, last_seen=?, ping=?,
			server_count=?, user_count=?, command_count=?, updated_at=?
		WHERE id=?;`, append(append(args[1:16:16], args[17]), id)...)
	if err != nil {
		return agent.Record{}, fmt.Errorf("update agent %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return agent.Record{}, err
	}
	return cur, nil
}

func (s *DB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound(id)
	}
	return nil
}
