package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
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
			start_time TIMESTAMPTZ NULL,
			last_seen TIMESTAMPTZ NULL,
			ping INTEGER NOT NULL DEFAULT 0,
			server_count INTEGER NOT NULL DEFAULT 0,
			user_count INTEGER NOT NULL DEFAULT 0,
			command_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *DB) Create(ctx context.Context, rec agent.Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO agents(`+store.Columns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT(id) DO NOTHING;`, store.Args(rec)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.AlreadyExists(rec.ID)
	}
	return nil
}

func (p *DB) Get(ctx context.Context, id string) (agent.Record, error) {
	r, err := store.ScanRecord(p.db.QueryRowContext(ctx, `SELECT `+store.Columns+` FROM agents WHERE id=$1;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Record{}, store.NotFound(id)
	}
	return r, err
}

func (p *DB) List(ctx context.Context) ([]agent.Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM agents ORDER BY created_at DESC, id;`)
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

// Update locks the row for the duration of the mutation so a concurrent
// stop and heartbeat serialize on the persisted status.
func (p *DB) Update(ctx context.Context, id string, fn store.Mutator) (agent.Record, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return agent.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := store.ScanRecord(tx.QueryRowContext(ctx, `SELECT `+store.Columns+` FROM agents WHERE id=$1 FOR UPDATE;`, id))
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
	_, err = tx.ExecContext(ctx, `
		UPDATE agents SET
			name=$1, description=$2, tags=$3, directory_root=$4, startup_command=$5, credential=$6,
			status=$7, presence_status=$8, pid=$9, start_time=$10, last_seen=$11, ping=$12,
			server_count=$13, user_count=$14, command_count=$15, updated_at=$16
		WHERE id=$17;`, append(append(args[1:16:16], args[17]), id)...)
	if err != nil {
		return agent.Record{}, fmt.Errorf("update agent %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return agent.Record{}, err
	}
	return cur, nil
}

func (p *DB) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM agents WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound(id)
	}
	return nil
}
