package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/loykin/agentdeck/internal/agent"
)

// Columns is the column order shared by the SQL backends.
const Columns = `id, name, description, tags, directory_root, startup_command, credential,
	status, presence_status, pid, start_time, last_seen, ping,
	server_count, user_count, command_count, created_at, updated_at`

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanRecord reads one row selected with Columns.
func ScanRecord(sc Scanner) (agent.Record, error) {
	var (
		r         agent.Record
		tags      string
		status    string
		presence  string
		pid       sql.NullInt64
		startTime sql.NullTime
		lastSeen  sql.NullTime
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.Description, &tags, &r.DirectoryRoot, &r.StartupCommand, &r.Credential,
		&status, &presence, &pid, &startTime, &lastSeen, &r.Ping,
		&r.ServerCount, &r.UserCount, &r.CommandCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return agent.Record{}, err
	}
	r.Status = agent.Status(status)
	r.PresenceStatus = agent.Status(presence)
	if pid.Valid {
		r.PID = int(pid.Int64)
	}
	if startTime.Valid {
		t := startTime.Time
		r.StartTime = &t
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		r.LastSeen = &t
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &r.Tags)
	}
	return r, nil
}

// Args returns the values for Columns in order.
func Args(r agent.Record) []any {
	tags := ""
	if len(r.Tags) > 0 {
		b, _ := json.Marshal(r.Tags)
		tags = string(b)
	}
	var pid any
	if r.PID > 0 {
		pid = int64(r.PID)
	}
	return []any{r.ID, r.Name, r.Description, tags, r.DirectoryRoot, r.StartupCommand, r.Credential,
		string(r.Status), string(r.PresenceStatus), pid, nullTime(r.StartTime), nullTime(r.LastSeen), r.Ping,
		r.ServerCount, r.UserCount, r.CommandCount, r.CreatedAt.UTC(), r.UpdatedAt.UTC()}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
