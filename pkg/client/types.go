package client

import "time"

// Agent mirrors the console's agent representation. The credential is
// never returned; HasCredential reports whether one is stored.
type Agent struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	DirectoryRoot  string     `json:"directory_root,omitempty"`
	StartupCommand string     `json:"startup_command,omitempty"`
	Status         string     `json:"status"`
	PresenceStatus string     `json:"presence_status"`
	PID            int        `json:"pid,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	Ping           int        `json:"ping"`
	ServerCount    int        `json:"server_count"`
	UserCount      int        `json:"user_count"`
	CommandCount   int        `json:"command_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	HasCredential  bool       `json:"has_credential"`
}

// AgentSpec is the create/update body. Nil fields are left unchanged on
// update.
type AgentSpec struct {
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	DirectoryRoot  *string   `json:"directory_root,omitempty"`
	StartupCommand *string   `json:"startup_command,omitempty"`
	Credential     *string   `json:"credential,omitempty"`
	Status         *string   `json:"status,omitempty"`
}

// Report is the heartbeat an agent sends about itself.
type Report struct {
	Status         string     `json:"status,omitempty"`
	PresenceStatus string     `json:"presence_status,omitempty"`
	Ping           int        `json:"ping"`
	ServerCount    *int       `json:"server_count,omitempty"`
	UserCount      *int       `json:"user_count,omitempty"`
	CommandCount   *int       `json:"command_count,omitempty"`
	PID            int        `json:"pid,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
}

type ControlResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Handle  string `json:"handle"`
	PID     int    `json:"pid,omitempty"`
	Agent   Agent  `json:"agent"`
}

type ProcessInfo struct {
	AgentID string `json:"agent_id"`
	Handle  string `json:"handle"`
	LogFile string `json:"log_file"`
	PID     int    `json:"pid,omitempty"`
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
}

// Event is one control event from the agent's history.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	AgentID    string    `json:"agent_id"`
	Handle     string    `json:"handle"`
	PID        int       `json:"pid,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

type AgentStatus struct {
	Agent     Agent        `json:"agent"`
	State     string       `json:"state"`
	Handle    string       `json:"handle"`
	Process   *ProcessInfo `json:"process,omitempty"`
	Resources *Resources   `json:"resources,omitempty"`
	Uptime    string       `json:"uptime"`
	History   []Event      `json:"history,omitempty"`
}

type Health struct {
	Core      string `json:"core"`
	Database  string `json:"database"`
	LatencyMS int64  `json:"latency_ms"`
}

// Logs is the tail payload. Logs is NO_LOGS_FOUND when neither the agent
// log nor the shared log exists.
type Logs struct {
	Logs   string `json:"logs"`
	Source string `json:"source"`
}

type FileEntry struct {
	Name         string    `json:"name"`
	IsDirectory  bool      `json:"isDirectory"`
	RelativePath string    `json:"relativePath"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type FileList struct {
	Files       []FileEntry `json:"files"`
	CurrentPath string      `json:"currentPath"`
}

type UploadFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type UploadResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Requested int             `json:"requested"`
	Written   int             `json:"written"`
	Failures  []UploadFailure `json:"failures,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
