package server

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentdeck/internal/agent"
	"github.com/loykin/agentdeck/internal/console"
	"github.com/loykin/agentdeck/internal/workspace"
)

// Router provides embeddable HTTP handlers for the agent console.
// Endpoints, relative to basePath:
//
//	GET    /health
//	GET    /agents                        POST /agents
//	GET    /agents/:id                    PUT  /agents/:id     DELETE /agents/:id
//	PATCH  /agents/:id                    heartbeat report from the agent
//	POST   /agents/:id/control            body: {"action":"START|STOP|RESTART"}
//	GET    /agents/:id/status
//	GET    /agents/:id/files?path=        POST (form) /agents/:id/files   DELETE /agents/:id/files
//	GET    /agents/:id/files/content?file=   POST /agents/:id/files/content
//	GET    /agents/:id/logs               GET  /agents/:id/logs/stream (websocket)
//
// Every /agents route is also served under /bots, the path agents call back
// to by default.
type Router struct {
	console  *console.Console
	basePath string
	metrics  http.Handler
	logger   *slog.Logger
	// streamInterval is the fallback poll interval of the log stream.
	streamInterval time.Duration
}

type Option func(*Router)

// WithMetrics serves h at {basePath}/metrics.
func WithMetrics(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/agents, /api/health, ...
func NewRouter(c *console.Console, basePath string, opts ...Option) *Router {
	r := &Router{console: c, basePath: sanitizeBase(basePath), logger: slog.Default(), streamInterval: 500 * time.Millisecond}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	for _, prefix := range []string{"/agents", "/bots"} {
		a := group.Group(prefix)
		a.GET("", r.handleListAgents)
		a.POST("", r.handleCreateAgent)
		a.GET("/:id", r.handleGetAgent)
		a.PUT("/:id", r.handleUpdateAgent)
		a.PATCH("/:id", r.handleReport)
		a.DELETE("/:id", r.handleDeleteAgent)
		a.POST("/:id/control", r.handleControl)
		a.GET("/:id/status", r.handleStatus)
		a.GET("/:id/files", r.handleListFiles)
		a.POST("/:id/files", r.handleFileAction)
		a.DELETE("/:id/files", r.handleDeleteFile)
		a.GET("/:id/files/content", r.handleReadFile)
		a.POST("/:id/files/content", r.handleWriteFile)
		a.GET("/:id/logs", r.handleLogs)
		a.GET("/:id/logs/stream", r.handleLogStream)
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Control requests include the settle delay and process manager calls.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	writeJSON(c, http.StatusOK, r.console.Health(ctx))
}

func (r *Router) handleListAgents(c *gin.Context) {
	recs, err := r.console.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]agentResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toAgentResp(rec))
	}
	writeJSON(c, http.StatusOK, out)
}

// agentResp adds has_credential; the credential itself is never returned.
type agentResp struct {
	agent.Record
	HasCredential bool `json:"has_credential"`
}

func toAgentResp(rec agent.Record) agentResp {
	return agentResp{Record: rec, HasCredential: rec.HasCredential()}
}

func (r *Router) bindSpec(c *gin.Context) (console.AgentSpec, bool) {
	var spec console.AgentSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return spec, false
	}
	return spec, true
}

func (r *Router) handleCreateAgent(c *gin.Context) {
	spec, ok := r.bindSpec(c)
	if !ok {
		return
	}
	rec, err := r.console.CreateAgent(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toAgentResp(rec))
}

func (r *Router) handleGetAgent(c *gin.Context) {
	rec, err := r.console.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toAgentResp(rec))
}

func (r *Router) handleUpdateAgent(c *gin.Context) {
	spec, ok := r.bindSpec(c)
	if !ok {
		return
	}
	rec, err := r.console.UpdateAgent(c.Request.Context(), c.Param("id"), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toAgentResp(rec))
}

func (r *Router) handleDeleteAgent(c *gin.Context) {
	if err := r.console.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Success: true})
}

// reportReq is the heartbeat body. discord_status is accepted as an alias
// of presence_status.
type reportReq struct {
	Status         string `json:"status"`
	PresenceStatus string `json:"presence_status"`
	DiscordStatus  string `json:"discord_status"`
	Ping           int    `json:"ping"`
	ServerCount    *int   `json:"server_count"`
	UserCount      *int   `json:"user_count"`
	CommandCount   *int   `json:"command_count"`
	PID            int    `json:"pid"`
	StartTime      string `json:"start_time"`
}

func (q reportReq) toReport() (agent.Report, error) {
	st, err := agent.ParseStatus(q.Status)
	if err != nil {
		return agent.Report{}, err
	}
	presence := q.PresenceStatus
	if presence == "" {
		presence = q.DiscordStatus
	}
	ps, err := agent.ParseStatus(presence)
	if err != nil {
		return agent.Report{}, err
	}
	rep := agent.Report{
		Status:         st,
		PresenceStatus: ps,
		Ping:           q.Ping,
		ServerCount:    q.ServerCount,
		UserCount:      q.UserCount,
		CommandCount:   q.CommandCount,
		PID:            q.PID,
	}
	if q.StartTime != "" {
		t, err := time.Parse(time.RFC3339Nano, q.StartTime)
		if err != nil {
			return agent.Report{}, fmt.Errorf("invalid start_time: %w", err)
		}
		t = t.UTC()
		rep.StartTime = &t
	}
	return rep, nil
}

func (r *Router) handleReport(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rep, err := req.toReport()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	rec, err := r.console.Report(c.Request.Context(), c.Param("id"), rep)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toAgentResp(rec))
}

type controlReq struct {
	Action string `json:"action"`
}

type controlResp struct {
	Success bool      `json:"success"`
	Action  string    `json:"action"`
	Handle  string    `json:"handle"`
	PID     int       `json:"pid,omitempty"`
	Agent   agentResp `json:"agent"`
}

func (r *Router) handleControl(c *gin.Context) {
	var req controlReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	action, err := console.ParseAction(req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := r.console.ControlAgent(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		r.logger.Warn("control failed", "agent", c.Param("id"), "action", action, "err", err)
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, controlResp{Success: true, Action: string(res.Action), Handle: res.Handle, PID: res.PID, Agent: toAgentResp(res.Agent)})
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.console.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type filesResp struct {
	Files       []workspace.Entry `json:"files"`
	CurrentPath string            `json:"currentPath"`
}

func (r *Router) handleListFiles(c *gin.Context) {
	p := c.Query("path")
	entries, err := r.console.ListFiles(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, filesResp{Files: entries, CurrentPath: p})
}

// handleFileAction serves the form-based actions createFile, createFolder
// and upload. Uploads send "files" and a parallel "relativePaths" list.
func (r *Router) handleFileAction(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	dir := c.PostForm("currentPath")
	switch action := c.PostForm("action"); action {
	case "createFile":
		if err := r.console.CreateEntry(ctx, id, dir, console.KindFile, c.PostForm("fileName")); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{Success: true, Message: fmt.Sprintf("File %s created", c.PostForm("fileName"))})
	case "createFolder":
		if err := r.console.CreateEntry(ctx, id, dir, console.KindFolder, c.PostForm("folderName")); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{Success: true, Message: fmt.Sprintf("Folder %s created", c.PostForm("folderName"))})
	case "upload":
		r.handleUpload(c, id, dir)
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid action"})
	}
}

type uploadResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	workspace.UploadResult
}

func (r *Router) handleUpload(c *gin.Context, id, dir string) {
	form, err := c.MultipartForm()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "multipart form required: " + err.Error()})
		return
	}
	files := form.File["files"]
	paths := form.Value["relativePaths"]
	entries := make([]workspace.UploadEntry, 0, len(files))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for i, fh := range files {
		rel := fh.Filename
		if i < len(paths) && paths[i] != "" {
			rel = paths[i]
		}
		e := workspace.UploadEntry{RelativePath: rel}
		if f, err := fh.Open(); err == nil {
			opened = append(opened, f)
			e.Content = f
		}
		entries = append(entries, e)
	}
	res, err := r.console.UploadFiles(c.Request.Context(), id, dir, entries)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, uploadResp{
		Success:      res.Written == res.Requested,
		Message:      fmt.Sprintf("%d of %d file(s) uploaded", res.Written, res.Requested),
		UploadResult: res,
	})
}

type deleteFileReq struct {
	FilePath string `json:"filePath"`
}

func (r *Router) handleDeleteFile(c *gin.Context) {
	var req deleteFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.console.DeleteEntry(c.Request.Context(), c.Param("id"), req.FilePath); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Success: true})
}

type contentResp struct {
	Content string `json:"content"`
}

func (r *Router) handleReadFile(c *gin.Context) {
	name := c.Query("file")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "file name required"})
		return
	}
	content, err := r.console.ReadFile(c.Request.Context(), c.Param("id"), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, contentResp{Content: content})
}

type writeFileReq struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

func (r *Router) handleWriteFile(c *gin.Context) {
	var req writeFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "file name required"})
		return
	}
	if err := r.console.WriteFile(c.Request.Context(), c.Param("id"), req.FileName, req.Content); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Success: true})
}
