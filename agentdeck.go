// Package agentdeck embeds the agent console: process supervision for
// long-running agents, their sandboxed workspaces and log tails, served
// over HTTP.
package agentdeck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/agentdeck/internal/config"
	"github.com/loykin/agentdeck/internal/console"
	"github.com/loykin/agentdeck/internal/env"
	"github.com/loykin/agentdeck/internal/history"
	hfactory "github.com/loykin/agentdeck/internal/history/factory"
	"github.com/loykin/agentdeck/internal/logger"
	"github.com/loykin/agentdeck/internal/logs"
	"github.com/loykin/agentdeck/internal/metrics"
	"github.com/loykin/agentdeck/internal/procmgr"
	"github.com/loykin/agentdeck/internal/registry"
	"github.com/loykin/agentdeck/internal/server"
	"github.com/loykin/agentdeck/internal/stats"
	"github.com/loykin/agentdeck/internal/store"
	sfactory "github.com/loykin/agentdeck/internal/store/factory"
	"github.com/loykin/agentdeck/internal/supervisor"
	itls "github.com/loykin/agentdeck/internal/tls"
	"github.com/loykin/agentdeck/internal/workspace"
)

// Re-export the types embedders need. These are aliases so conversions
// are zero-cost.

type Config = config.Config

type Console = console.Console

type Action = console.Action

const (
	ActionStart   = console.ActionStart
	ActionStop    = console.ActionStop
	ActionRestart = console.ActionRestart
)

// LoadConfig reads a config file; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App is a fully wired console.
type App struct {
	cfg       *Config
	log       *slog.Logger
	logCloser io.Closer
	store     store.Store
	native    *procmgr.Native
	hist      *history.Fanout
	console   *console.Console
	router    *server.Router
}

// Open builds every component from cfg. The caller must Close the App.
func Open(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, logCloser: logCloser}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if a.store, err = sfactory.NewFromDSN(cfg.Store.DSN); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}

	sinks := make([]history.Sink, 0, len(cfg.History.Sinks))
	for _, dsn := range cfg.History.Sinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	a.hist = history.NewFanout(log.With("component", "history"), sinks...)

	var mgr procmgr.Manager
	switch cfg.Supervisor.Backend {
	case config.BackendPM2:
		mgr = procmgr.NewPM2(cfg.Supervisor.PM2Binary, cfg.Supervisor.CommandTimeout, log.With("component", "pm2"))
	default:
		a.native = procmgr.NewNative(cfg.Logs.Rotation(), cfg.Supervisor.StopGrace)
		mgr = a.native
	}
	reg := registry.New(mgr, cfg.Logs.Dir)

	e := env.New(cfg.Supervisor.UseOSEnv)
	if err := e.LoadFiles(cfg.Supervisor.EnvFiles...); err != nil {
		return nil, fmt.Errorf("env files: %w", err)
	}
	if err := e.SetPairs(cfg.Supervisor.Env); err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		WorkspaceRoot:      cfg.Workspace.Root,
		CallbackURL:        cfg.Supervisor.CallbackURL,
		DefaultCommand:     cfg.Supervisor.DefaultCommand,
		SettleDelay:        cfg.Supervisor.SettleDelay,
		Sweep:              cfg.Supervisor.Sweep,
		SweepDefaultScript: cfg.Supervisor.SweepDefaultScript,
		LockDir:            cfg.LockDir(),
		LockTimeout:        cfg.Supervisor.LockTimeout,
	}, supervisor.Deps{
		Store:    a.store,
		Manager:  mgr,
		Registry: reg,
		Env:      e,
		History:  a.hist,
		Logger:   log.With("component", "supervisor"),
	})
	if err != nil {
		return nil, err
	}
	ws, err := workspace.NewService(cfg.Workspace.Root, cfg.Workspace.Ignore, log.With("component", "workspace"))
	if err != nil {
		return nil, err
	}
	lr, err := logs.NewReader(logs.Config{
		Dir:         cfg.Logs.Dir,
		LegacyFile:  cfg.LegacyLogFile(),
		Lines:       cfg.Logs.TailLines,
		LegacyLines: cfg.Logs.LegacyTailLines,
	}, log.With("component", "logs"))
	if err != nil {
		return nil, err
	}
	deps := console.Deps{
		Store:      a.store,
		Supervisor: sup,
		Workspace:  ws,
		Logs:       lr,
		Registry:   reg,
		History:    a.hist,
		Logger:     log.With("component", "console"),
	}
	if cfg.Stats.Enabled {
		deps.Stats = stats.NewDiscord(cfg.Stats.APIBase, cfg.Stats.Timeout, log.With("component", "stats"))
	}
	if a.console, err = console.New(deps); err != nil {
		return nil, err
	}

	opts := []server.Option{server.WithLogger(log.With("component", "http"))}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Listen == "" {
			opts = append(opts, server.WithMetrics(metrics.Handler()))
		}
	}
	a.router = server.NewRouter(a.console, cfg.Server.BasePath, opts...)
	ok = true
	return a, nil
}

func (a *App) Console() *Console { return a.console }

func (a *App) Logger() *slog.Logger { return a.log }

// Handler returns the API handler for mounting in another server.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// Serve listens on cfg.Server.Listen (and the metrics address when set)
// until ctx is done, then shuts the servers down gracefully.
func (a *App) Serve(ctx context.Context) error {
	tlsCfg, err := itls.Setup(a.cfg.Server.TLS)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return err
	}
	srv := server.NewServer(a.cfg.Server.Listen, a.router)
	srv.TLSConfig = tlsCfg
	servers := []*http.Server{srv}

	errCh := make(chan error, 2)
	go func() {
		a.log.Info("serving api", "addr", ln.Addr().String(), "base_path", a.cfg.Server.BasePath, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ServeTLS(ln, "", "")
		} else {
			errCh <- srv.Serve(ln)
		}
	}()
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, ms)
		go func() {
			a.log.Info("serving metrics", "addr", a.cfg.Metrics.Listen)
			errCh <- ms.ListenAndServe()
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// Close releases the store, history sinks and log file. Natively spawned
// agents keep running unless supervisor.kill_on_exit is set.
func (a *App) Close() error {
	var errs []error
	if a.native != nil && a.cfg.Supervisor.KillOnExit {
		a.native.Shutdown()
	}
	if a.hist != nil {
		errs = append(errs, a.hist.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
